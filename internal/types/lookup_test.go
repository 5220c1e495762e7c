package types

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestEventKind_IsFailure(t *testing.T) {
	assert.True(t, EventError.IsFailure())
	assert.True(t, EventFinalError.IsFailure())
	assert.True(t, EventFatalError.IsFailure())
	assert.False(t, EventResult.IsFailure())
	assert.False(t, EventProgress.IsFailure())
}

func TestEventKind_IsTerminal(t *testing.T) {
	assert.True(t, EventDone.IsTerminal())
	assert.True(t, EventStopped.IsTerminal())
	assert.True(t, EventFatalError.IsTerminal())
	assert.False(t, EventFinalError.IsTerminal())
	assert.False(t, EventError.IsTerminal())
}

func TestLookupEvent_String(t *testing.T) {
	e := LookupEvent{Kind: EventError, Declaration: "123", Message: "wrong code"}
	assert.Equal(t, "[ERROR] 123: wrong code", e.String())

	e = LookupEvent{Kind: EventDone, Message: "finished"}
	assert.Equal(t, "[DONE] finished", e.String())
}

func TestDeclarationTask_Validation(t *testing.T) {
	validate := validator.New()

	assert.NoError(t, validate.Struct(DeclarationTask{Number: "12345678901234"}))
	assert.Error(t, validate.Struct(DeclarationTask{Number: ""}))
	assert.Error(t, validate.Struct(DeclarationTask{Number: "12AB"}))

	task := DeclarationTask{Number: "105123456789", Row: 4}
	assert.NoError(t, task.Validate())
	task.Number = "10512-3456"
	assert.Error(t, task.Validate())
}

func TestIsResultField(t *testing.T) {
	assert.True(t, IsResultField("Tên luồng"))
	assert.False(t, IsResultField("unknown"))
}

func TestLabelRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		wantErr bool
	}{
		{"valid", "ab3de", false},
		{"too short", "abcd", true},
		{"too long", "abcdef", true},
		{"punctuation", "ab-de", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := LabelRequest{Label: tt.label}
			err := req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

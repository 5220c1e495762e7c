// Package types provides type definitions for structured data shared across the lookup, review and training flows.
package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DeclarationTask is one customs declaration number queued for lookup.
// Row is an opaque back-reference owned by whichever store produced the task (a sheet row, a DB id).
type DeclarationTask struct {
	Number string `json:"number" validate:"required,numeric"`
	Row    int    `json:"row,omitempty"`
}

// Validate validates the DeclarationTask using the validator.
func (t *DeclarationTask) Validate() error {
	validate := validator.New()
	return validate.Struct(t)
}

// EventKind tags a LookupEvent.
type EventKind string

const (
	EventProgress   EventKind = "PROGRESS"
	EventResult     EventKind = "RESULT"
	EventError      EventKind = "ERROR"
	EventFinalError EventKind = "FINAL_ERROR"
	EventFatalError EventKind = "FATAL_ERROR"
	EventStopped    EventKind = "STOPPED"
	EventDone       EventKind = "DONE"
)

// IsFailure reports whether the kind represents any failure severity.
func (k EventKind) IsFailure() bool {
	switch k {
	case EventError, EventFinalError, EventFatalError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further events follow in the batch.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventFatalError, EventStopped, EventDone:
		return true
	default:
		return false
	}
}

// LookupEvent is a single entry of the ordered event stream produced by the lookup worker.
type LookupEvent struct {
	Kind        EventKind         `json:"status"`
	Declaration string            `json:"so_tk,omitempty"`
	Message     string            `json:"message,omitempty"`
	Value       int               `json:"value,omitempty"` // percent complete, PROGRESS only
	Attempt     int               `json:"attempt,omitempty"`
	Data        map[string]string `json:"data,omitempty"` // RESULT only
}

func (e LookupEvent) String() string {
	if e.Declaration != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Declaration, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// ResultFields lists the rows the portal renders in its result table.
var ResultFields = []string{
	"Tên luồng",
	"Ngày thông quan",
	"Ngày qua khu vực giám sát",
	"Mã hải quan",
	"Tên hải quan",
	"Mã loại hình",
	"Tên loại hình",
	"Năm đăng ký",
	"Ngày đăng ký",
	"Mã đơn vị",
}

// IsResultField reports whether name is one of ResultFields.
func IsResultField(name string) bool {
	for _, f := range ResultFields {
		if f == name {
			return true
		}
	}
	return false
}

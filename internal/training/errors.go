package training

import "fmt"

// Error represents a training run that could not produce a model
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("training error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("training error: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

package archive

import "fmt"

// Error represents a failure reading or writing the failure archive or the training corpus
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("archive error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("archive error: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NameError represents an image name that does not address a file directly inside an archive directory
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid image name %q", e.Name)
}

package types

import (
	"github.com/go-playground/validator/v10"
)

// CaptchaLength is the fixed number of characters in every portal challenge.
const CaptchaLength = 5

// LabelRequest is a human-supplied label for an archived CAPTCHA the consensus vote could not settle.
type LabelRequest struct {
	Label string `json:"label" validate:"required,len=5,alphanum"`
}

// Validate validates the LabelRequest using the validator.
func (r *LabelRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ArchiveImage describes one image file in the failure archive or the training corpus.
type ArchiveImage struct {
	Name      string `json:"name"`
	Label     string `json:"label,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

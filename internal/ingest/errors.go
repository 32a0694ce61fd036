package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrMissingVideo       = errors.New("video file is required")
	ErrMissingThumbnail   = errors.New("thumbnail file is required")
	ErrMissingTitle       = errors.New("title is required")
	ErrTitleTooLong       = fmt.Errorf("title must be at most %d characters", maxTitleRunes)
	ErrDescriptionTooLong = fmt.Errorf("description must be at most %d characters", maxDescriptionRunes)
	ErrMissingCreator     = errors.New("creator is required")

	ErrTranscode = errors.New("transcode failed")
	ErrUpload    = errors.New("asset upload failed")
	ErrCatalog   = errors.New("catalog write failed")
)

// ValidationError reports a request the caller must fix. Field names the
// offending form part.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err was caused by invalid input.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

package imaging

import (
	"errors"
	"fmt"
)

// Common image normalization errors
var (
	// ErrInvalidImage is returned for nil, zero-area or undecodable page images.
	// It is fatal for the page and never retried.
	ErrInvalidImage = errors.New("invalid page image")

	// ErrInvalidConfig is returned when a PreprocessConfig fails validation.
	ErrInvalidConfig = errors.New("invalid preprocessing configuration")

	// ErrUnsupportedFormat is returned when the input is not a known raster format.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// ImageError wraps errors with the normalization operation that failed.
type ImageError struct {
	// Op is the operation that failed (e.g., "Normalize", "Decode").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *ImageError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("imaging: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("imaging: %s failed: %v", e.Op, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

func (e *ImageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewImageError creates a new ImageError.
func NewImageError(op string, err error, details string) *ImageError {
	return &ImageError{Op: op, Err: err, Details: details}
}

// WrapImageError wraps an error as an ImageError if it isn't already one.
func WrapImageError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var imgErr *ImageError
	if errors.As(err, &imgErr) {
		return err
	}

	return NewImageError(op, err, details)
}

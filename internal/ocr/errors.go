package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common engine errors
var (
	// ErrEngineUnavailable is returned when an engine, its model or its
	// language data is missing, or the remote service refuses the call.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")

	// ErrEngineTimeout is returned when a single engine invocation exceeds its bound.
	ErrEngineTimeout = errors.New("OCR engine timed out")

	// ErrMissingCredentials is returned when a cloud engine has no credentials configured.
	ErrMissingCredentials = errors.New("missing engine credentials: set GOOGLE_APPLICATION_CREDENTIALS, GOOGLE_CREDENTIALS or OPENAI_API_KEY")

	// ErrQuotaExceeded is returned when a cloud engine rejects the call for quota reasons.
	ErrQuotaExceeded = errors.New("OCR engine quota exceeded")

	// ErrInvalidConfiguration is returned when an EngineConfig cannot be honoured.
	ErrInvalidConfiguration = errors.New("invalid engine configuration")

	// ErrContextCanceled is returned when the caller cancels an engine call.
	ErrContextCanceled = errors.New("OCR processing was canceled")
)

// OCRError wraps errors with the engine and operation that failed.
type OCRError struct {
	// Op is the operation that failed (e.g., "Recognize", "NewDocumentAIEngine").
	Op string

	// Engine names the engine involved, if any.
	Engine string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	prefix := "ocr"
	if e.Engine != "" {
		prefix = "ocr/" + e.Engine
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s failed: %s: %v", prefix, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", prefix, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError for engine.
func NewOCRError(op, engine string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Engine:  engine,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op, engine string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err // Already wrapped
	}

	return NewOCRError(op, engine, err, details)
}

// classifyError maps a raw engine or transport error onto the engine taxonomy.
// Cloud client errors only expose their gRPC status in the message text.
func classifyError(op, engine string, err error) error {
	if err == nil {
		return nil
	}
	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	errStr := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(errStr, "DeadlineExceeded"),
		strings.Contains(errStr, "context deadline exceeded"):
		return NewOCRError(op, engine, ErrEngineTimeout, errStr)
	case errors.Is(err, context.Canceled),
		strings.Contains(errStr, "context canceled"):
		return NewOCRError(op, engine, ErrContextCanceled, errStr)
	case strings.Contains(errStr, "QUOTA_EXCEEDED"),
		strings.Contains(errStr, "RESOURCE_EXHAUSTED"),
		strings.Contains(errStr, "ResourceExhausted"):
		return NewOCRError(op, engine, errors.Join(ErrEngineUnavailable, ErrQuotaExceeded), errStr)
	case strings.Contains(errStr, "PERMISSION_DENIED"),
		strings.Contains(errStr, "PermissionDenied"),
		strings.Contains(errStr, "Unauthenticated"):
		return NewOCRError(op, engine, errors.Join(ErrEngineUnavailable, ErrMissingCredentials), errStr)
	default:
		return NewOCRError(op, engine, ErrEngineUnavailable, errStr)
	}
}

// IsTimeout reports whether err is an engine timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrEngineTimeout)
}

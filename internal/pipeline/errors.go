package pipeline

import (
	"errors"
	"fmt"
)

// Common pipeline errors
var (
	// ErrAllPassesFailed is returned when every executed pass of a page either
	// failed or produced a zero-confidence result.
	ErrAllPassesFailed = errors.New("all recognition passes failed")

	// ErrInvalidPlan is returned for empty or malformed pass plans, or when
	// no plan exists for the requested script set.
	ErrInvalidPlan = errors.New("invalid pass plan")

	// ErrNoPages is returned when a document has no pages to process.
	ErrNoPages = errors.New("document has no pages")
)

// PipelineError wraps errors with the failing operation and page.
type PipelineError struct {
	// Op is the operation that failed (e.g., "Recognize", "LoadPlans").
	Op string

	// Page is the zero-based page index, or -1 for document-level failures.
	Page int

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *PipelineError) Error() string {
	where := e.Op
	if e.Page >= 0 {
		where = fmt.Sprintf("%s page %d", e.Op, e.Page)
	}
	if e.Details != "" {
		return fmt.Sprintf("pipeline: %s failed: %s: %v", where, e.Details, e.Err)
	}
	return fmt.Sprintf("pipeline: %s failed: %v", where, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(op string, page int, err error, details string) *PipelineError {
	return &PipelineError{Op: op, Page: page, Err: err, Details: details}
}

// WrapPipelineError wraps an error as a PipelineError if it isn't already one.
func WrapPipelineError(op string, page int, err error, details string) error {
	if err == nil {
		return nil
	}

	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return err
	}

	return NewPipelineError(op, page, err, details)
}

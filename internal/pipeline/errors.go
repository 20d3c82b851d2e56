package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnsupportedStepKind is wrapped by a StepError whose step is not one
// of the package's variants.
var ErrUnsupportedStepKind = errors.New("unsupported step kind")

// StepErrorCode categorizes pipeline configuration errors.
type StepErrorCode string

const (
	// ErrCodeUnsupportedStepKind indicates a step that is not a known variant.
	ErrCodeUnsupportedStepKind StepErrorCode = "UNSUPPORTED_STEP_KIND"

	// ErrCodeIncompleteStep indicates a known variant missing its function.
	ErrCodeIncompleteStep StepErrorCode = "INCOMPLETE_STEP"
)

// StepError reports a misconfigured step. It is a programming error and
// is raised before any item is processed.
type StepError struct {
	// Code identifies the error category.
	Code StepErrorCode

	// Index is the step's position in the list.
	Index int

	// Kind is the step's Kind, or its Go type when unknown.
	Kind string

	// Name is the step's Name field, if any.
	Name string
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: step %d (%s %q)", e.Code, e.Index, e.Kind, e.Name)
	}
	return fmt.Sprintf("%s: step %d (%s)", e.Code, e.Index, e.Kind)
}

// Unwrap lets errors.Is match ErrUnsupportedStepKind.
func (e *StepError) Unwrap() error {
	if e.Code == ErrCodeUnsupportedStepKind {
		return ErrUnsupportedStepKind
	}
	return nil
}

// IsUnsupportedStepKind returns true if err is or wraps a StepError for
// an unknown step variant.
func IsUnsupportedStepKind(err error) bool {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code == ErrCodeUnsupportedStepKind
	}
	return false
}

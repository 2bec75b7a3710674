package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthenticated is returned when an operation needs a signed-in identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrSessionLoading is returned while the identity provider has not reported yet.
var ErrSessionLoading = errors.New("session still loading")

// ValidationError reports caption input that does not have the required shape.
// It is always raised before any call to the model.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// GenerationError reports a failed model call or a model output that does not
// conform to CaptionResponse. It is terminal for the request.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generation: " + e.Reason
	}
	return fmt.Sprintf("generation: %s: %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write of a follow change to the remote store.
// It is logged, never surfaced to the UI flow.
type PersistenceError struct {
	Op     string
	Target UserID
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err (or anything it wraps) is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsGeneration reports whether err (or anything it wraps) is a *GenerationError.
func IsGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

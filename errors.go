package trihard

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIterations is returned when the iteration count is not positive.
	ErrInvalidIterations = errors.New("iterations must be positive")

	// ErrAlreadyRan is returned when Run is called on a trainer that has
	// already run to completion.
	ErrAlreadyRan = errors.New("trainer has already run")
)

// InvalidResumeError indicates a resume state that does not fit the trainer
// configuration.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type InvalidResumeError struct {
	Reason string
	cause  error
}

func (e *InvalidResumeError) Error() string {
	return fmt.Sprintf("invalid resume state: %s", e.Reason)
}

func (e *InvalidResumeError) Unwrap() error { return e.cause }

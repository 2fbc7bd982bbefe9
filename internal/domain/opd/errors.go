package opd

import (
	"errors"
	"fmt"
)

// Error classes surfaced by the queue service. Handlers map them to HTTP
// status codes with errors.Is; the wrapped detail is logged, not returned.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrStorage           = errors.New("storage failure")
	// ErrInconsistentState means a patient's waiting token sits behind the
	// doctor's current token, which correct allocation never produces.
	ErrInconsistentState = errors.New("inconsistent queue state")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

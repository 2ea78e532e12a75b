package account

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no account matches the id.
	ErrNotFound = errors.New("account not found")
	// ErrConflict is returned when an account with the same email exists.
	ErrConflict = errors.New("account already exists")
	// ErrEmailTaken is the store-level unique email violation.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", ErrConflict)

	// ErrBadRequest classifies caller errors.
	ErrBadRequest   = errors.New("bad request")
	ErrBadField     = fmt.Errorf("%w: unknown or invalid field", ErrBadRequest)
	ErrMissingField = fmt.Errorf("%w: missing required field", ErrBadRequest)
	ErrInvalidID    = fmt.Errorf("%w: invalid account id", ErrBadRequest)

	// ErrUnavailable means the store could not be reached in time. It is
	// safe to retry.
	ErrUnavailable = errors.New("account store unavailable")
)

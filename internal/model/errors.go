package model

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("%w: ...") and
// classify with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrMarketNotOpen       = errors.New("market is not open")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrConflict            = errors.New("already exists")

	// ErrLockTimeout is transient: the critical section could not be
	// entered in time and nothing was applied. Safe to retry.
	ErrLockTimeout = errors.New("lock timeout")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrDuplicate indicates a ledger entry already exists
	ErrDuplicate = errors.New("duplicate entry")

	// ErrCancelled indicates an operation was interrupted by the user
	ErrCancelled = errors.New("cancelled")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

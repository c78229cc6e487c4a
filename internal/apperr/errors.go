// Package apperr defines the sentinel errors shared across the memory core.
package apperr

import "errors"

var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing domain, item, or memory file.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a unique-constraint violation (e.g. domain name).
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict marks an operation blocked by existing state, such as
	// deleting a domain that still owns items without the force flag.
	ErrConflict = errors.New("conflict")
	// ErrInvalidName marks a file or note name that escapes the memory root
	// or contains illegal characters. Raised before any filesystem operation.
	ErrInvalidName = errors.New("invalid name")
	// ErrConfirmationRequired marks a destructive operation attempted
	// without its explicit confirmation flag.
	ErrConfirmationRequired = errors.New("confirmation required")
)

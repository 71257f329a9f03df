package memory

import "errors"

var (
	// ErrNotFound indicates the memory id does not exist for the user.
	ErrNotFound = errors.New("memory not found")

	// ErrValidation indicates a malformed argument or record.
	ErrValidation = errors.New("invalid memory argument")

	// ErrTenancy indicates an operation would cross user boundaries.
	// This is fatal at the call site and never recovered.
	ErrTenancy = errors.New("operation crosses user boundary")
)

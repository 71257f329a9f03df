package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityMissing indicates memory or vector operations were
	// requested from a backend that does not implement them. This is a
	// programming error, not a runtime condition.
	ErrCapabilityMissing = errors.New("storage backend lacks requested capability")

	// ErrDecode indicates a persisted row could not be parsed. Reads log
	// and skip; writes surface it.
	ErrDecode = errors.New("failed to decode stored value")

	// ErrClosed indicates the provider was already destroyed.
	ErrClosed = errors.New("storage provider is closed")
)

// DecodeError wraps a decode failure with the offending key.
func DecodeError(key string, err error) error {
	return fmt.Errorf("%w: key %q: %v", ErrDecode, key, err)
}

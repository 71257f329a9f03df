// Package storage defines the pluggable persistence contract: key/value
// and list operations with namespacing and TTL, plus capability probes
// for backends that additionally support memory and vector operations.
//
// Absent values are nil-returning, never error-raising. Values round-trip
// through JSON, so callers always read back the generic decoded form
// (map[string]any, []any, float64, string, bool) regardless of what Go
// type they wrote.
package storage

import (
	"context"

	"github.com/agentdock/agentdock-core/pkg/memory"
)

// Options adjusts a single storage operation. A nil *Options is valid
// and means "defaults".
type Options struct {
	// Namespace scopes the effective key; the provider prepends it.
	// Overrides the provider's construction-time namespace when set.
	Namespace string

	// TTLSeconds sets an absolute expiry at now + TTLSeconds. Zero means
	// no expiry.
	TTLSeconds int

	// Metadata is carried alongside the value where the backend can
	// store it. Backends that cannot ignore it.
	Metadata map[string]any
}

// Provider is the contract every storage backend implements.
//
// All operations are safe for concurrent use. Get-like operations
// return nil (not an error) for absent or expired keys.
type Provider interface {
	// Get returns the value for key, or nil when absent.
	Get(ctx context.Context, key string, opts *Options) (any, error)

	// Set writes a value, replacing any existing one.
	Set(ctx context.Context, key string, value any, opts *Options) error

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string, opts *Options) (bool, error)

	// Exists reports whether a live (non-expired) value is present.
	Exists(ctx context.Context, key string, opts *Options) (bool, error)

	// GetMany returns the present subset of keys.
	GetMany(ctx context.Context, keys []string, opts *Options) (map[string]any, error)

	// SetMany writes a batch. Atomic where the backend supports
	// transactions; otherwise applied sequentially without exposing
	// half-written records for keys already processed.
	SetMany(ctx context.Context, items map[string]any, opts *Options) error

	// DeleteMany removes a batch, returning how many keys existed.
	DeleteMany(ctx context.Context, keys []string, opts *Options) (int, error)

	// List returns all live keys with the given prefix.
	List(ctx context.Context, prefix string, opts *Options) ([]string, error)

	// GetList returns the [start, end] slice of a stored list, or nil
	// when the list does not exist. Negative end means "to the end".
	GetList(ctx context.Context, key string, start, end int, opts *Options) ([]any, error)

	// SaveList replaces a stored list wholesale.
	SaveList(ctx context.Context, key string, values []any, opts *Options) error

	// DeleteList removes a list, reporting whether it existed.
	DeleteList(ctx context.Context, key string, opts *Options) (bool, error)

	// Clear removes every key and list in the provider's default
	// namespace, or only those whose key starts with prefix.
	Clear(ctx context.Context, prefix string) error

	// AsMemory exposes the memory capability, or nil when the backend
	// does not support it.
	AsMemory() memory.Operations

	// AsVector exposes the vector-augmented memory capability, or nil.
	AsVector() memory.VectorOperations

	// Name identifies the backend implementation.
	Name() string

	// Destroy flushes and releases all resources. The provider is
	// unusable afterwards.
	Destroy(ctx context.Context) error
}

// Package provider abstracts configuration sources.
//
// A Provider hands the loader raw bytes and, where the source supports
// it, a change notification channel for hot reload.
package provider

import (
	"context"
	"fmt"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile   Type = "file"
	TypeInline Type = "inline"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "inline":
		return TypeInline, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging/debugging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives a value whenever the source
	// changes. Providers that cannot watch return (nil, nil).
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases resources held by the provider.
	Close() error
}

// InlineProvider serves a fixed byte slice. Used in tests and by
// callers that assemble configuration programmatically.
type InlineProvider struct {
	data []byte
}

// NewInlineProvider creates a provider over in-memory bytes.
func NewInlineProvider(data []byte) *InlineProvider {
	return &InlineProvider{data: data}
}

func (p *InlineProvider) Type() Type { return TypeInline }

func (p *InlineProvider) Load(ctx context.Context) ([]byte, error) {
	return p.data, nil
}

func (p *InlineProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	return nil, nil
}

func (p *InlineProvider) Close() error { return nil }

var _ Provider = (*InlineProvider)(nil)

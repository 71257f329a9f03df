// Package vector provides a unified abstraction over vector databases.
//
// Providers store fixed-dimension embeddings in named collections and
// answer cosine-similarity queries with optional metadata filtering.
// Embeddings are computed externally (see pkg/embedder); providers only
// store and search pre-computed vectors.
package vector

import (
	"context"
	"fmt"
)

// Provider is the contract every vector backend implements.
type Provider interface {
	// Upsert adds or updates a document with its pre-computed vector.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Search finds the topK most similar vectors in a collection.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines vector similarity with metadata filtering.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes a document by ID.
	Delete(ctx context.Context, collection string, id string) error

	// DeleteByFilter removes all documents matching the filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// CreateCollection creates a collection with the given vector dimension.
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Name returns the provider implementation name.
	Name() string

	// Close releases resources held by the provider.
	Close() error
}

// Result is a single similarity search hit.
type Result struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Content  string         `json:"content"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// NilProvider is a Provider that rejects every operation.
// Returned when no vector backend is configured.
type NilProvider struct{}

func (NilProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	return errNoProvider()
}

func (NilProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return nil, errNoProvider()
}

func (NilProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	return nil, errNoProvider()
}

func (NilProvider) Delete(ctx context.Context, collection string, id string) error {
	return errNoProvider()
}

func (NilProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	return errNoProvider()
}

func (NilProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	return errNoProvider()
}

func (NilProvider) DeleteCollection(ctx context.Context, collection string) error {
	return errNoProvider()
}

func (NilProvider) Name() string { return "nil" }

func (NilProvider) Close() error { return nil }

func errNoProvider() error {
	return fmt.Errorf("no vector provider configured")
}

var _ Provider = NilProvider{}

// Package embedder defines the text embedding contract used by the vector
// memory layer.
//
// Concrete provider SDKs (OpenAI, Ollama, Cohere) are external collaborators;
// the core depends only on this interface. LocalEmbedder provides a
// deterministic, dependency-free implementation for tests and zero-config
// deployments.
package embedder

import (
	"context"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to vector embeddings.
	// More efficient than calling Embed multiple times.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}

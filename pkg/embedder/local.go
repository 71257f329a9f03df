package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalEmbedder is a deterministic bag-of-words hashing embedder.
//
// It maps each token into a fixed-dimension bucket via FNV hashing and
// L2-normalizes the result, so cosine similarity reflects lexical overlap.
// It is not a semantic embedder; it exists for tests and for deployments
// that have no embedding provider configured.
type LocalEmbedder struct {
	dimension int
}

// NewLocalEmbedder creates a hashing embedder with the given dimension.
// A dimension of 0 defaults to 256.
func NewLocalEmbedder(dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &LocalEmbedder{dimension: dimension}
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%e.dimension]++
	}

	// L2 normalize
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec, nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *LocalEmbedder) Dimension() int { return e.dimension }

func (e *LocalEmbedder) Model() string { return "local-hash" }

func (e *LocalEmbedder) Close() error { return nil }

var _ Embedder = (*LocalEmbedder)(nil)

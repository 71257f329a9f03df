package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentdock/agentdock-core/pkg/embedder"
	"github.com/agentdock/agentdock-core/pkg/vector"
)

// DefaultCollection is the vector collection memories are indexed under.
const DefaultCollection = "agentdock_memories"

// VectorMemory layers vector search over a base Operations backend.
// The base backend remains the source of truth for memory rows; the
// vector provider is a secondary index that can degrade away without
// losing data.
type VectorMemory struct {
	base       Operations
	embeddings EmbeddingStore // nil when the backend cannot hold vectors
	provider   vector.Provider
	embedder   embedder.Embedder // nil when queries always arrive pre-embedded
	collection string
}

// NewVectorMemory wires a base backend to a vector provider. embStore
// and emb may be nil; the corresponding operations then return errors.
func NewVectorMemory(base Operations, embStore EmbeddingStore, provider vector.Provider, emb embedder.Embedder, collection string) *VectorMemory {
	if collection == "" {
		collection = DefaultCollection
	}
	return &VectorMemory{
		base:       base,
		embeddings: embStore,
		provider:   provider,
		embedder:   emb,
		collection: collection,
	}
}

// Base operations delegate unchanged.

func (v *VectorMemory) Store(ctx context.Context, userID, agentID string, mem *Memory) (string, error) {
	return v.base.Store(ctx, userID, agentID, mem)
}

func (v *VectorMemory) Recall(ctx context.Context, userID, agentID, query string, opts *RecallOptions) ([]*Memory, error) {
	return v.base.Recall(ctx, userID, agentID, query, opts)
}

func (v *VectorMemory) SearchByContent(ctx context.Context, userID, agentID, query string, limit int) ([]*Memory, error) {
	return v.base.SearchByContent(ctx, userID, agentID, query, limit)
}

func (v *VectorMemory) Update(ctx context.Context, userID, agentID, id string, update *Update) error {
	return v.base.Update(ctx, userID, agentID, id, update)
}

// Delete removes the memory row and best-effort removes its vector.
func (v *VectorMemory) Delete(ctx context.Context, userID, agentID, id string) error {
	if err := v.base.Delete(ctx, userID, agentID, id); err != nil {
		return err
	}
	if err := v.provider.Delete(ctx, v.collection, id); err != nil {
		slog.Warn("Failed to delete vector for memory",
			"memory_id", id,
			"error", err)
	}
	if v.embeddings != nil {
		if err := v.embeddings.DeleteEmbedding(ctx, userID, id); err != nil {
			slog.Warn("Failed to delete stored embedding",
				"memory_id", id,
				"error", err)
		}
	}
	return nil
}

func (v *VectorMemory) GetByID(ctx context.Context, userID, id string) (*Memory, error) {
	return v.base.GetByID(ctx, userID, id)
}

func (v *VectorMemory) GetStats(ctx context.Context, userID, agentID string) (*Stats, error) {
	return v.base.GetStats(ctx, userID, agentID)
}

func (v *VectorMemory) ApplyDecay(ctx context.Context, userID, agentID string, rules *DecayRules) (*DecayResult, error) {
	return v.base.ApplyDecay(ctx, userID, agentID, rules)
}

func (v *VectorMemory) CreateConnections(ctx context.Context, userID string, connections []*Connection) error {
	return v.base.CreateConnections(ctx, userID, connections)
}

func (v *VectorMemory) FindConnected(ctx context.Context, userID, memoryID string, depth int, minStrength float64) (*Graph, error) {
	return v.base.FindConnected(ctx, userID, memoryID, depth, minStrength)
}

// StoreWithEmbedding persists the memory and indexes its vector. If
// the vector upsert fails the stored row is rolled back so the two
// stores never diverge on the write path.
func (v *VectorMemory) StoreWithEmbedding(ctx context.Context, userID, agentID string, mem *Memory, embedding []float32) (string, error) {
	if len(embedding) == 0 {
		return "", fmt.Errorf("%w: embedding is required", ErrValidation)
	}

	model := "external"
	if v.embedder != nil {
		model = v.embedder.Model()
	}
	mem.Embedding = &EmbeddingRef{Model: model, Dimension: len(embedding)}

	id, err := v.base.Store(ctx, userID, agentID, mem)
	if err != nil {
		return "", err
	}
	mem.Embedding.ID = id

	err = v.provider.Upsert(ctx, v.collection, id, embedding, map[string]any{
		"memory_id": id,
		"user_id":   userID,
		"agent_id":  agentID,
		"type":      string(mem.Type),
		"content":   mem.Content,
	})
	if err != nil {
		if delErr := v.base.Delete(ctx, userID, agentID, id); delErr != nil {
			slog.Error("Failed to roll back memory after vector upsert failure",
				"memory_id", id,
				"error", delErr)
		}
		return "", fmt.Errorf("failed to index memory vector: %w", err)
	}

	if v.embeddings != nil {
		if err := v.embeddings.SaveEmbedding(ctx, userID, id, embedding, model); err != nil {
			slog.Warn("Failed to persist embedding alongside memory",
				"memory_id", id,
				"error", err)
		}
	}

	return id, nil
}

// SearchByVector runs a KNN query scoped to (userID, agentID) and
// materializes hits from the base backend. Rows that vanished from the
// base store are skipped, not surfaced as errors.
func (v *VectorMemory) SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, limit int) ([]*Memory, error) {
	results, err := v.searchRaw(ctx, userID, agentID, embedding, limit, 0)
	if err != nil {
		return nil, err
	}
	return v.materialize(ctx, userID, results), nil
}

// SearchByText embeds the query and delegates to SearchByVector.
func (v *VectorMemory) SearchByText(ctx context.Context, userID, agentID, query string, limit int) ([]*Memory, error) {
	if v.embedder == nil {
		return nil, fmt.Errorf("no embedder configured for text search")
	}
	embedding, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return v.SearchByVector(ctx, userID, agentID, embedding, limit)
}

// HybridSearch fuses the vector and lexical rankings by reciprocal
// rank fusion. Degradation ladder: vector path down → lexical results;
// lexical path down → vector results; both down → deterministic recall.
func (v *VectorMemory) HybridSearch(ctx context.Context, userID, agentID, query string, embedding []float32, opts *HybridOptions) ([]*Memory, error) {
	if opts == nil {
		opts = &HybridOptions{}
	}
	opts.SetDefaults()

	var (
		vecResults []vector.Result
		vecErr     error
	)
	if len(embedding) == 0 && v.embedder != nil {
		embedding, vecErr = v.embedder.Embed(ctx, query)
	}
	if vecErr == nil {
		if len(embedding) == 0 {
			vecErr = fmt.Errorf("no embedding available for hybrid search")
		} else {
			vecResults, vecErr = v.searchRaw(ctx, userID, agentID, embedding, opts.Limit, opts.VectorThreshold)
		}
	}

	lexResults, lexErr := v.base.SearchByContent(ctx, userID, agentID, query, opts.Limit)

	switch {
	case vecErr != nil && lexErr != nil:
		slog.Warn("Both hybrid search paths failed, falling back to deterministic recall",
			"vector_error", vecErr,
			"lexical_error", lexErr)
		return v.base.Recall(ctx, userID, agentID, query, &RecallOptions{
			Types: opts.Types,
			Limit: opts.Limit,
		})
	case vecErr != nil:
		slog.Warn("Vector search failed, returning lexical results", "error", vecErr)
		return v.filterTypes(lexResults, opts.Types), nil
	case lexErr != nil:
		slog.Warn("Lexical search failed, returning vector results", "error", lexErr)
		return v.filterTypes(v.materialize(ctx, userID, vecResults), opts.Types), nil
	}

	vecIDs := make([]string, 0, len(vecResults))
	for _, r := range vecResults {
		vecIDs = append(vecIDs, r.ID)
	}
	lexIDs := make([]string, 0, len(lexResults))
	byID := make(map[string]*Memory, len(lexResults))
	for _, m := range lexResults {
		lexIDs = append(lexIDs, m.ID)
		byID[m.ID] = m
	}

	fused := FuseRRF(
		RankedList{Weight: opts.VectorWeight, IDs: vecIDs},
		RankedList{Weight: opts.TextWeight, IDs: lexIDs},
	)

	out := make([]*Memory, 0, opts.Limit)
	for _, id := range TopIDs(fused, 0) {
		mem, ok := byID[id]
		if !ok {
			fetched, err := v.base.GetByID(ctx, userID, id)
			if err != nil || fetched == nil {
				if err != nil {
					slog.Debug("Skipping unreadable hybrid result", "memory_id", id, "error", err)
				}
				continue
			}
			mem = fetched
		}
		if len(opts.Types) > 0 && !typeIn(mem.Type, opts.Types) {
			continue
		}
		out = append(out, mem)
		if len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// FindSimilar returns the nearest neighbours of an existing memory,
// excluding the memory itself.
func (v *VectorMemory) FindSimilar(ctx context.Context, userID, memoryID string, limit int) ([]*Memory, error) {
	mem, err := v.base.GetByID(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, memoryID)
	}

	embedding, err := v.GetEmbedding(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("memory %s has no embedding", memoryID)
	}

	if limit <= 0 {
		limit = 10
	}
	neighbours, err := v.SearchByVector(ctx, userID, mem.AgentID, embedding, limit+1)
	if err != nil {
		return nil, err
	}

	out := make([]*Memory, 0, limit)
	for _, n := range neighbours {
		if n.ID == memoryID {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetEmbedding returns the stored vector for a memory.
func (v *VectorMemory) GetEmbedding(ctx context.Context, userID, memoryID string) ([]float32, error) {
	if v.embeddings == nil {
		return nil, fmt.Errorf("backend does not persist embeddings")
	}
	return v.embeddings.GetStoredEmbedding(ctx, userID, memoryID)
}

// UpdateEmbedding replaces a memory's vector in both the index and the
// embedding store.
func (v *VectorMemory) UpdateEmbedding(ctx context.Context, userID, memoryID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding is required", ErrValidation)
	}

	mem, err := v.base.GetByID(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if mem == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, memoryID)
	}

	model := "external"
	if v.embedder != nil {
		model = v.embedder.Model()
	}

	err = v.provider.Upsert(ctx, v.collection, memoryID, embedding, map[string]any{
		"memory_id": memoryID,
		"user_id":   userID,
		"agent_id":  mem.AgentID,
		"type":      string(mem.Type),
		"content":   mem.Content,
	})
	if err != nil {
		return fmt.Errorf("failed to update memory vector: %w", err)
	}

	if v.embeddings != nil {
		if err := v.embeddings.SaveEmbedding(ctx, userID, memoryID, embedding, model); err != nil {
			slog.Warn("Failed to persist updated embedding",
				"memory_id", memoryID,
				"error", err)
		}
	}

	ref := &EmbeddingRef{ID: memoryID, Model: model, Dimension: len(embedding)}
	return v.base.Update(ctx, userID, mem.AgentID, memoryID, &Update{Embedding: ref})
}

func (v *VectorMemory) searchRaw(ctx context.Context, userID, agentID string, embedding []float32, limit int, threshold float64) ([]vector.Result, error) {
	results, err := v.provider.SearchWithFilter(ctx, v.collection, embedding, limit, map[string]any{
		"user_id":  userID,
		"agent_id": agentID,
	})
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return results, nil
	}
	filtered := results[:0]
	for _, r := range results {
		if float64(r.Score) >= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (v *VectorMemory) materialize(ctx context.Context, userID string, results []vector.Result) []*Memory {
	out := make([]*Memory, 0, len(results))
	for _, r := range results {
		mem, err := v.base.GetByID(ctx, userID, r.ID)
		if err != nil {
			slog.Debug("Skipping unreadable vector hit", "memory_id", r.ID, "error", err)
			continue
		}
		if mem == nil {
			// stale index entry
			continue
		}
		out = append(out, mem)
	}
	return out
}

func (v *VectorMemory) filterTypes(memories []*Memory, types []MemoryType) []*Memory {
	if len(types) == 0 {
		return memories
	}
	out := memories[:0]
	for _, m := range memories {
		if typeIn(m.Type, types) {
			out = append(out, m)
		}
	}
	return out
}

func typeIn(t MemoryType, types []MemoryType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

var _ VectorOperations = (*VectorMemory)(nil)

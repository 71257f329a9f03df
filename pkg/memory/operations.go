package memory

import "context"

// Operations is the memory capability a storage backend may expose.
// Every method scopes reads and writes to the owning user; crossing
// user boundaries returns ErrTenancy.
//
// GetByID returns (nil, nil) when the id does not exist — absence is
// not an error on the read path.
type Operations interface {
	// Store persists a new memory and returns its id. The backend
	// assigns the id and the created/updated timestamps.
	Store(ctx context.Context, userID, agentID string, mem *Memory) (string, error)

	// Recall runs the deterministic composite-score recall: filter per
	// opts, order by relevance, truncate to opts.Limit. Matched rows get
	// a fire-and-forget access-stat bump unless opts.SkipAccessUpdate.
	Recall(ctx context.Context, userID, agentID, query string, opts *RecallOptions) ([]*Memory, error)

	// SearchByContent is the pure lexical path: substring (or full-text
	// where the backend supports it) match on content, no score mixing.
	SearchByContent(ctx context.Context, userID, agentID, query string, limit int) ([]*Memory, error)

	// Update applies a partial patch to an existing memory.
	Update(ctx context.Context, userID, agentID, id string, update *Update) error

	// Delete removes a memory and its connections.
	Delete(ctx context.Context, userID, agentID, id string) error

	// GetByID fetches one memory, or (nil, nil) when absent.
	GetByID(ctx context.Context, userID, id string) (*Memory, error)

	// GetStats aggregates counts and importance for a user. An empty
	// agentID aggregates across all of the user's agents.
	GetStats(ctx context.Context, userID, agentID string) (*Stats, error)

	// ApplyDecay recomputes resonance for every (user, agent) memory and
	// removes non-semantic records that fall below the floor. The sweep
	// is transactional per (user, agent).
	ApplyDecay(ctx context.Context, userID, agentID string, rules *DecayRules) (*DecayResult, error)

	// CreateConnections inserts edges, deduplicating per (source, target)
	// with max-strength conflict resolution. All endpoints must belong
	// to userID.
	CreateConnections(ctx context.Context, userID string, connections []*Connection) error

	// FindConnected walks the connection graph breadth-first from
	// memoryID, bounded by depth and filtered by minStrength.
	FindConnected(ctx context.Context, userID, memoryID string, depth int, minStrength float64) (*Graph, error)
}

// VectorOperations extends Operations with embedding-aware search.
// Exposed only by backends with a vector index attached.
type VectorOperations interface {
	Operations

	// StoreWithEmbedding persists the memory together with its vector.
	// The write rolls back if the vector index rejects the upsert.
	StoreWithEmbedding(ctx context.Context, userID, agentID string, mem *Memory, embedding []float32) (string, error)

	// SearchByVector runs a KNN query filtered to (userID, agentID).
	SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, limit int) ([]*Memory, error)

	// SearchByText embeds the query and delegates to SearchByVector.
	SearchByText(ctx context.Context, userID, agentID, query string, limit int) ([]*Memory, error)

	// HybridSearch fuses vector and lexical rankings via reciprocal
	// rank fusion, falling back to whichever path survives when the
	// other errors.
	HybridSearch(ctx context.Context, userID, agentID, query string, embedding []float32, opts *HybridOptions) ([]*Memory, error)

	// FindSimilar returns the nearest neighbours of an existing memory.
	FindSimilar(ctx context.Context, userID, memoryID string, limit int) ([]*Memory, error)

	// GetEmbedding returns the stored vector for a memory, or
	// (nil, nil) when none is attached.
	GetEmbedding(ctx context.Context, userID, memoryID string) ([]float32, error)

	// UpdateEmbedding replaces the stored vector for a memory.
	UpdateEmbedding(ctx context.Context, userID, memoryID string, embedding []float32) error
}

// EmbeddingStore persists raw vectors keyed by memory id. Backends
// that can hold vectors implement this alongside Operations so the
// vector layer can round-trip embeddings without re-encoding.
type EmbeddingStore interface {
	SaveEmbedding(ctx context.Context, userID, memoryID string, embedding []float32, model string) error
	GetStoredEmbedding(ctx context.Context, userID, memoryID string) ([]float32, error)
	DeleteEmbedding(ctx context.Context, userID, memoryID string) error
}

// HybridOptions tunes a hybrid search.
type HybridOptions struct {
	// Limit caps the fused result count (default 20).
	Limit int

	// VectorWeight and TextWeight are the RRF list weights
	// (defaults 0.7 / 0.3).
	VectorWeight float64
	TextWeight   float64

	// VectorThreshold drops vector hits with cosine similarity below
	// the threshold (0 keeps everything).
	VectorThreshold float64

	// Types restricts fused results to the given tiers.
	Types []MemoryType
}

// SetDefaults applies default values.
func (o *HybridOptions) SetDefaults() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.VectorWeight == 0 && o.TextWeight == 0 {
		o.VectorWeight = 0.7
		o.TextWeight = 0.3
	}
}

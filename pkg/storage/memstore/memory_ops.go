package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentdock/agentdock-core/pkg/memory"
)

// memOps implements memory.Operations and memory.EmbeddingStore over
// in-process maps. A single mutex guards all tables, which makes every
// multi-row mutation (decay sweeps, cascading deletes) naturally
// transactional.
type memOps struct {
	nowFn func() time.Time

	mu         sync.RWMutex
	memories   map[string]*memory.Memory
	conns      map[string]map[string]*memory.Connection // source -> target -> edge
	embeddings map[string][]float32

	updater *memory.AccessUpdater
}

func newMemOps(nowFn func() time.Time) *memOps {
	return &memOps{
		nowFn:      nowFn,
		memories:   make(map[string]*memory.Memory),
		conns:      make(map[string]map[string]*memory.Connection),
		embeddings: make(map[string][]float32),
		updater:    memory.NewAccessUpdater(0, 0),
	}
}

func (m *memOps) close() {
	m.updater.Close()
}

func cloneMemory(src *memory.Memory) *memory.Memory {
	dst := *src
	if src.Keywords != nil {
		dst.Keywords = append([]string(nil), src.Keywords...)
	}
	if src.SourceMessageIDs != nil {
		dst.SourceMessageIDs = append([]string(nil), src.SourceMessageIDs...)
	}
	if src.Metadata != nil {
		dst.Metadata = make(map[string]any, len(src.Metadata))
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
	if src.Embedding != nil {
		ref := *src.Embedding
		dst.Embedding = &ref
	}
	return &dst
}

// Store persists a new memory and returns its id.
func (m *memOps) Store(ctx context.Context, userID, agentID string, mem *memory.Memory) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", memory.ErrValidation)
	}
	if mem.UserID != "" && mem.UserID != userID {
		return "", fmt.Errorf("%w: memory user %q vs caller %q", memory.ErrTenancy, mem.UserID, userID)
	}

	stored := cloneMemory(mem)
	stored.UserID = userID
	stored.AgentID = agentID
	if stored.Type == "" {
		stored.Type = memory.TypeEpisodic
	}
	if stored.Resonance == 0 {
		stored.Resonance = 1.0
	}
	if err := stored.Validate(); err != nil {
		return "", err
	}

	now := m.nowFn()
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	if stored.LastAccessedAt.IsZero() {
		stored.LastAccessedAt = now
	}

	m.mu.Lock()
	m.memories[stored.ID] = stored
	m.mu.Unlock()

	mem.ID = stored.ID
	return stored.ID, nil
}

func contentMatches(mem *memory.Memory, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(mem.Content), q) {
		return true
	}
	for _, kw := range mem.Keywords {
		if strings.Contains(q, strings.ToLower(kw)) || strings.Contains(strings.ToLower(kw), q) {
			return true
		}
	}
	return false
}

func hasAllKeywords(mem *memory.Memory, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	have := make(map[string]bool, len(mem.Keywords))
	for _, kw := range mem.Keywords {
		have[strings.ToLower(kw)] = true
	}
	for _, kw := range wanted {
		if !have[strings.ToLower(kw)] {
			return false
		}
	}
	return true
}

// Recall runs the deterministic composite-score recall.
func (m *memOps) Recall(ctx context.Context, userID, agentID, query string, opts *memory.RecallOptions) ([]*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrValidation)
	}
	if opts == nil {
		opts = &memory.RecallOptions{}
	}
	opts.SetDefaults()

	now := m.nowFn()

	m.mu.RLock()
	var matched []*memory.Memory
	for _, mem := range m.memories {
		if mem.UserID != userID || mem.AgentID != agentID {
			continue
		}
		if !opts.WantsType(mem.Type) {
			continue
		}
		if mem.Importance < opts.MinImportance || mem.Resonance < opts.MinResonance {
			continue
		}
		if !hasAllKeywords(mem, opts.Keywords) {
			continue
		}
		if opts.TimeRange != nil && !opts.TimeRange.Contains(mem.CreatedAt) {
			continue
		}
		if opts.SessionID != "" && mem.SessionID != opts.SessionID {
			continue
		}
		if !contentMatches(mem, query) {
			continue
		}
		matched = append(matched, cloneMemory(mem))
	}
	m.mu.RUnlock()

	memory.SortByRelevance(matched, now)
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	if !opts.SkipAccessUpdate && len(matched) > 0 {
		ids := make([]string, len(matched))
		for i, mem := range matched {
			ids[i] = mem.ID
		}
		m.updater.Enqueue(func(ctx context.Context) error {
			m.bumpAccess(ids)
			return nil
		})
	}

	return matched, nil
}

func (m *memOps) bumpAccess(ids []string) {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if mem, ok := m.memories[id]; ok {
			mem.AccessCount++
			mem.LastAccessedAt = now
		}
	}
}

// SearchByContent is the pure lexical path: case-insensitive substring
// match, ranked by occurrence count then recency.
func (m *memOps) SearchByContent(ctx context.Context, userID, agentID, query string, limit int) ([]*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	q := strings.ToLower(query)

	m.mu.RLock()
	var matched []*memory.Memory
	for _, mem := range m.memories {
		if mem.UserID != userID || mem.AgentID != agentID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(mem.Content), q) {
			continue
		}
		matched = append(matched, cloneMemory(mem))
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		ci := strings.Count(strings.ToLower(matched[i].Content), q)
		cj := strings.Count(strings.ToLower(matched[j].Content), q)
		if ci != cj {
			return ci > cj
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Update applies a partial patch.
func (m *memOps) Update(ctx context.Context, userID, agentID, id string, update *memory.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.memories[id]
	if !ok {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if mem.UserID != userID {
		return fmt.Errorf("%w: memory %s", memory.ErrTenancy, id)
	}

	update.Apply(mem, m.nowFn())
	return nil
}

// Delete removes a memory, its edges, and its embedding.
func (m *memOps) Delete(ctx context.Context, userID, agentID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.memories[id]
	if !ok {
		return nil
	}
	if mem.UserID != userID {
		return fmt.Errorf("%w: memory %s", memory.ErrTenancy, id)
	}

	m.deleteLocked(id)
	return nil
}

// deleteLocked removes a memory and all rows referencing it. Caller
// holds the write lock.
func (m *memOps) deleteLocked(id string) {
	delete(m.memories, id)
	delete(m.embeddings, id)
	delete(m.conns, id)
	for _, targets := range m.conns {
		delete(targets, id)
	}
}

// GetByID fetches one memory, or (nil, nil) when absent.
func (m *memOps) GetByID(ctx context.Context, userID, id string) (*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.memories[id]
	if !ok || mem.UserID != userID {
		return nil, nil
	}
	return cloneMemory(mem), nil
}

// GetStats aggregates counts and importance for a user.
func (m *memOps) GetStats(ctx context.Context, userID, agentID string) (*memory.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &memory.Stats{CountByType: make(map[memory.MemoryType]int)}
	var importanceSum float64
	for _, mem := range m.memories {
		if mem.UserID != userID {
			continue
		}
		if agentID != "" && mem.AgentID != agentID {
			continue
		}
		stats.Count++
		stats.CountByType[mem.Type]++
		importanceSum += mem.Importance
		stats.SizeBytes += int64(len(mem.Content))
	}
	if stats.Count > 0 {
		stats.AvgImportance = importanceSum / float64(stats.Count)
	}
	return stats, nil
}

// ApplyDecay recomputes resonance for every (user, agent) memory.
// The whole sweep runs under one lock acquisition, so readers never
// observe a half-applied sweep.
func (m *memOps) ApplyDecay(ctx context.Context, userID, agentID string, rules *memory.DecayRules) (*memory.DecayResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rules == nil {
		return nil, fmt.Errorf("%w: decay rules are required", memory.ErrValidation)
	}
	r := *rules
	r.SetDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}

	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()

	result := &memory.DecayResult{}
	for id, mem := range m.memories {
		if mem.UserID != userID || mem.AgentID != agentID {
			continue
		}
		result.Processed++

		next := memory.NextResonance(mem, &r, now)
		if next <= r.Floor && mem.Type != memory.TypeSemantic {
			m.deleteLocked(id)
			result.Removed++
			continue
		}
		if next != mem.Resonance {
			mem.Resonance = next
			mem.UpdatedAt = now
			result.Decayed++
		}
	}
	return result, nil
}

// CreateConnections inserts edges with max-strength deduplication.
func (m *memOps) CreateConnections(ctx context.Context, userID string, connections []*memory.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	for _, conn := range connections {
		if err := conn.Validate(); err != nil {
			return err
		}

		for _, id := range []string{conn.SourceID, conn.TargetID} {
			mem, ok := m.memories[id]
			if !ok {
				return fmt.Errorf("%w: connection endpoint %s", memory.ErrNotFound, id)
			}
			if mem.UserID != userID {
				return fmt.Errorf("%w: connection endpoint %s", memory.ErrTenancy, id)
			}
		}

		targets, ok := m.conns[conn.SourceID]
		if !ok {
			targets = make(map[string]*memory.Connection)
			m.conns[conn.SourceID] = targets
		}

		if existing, ok := targets[conn.TargetID]; ok {
			if conn.Strength > existing.Strength {
				existing.Strength = conn.Strength
			}
			continue
		}

		stored := *conn
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		targets[conn.TargetID] = &stored
	}
	return nil
}

// FindConnected walks the connection graph breadth-first from memoryID.
// Edges are followed in both directions; a visited set keeps cycles
// from looping.
func (m *memOps) FindConnected(ctx context.Context, userID, memoryID string, depth int, minStrength float64) (*memory.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seed, ok := m.memories[memoryID]
	if !ok || seed.UserID != userID {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}

	visited := map[string]bool{memoryID: true}
	frontier := []string{memoryID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, neighbour := range m.neighboursLocked(id, minStrength) {
				if visited[neighbour] {
					continue
				}
				if mem, ok := m.memories[neighbour]; !ok || mem.UserID != userID {
					continue
				}
				visited[neighbour] = true
				next = append(next, neighbour)
			}
		}
		frontier = next
	}

	graph := &memory.Graph{}
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		graph.Memories = append(graph.Memories, cloneMemory(m.memories[id]))
	}

	for source, targets := range m.conns {
		if !visited[source] {
			continue
		}
		for target, conn := range targets {
			if visited[target] && conn.Strength >= minStrength {
				edge := *conn
				graph.Connections = append(graph.Connections, &edge)
			}
		}
	}
	sort.Slice(graph.Connections, func(i, j int) bool {
		if graph.Connections[i].SourceID != graph.Connections[j].SourceID {
			return graph.Connections[i].SourceID < graph.Connections[j].SourceID
		}
		return graph.Connections[i].TargetID < graph.Connections[j].TargetID
	})

	return graph, nil
}

func (m *memOps) neighboursLocked(id string, minStrength float64) []string {
	var out []string
	for target, conn := range m.conns[id] {
		if conn.Strength >= minStrength {
			out = append(out, target)
		}
	}
	for source, targets := range m.conns {
		if conn, ok := targets[id]; ok && conn.Strength >= minStrength {
			out = append(out, source)
		}
	}
	return out
}

// SaveEmbedding stores a vector for a memory.
func (m *memOps) SaveEmbedding(ctx context.Context, userID, memoryID string, embedding []float32, model string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.memories[memoryID]
	if !ok {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}
	if mem.UserID != userID {
		return fmt.Errorf("%w: memory %s", memory.ErrTenancy, memoryID)
	}

	m.embeddings[memoryID] = append([]float32(nil), embedding...)
	return nil
}

// GetStoredEmbedding returns the vector for a memory, or (nil, nil).
func (m *memOps) GetStoredEmbedding(ctx context.Context, userID, memoryID string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.memories[memoryID]
	if !ok || mem.UserID != userID {
		return nil, nil
	}
	vec, ok := m.embeddings[memoryID]
	if !ok {
		return nil, nil
	}
	return append([]float32(nil), vec...), nil
}

// DeleteEmbedding removes the vector for a memory.
func (m *memOps) DeleteEmbedding(ctx context.Context, userID, memoryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embeddings, memoryID)
	return nil
}

var (
	_ memory.Operations     = (*memOps)(nil)
	_ memory.EmbeddingStore = (*memOps)(nil)
)

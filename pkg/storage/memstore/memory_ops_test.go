package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentdock/agentdock-core/pkg/memory"
)

func storeMemory(t *testing.T, ops memory.Operations, userID, agentID, content string, opts ...func(*memory.Memory)) string {
	t.Helper()
	mem := &memory.Memory{
		Content:    content,
		Type:       memory.TypeEpisodic,
		Importance: 0.5,
	}
	for _, opt := range opts {
		opt(mem)
	}
	id, err := ops.Store(context.Background(), userID, agentID, mem)
	require.NoError(t, err)
	return id
}

func TestStoreAndRecallRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "prefers dark roast coffee")

	results, err := ops.Recall(ctx, "alice", "agent-1", "dark roast", nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, id, results[0].ID)
	require.Equal(t, "alice", results[0].UserID)
	require.Equal(t, 1.0, results[0].Resonance, "resonance defaults to 1")
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "alpha")

	results, err := ops.Recall(ctx, "bob", "agent-1", "alpha", nil)
	require.NoError(t, err)
	require.Empty(t, results)

	stats, err := ops.GetStats(ctx, "bob", "")
	require.NoError(t, err)
	require.Zero(t, stats.Count)

	got, err := ops.GetByID(ctx, "bob", id)
	require.NoError(t, err)
	require.Nil(t, got)

	require.ErrorIs(t, ops.Delete(ctx, "bob", "agent-1", id), memory.ErrTenancy)
	require.ErrorIs(t, ops.Update(ctx, "bob", "agent-1", id, &memory.Update{}), memory.ErrTenancy)
}

func TestStoreRejectsMismatchedUser(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()

	_, err := ops.Store(context.Background(), "alice", "agent-1", &memory.Memory{
		UserID:  "bob",
		Content: "smuggled",
		Type:    memory.TypeEpisodic,
	})
	require.ErrorIs(t, err, memory.ErrTenancy)
}

func TestRecallFilters(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	storeMemory(t, ops, "alice", "agent-1", "likes espresso", func(m *memory.Memory) {
		m.Type = memory.TypeSemantic
		m.Importance = 0.9
		m.Keywords = []string{"coffee", "preference"}
	})
	storeMemory(t, ops, "alice", "agent-1", "ordered espresso yesterday", func(m *memory.Memory) {
		m.Type = memory.TypeEpisodic
		m.Importance = 0.2
		m.SessionID = "sess-1"
	})

	byTier, err := ops.Recall(ctx, "alice", "agent-1", "espresso", &memory.RecallOptions{
		Types: []memory.MemoryType{memory.TypeSemantic},
	})
	require.NoError(t, err)
	require.Len(t, byTier, 1)
	require.Equal(t, memory.TypeSemantic, byTier[0].Type)

	byImportance, err := ops.Recall(ctx, "alice", "agent-1", "espresso", &memory.RecallOptions{
		MinImportance: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, byImportance, 1)
	require.GreaterOrEqual(t, byImportance[0].Importance, 0.5)

	byKeyword, err := ops.Recall(ctx, "alice", "agent-1", "", &memory.RecallOptions{
		Keywords: []string{"coffee", "preference"},
	})
	require.NoError(t, err)
	require.Len(t, byKeyword, 1)

	bySession, err := ops.Recall(ctx, "alice", "agent-1", "", &memory.RecallOptions{
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	require.Equal(t, "sess-1", bySession[0].SessionID)
}

func TestRecallBumpsAccessStats(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "remembers things")

	_, err := ops.Recall(ctx, "alice", "agent-1", "remembers", nil)
	require.NoError(t, err)

	// the bump is fire-and-forget; wait for the worker
	require.Eventually(t, func() bool {
		mem, err := ops.GetByID(ctx, "alice", id)
		return err == nil && mem != nil && mem.AccessCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRecallSkipAccessUpdate(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "remembers things")

	_, err := ops.Recall(ctx, "alice", "agent-1", "remembers", &memory.RecallOptions{SkipAccessUpdate: true})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	mem, err := ops.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	require.Zero(t, mem.AccessCount)
}

func TestUpdatePatchesFields(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "old content")

	newContent := "new content"
	newImportance := 0.9
	require.NoError(t, ops.Update(ctx, "alice", "agent-1", id, &memory.Update{
		Content:    &newContent,
		Importance: &newImportance,
		Keywords:   []string{"tagged"},
	}))

	mem, err := ops.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	require.Equal(t, "new content", mem.Content)
	require.Equal(t, 0.9, mem.Importance)
	require.Equal(t, []string{"tagged"}, mem.Keywords)
}

func TestApplyDecayRemovesStaleWorkingMemory(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "stale scratch note", func(m *memory.Memory) {
		m.Type = memory.TypeWorking
		m.Importance = 0.1
		m.Resonance = 0.5
		m.LastAccessedAt = clock.Now().Add(-30 * 24 * time.Hour)
	})

	result, err := ops.ApplyDecay(ctx, "alice", "agent-1", &memory.DecayRules{
		Rate: 0.1, ImportanceWeight: 0, AccessBoost: 0, Floor: 0.05,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 1, result.Removed)

	mem, err := ops.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	require.Nil(t, mem)
}

func TestApplyDecayNeverRemovesSemantic(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "permanent fact", func(m *memory.Memory) {
		m.Type = memory.TypeSemantic
		m.Importance = 0
		m.Resonance = 0.001
		m.LastAccessedAt = clock.Now().Add(-365 * 24 * time.Hour)
	})

	result, err := ops.ApplyDecay(ctx, "alice", "agent-1", &memory.DecayRules{
		Rate: 1.0, Floor: 0.5,
	})
	require.NoError(t, err)
	require.Zero(t, result.Removed)

	mem, err := ops.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	require.NotNil(t, mem, "semantic memories are exempt from decay eviction")
}

func TestApplyDecayUpdatesResonance(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	ops := s.AsMemory()
	ctx := context.Background()

	id := storeMemory(t, ops, "alice", "agent-1", "active memory", func(m *memory.Memory) {
		m.Resonance = 1.0
		m.Importance = 0.8
		m.AccessCount = 5
		m.LastAccessedAt = clock.Now().Add(-2 * 24 * time.Hour)
	})

	result, err := ops.ApplyDecay(ctx, "alice", "agent-1", &memory.DecayRules{
		Rate: 0.05, ImportanceWeight: 0.1, AccessBoost: 0.05, Floor: 0.01,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Decayed)
	require.Zero(t, result.Removed)

	mem, err := ops.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	require.NotEqual(t, 1.0, mem.Resonance)
	require.Greater(t, mem.Resonance, 0.8, "importance and access reinforcement apply")
}

func TestConnectionsAndTraversal(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	a := storeMemory(t, ops, "alice", "agent-1", "memory a")
	b := storeMemory(t, ops, "alice", "agent-1", "memory b")
	c := storeMemory(t, ops, "alice", "agent-1", "memory c")
	d := storeMemory(t, ops, "alice", "agent-1", "memory d")

	require.NoError(t, ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 0.9},
		{SourceID: b, TargetID: c, Type: memory.ConnCauses, Strength: 0.8},
		{SourceID: c, TargetID: d, Type: memory.ConnRelated, Strength: 0.1}, // below filter
	}))

	graph, err := ops.FindConnected(ctx, "alice", a, 2, 0.5)
	require.NoError(t, err)

	ids := make([]string, 0, len(graph.Memories))
	for _, m := range graph.Memories {
		ids = append(ids, m.ID)
	}
	require.ElementsMatch(t, []string{a, b, c}, ids)
	require.Len(t, graph.Connections, 2)
}

func TestConnectionDepthBound(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	a := storeMemory(t, ops, "alice", "agent-1", "memory a")
	b := storeMemory(t, ops, "alice", "agent-1", "memory b")
	c := storeMemory(t, ops, "alice", "agent-1", "memory c")

	require.NoError(t, ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 1},
		{SourceID: b, TargetID: c, Type: memory.ConnRelated, Strength: 1},
	}))

	graph, err := ops.FindConnected(ctx, "alice", a, 1, 0)
	require.NoError(t, err)
	require.Len(t, graph.Memories, 2, "depth 1 reaches only direct neighbours")
}

func TestConnectionCycleSafety(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	a := storeMemory(t, ops, "alice", "agent-1", "memory a")
	b := storeMemory(t, ops, "alice", "agent-1", "memory b")

	require.NoError(t, ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 1},
		{SourceID: b, TargetID: a, Type: memory.ConnRelated, Strength: 1},
	}))

	graph, err := ops.FindConnected(ctx, "alice", a, 10, 0)
	require.NoError(t, err)
	require.Len(t, graph.Memories, 2)
}

func TestConnectionConflictKeepsMaxStrength(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	a := storeMemory(t, ops, "alice", "agent-1", "memory a")
	b := storeMemory(t, ops, "alice", "agent-1", "memory b")

	require.NoError(t, ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 0.3},
	}))
	require.NoError(t, ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 0.9},
	}))
	require.NoError(t, ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 0.5},
	}))

	graph, err := ops.FindConnected(ctx, "alice", a, 1, 0)
	require.NoError(t, err)
	require.Len(t, graph.Connections, 1)
	require.Equal(t, 0.9, graph.Connections[0].Strength)
}

func TestConnectionsRejectCrossUserEndpoints(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	a := storeMemory(t, ops, "alice", "agent-1", "alice memory")
	b := storeMemory(t, ops, "bob", "agent-1", "bob memory")

	err := ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 1},
	})
	require.ErrorIs(t, err, memory.ErrTenancy)
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	ctx := context.Background()

	storeMemory(t, ops, "alice", "agent-1", "one", func(m *memory.Memory) {
		m.Type = memory.TypeSemantic
		m.Importance = 0.8
	})
	storeMemory(t, ops, "alice", "agent-1", "two", func(m *memory.Memory) {
		m.Type = memory.TypeEpisodic
		m.Importance = 0.4
	})
	storeMemory(t, ops, "alice", "agent-2", "three", func(m *memory.Memory) {
		m.Type = memory.TypeEpisodic
		m.Importance = 0.6
	})

	all, err := ops.GetStats(ctx, "alice", "")
	require.NoError(t, err)
	require.Equal(t, 3, all.Count)
	require.Equal(t, 2, all.CountByType[memory.TypeEpisodic])
	require.InDelta(t, 0.6, all.AvgImportance, 1e-9)

	scoped, err := ops.GetStats(ctx, "alice", "agent-1")
	require.NoError(t, err)
	require.Equal(t, 2, scoped.Count)
}

func TestDeleteCascadesConnectionsAndEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ops := s.AsMemory()
	embStore := s.mem
	ctx := context.Background()

	a := storeMemory(t, ops, "alice", "agent-1", "memory a")
	b := storeMemory(t, ops, "alice", "agent-1", "memory b")

	require.NoError(t, ops.CreateConnections(ctx, "alice", []*memory.Connection{
		{SourceID: a, TargetID: b, Type: memory.ConnRelated, Strength: 1},
	}))
	require.NoError(t, embStore.SaveEmbedding(ctx, "alice", a, []float32{1, 2}, "test"))

	require.NoError(t, ops.Delete(ctx, "alice", "agent-1", a))

	graph, err := ops.FindConnected(ctx, "alice", b, 2, 0)
	require.NoError(t, err)
	require.Len(t, graph.Memories, 1)
	require.Empty(t, graph.Connections)

	vec, err := embStore.GetStoredEmbedding(ctx, "alice", a)
	require.NoError(t, err)
	require.Nil(t, vec)
}

package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/storage/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, cfg *config.SessionConfig) (*Manager, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	store := memstore.New(memstore.WithClock(clock.Now))
	t.Cleanup(func() {
		_ = store.Destroy(context.Background())
	})

	m := NewManager(store, cfg, WithClock(clock.Now))
	t.Cleanup(m.Close)
	return m, clock
}

func TestGetOrCreateRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	state, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", state.ID)
	require.Empty(t, state.ActiveStep)
	require.False(t, state.CreatedAt.IsZero())

	// A second call returns the persisted record, not a fresh one.
	_, err = m.SetActiveStep(ctx, "sess-1", "research")
	require.NoError(t, err)

	state, err = m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "research", state.ActiveStep)
}

func TestGetOrCreateRequiresID(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.GetOrCreate(context.Background(), "")
	require.Error(t, err)
}

func TestUpdateSerializesConcurrentWrites(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := m.AddTokenUsage(ctx, "sess-1", 10, 5)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, writers*10, state.CumulativeTokenUsage.Prompt)
	require.Equal(t, writers*5, state.CumulativeTokenUsage.Completion)
	require.Equal(t, writers*15, state.CumulativeTokenUsage.Total)
}

func TestSetActiveStepKeepsSequenceCursor(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Update(ctx, "sess-1", func(s *State) {
		s.ActiveStep = "research"
		s.SequenceIndex = 3
	})
	require.NoError(t, err)

	// The cursor never rewinds on a step change, only on ResetState.
	state, err := m.SetActiveStep(ctx, "sess-1", "write")
	require.NoError(t, err)
	require.Equal(t, "write", state.ActiveStep)
	require.Equal(t, 3, state.SequenceIndex)
}

func TestSessionExpiresAfterIdleTTL(t *testing.T) {
	m, clock := newTestManager(t, &config.SessionConfig{TTL: 30 * time.Minute})
	ctx := context.Background()

	_, err := m.SetActiveStep(ctx, "sess-1", "research")
	require.NoError(t, err)

	// Activity inside the TTL window keeps the session alive.
	clock.Advance(20 * time.Minute)
	state, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "research", state.ActiveStep)

	// GetOrCreate restarts the idle window only on writes; after a full
	// TTL of silence the session reads as absent and is recreated fresh.
	clock.Advance(31 * time.Minute)
	state, err = m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, state.ActiveStep)
	require.Equal(t, clock.Now(), state.CreatedAt)
}

func TestUpdateRestartsIdleTTL(t *testing.T) {
	m, clock := newTestManager(t, &config.SessionConfig{TTL: 30 * time.Minute})
	ctx := context.Background()

	_, err := m.SetActiveStep(ctx, "sess-1", "research")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		clock.Advance(20 * time.Minute)
		_, err = m.AddTokenUsage(ctx, "sess-1", 1, 1)
		require.NoError(t, err)
	}

	state, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "research", state.ActiveStep)
	require.Equal(t, 4, state.CumulativeTokenUsage.Prompt)
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	m, clock := newTestManager(t, &config.SessionConfig{TTL: 30 * time.Minute})
	ctx := context.Background()

	_, err := m.SetActiveStep(ctx, "stale", "research")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, err = m.SetActiveStep(ctx, "active", "write")
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	m.sweepExpired()

	// The stale session is gone; the active one survives.
	state, err := m.GetOrCreate(ctx, "stale")
	require.NoError(t, err)
	require.Empty(t, state.ActiveStep)

	state, err = m.GetOrCreate(ctx, "active")
	require.NoError(t, err)
	require.Equal(t, "write", state.ActiveStep)
}

func TestResetStateKeepsAccounting(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Update(ctx, "sess-1", func(s *State) {
		s.ActiveStep = "research"
		s.SequenceIndex = 2
		s.RecentlyUsedTools = []string{"search", "browse"}
		s.CumulativeTokenUsage.Add(100, 50)
	})
	require.NoError(t, err)

	state, err := m.ResetState(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, state.ActiveStep)
	require.Equal(t, 0, state.SequenceIndex)
	require.Empty(t, state.RecentlyUsedTools)
	require.Equal(t, 150, state.CumulativeTokenUsage.Total)
}

func TestCleanupSession(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.SetActiveStep(ctx, "sess-1", "research")
	require.NoError(t, err)

	require.NoError(t, m.CleanupSession(ctx, "sess-1"))

	state, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, state.ActiveStep)
}

func TestAIViewProjectsPublicSubset(t *testing.T) {
	state := &State{
		ID:                "sess-1",
		ActiveStep:        "research",
		SequenceIndex:     3,
		RecentlyUsedTools: []string{"search"},
	}
	state.CumulativeTokenUsage.Add(10, 5)

	view := state.AIView()
	require.Equal(t, "sess-1", view.SessionID)
	require.Equal(t, "research", view.ActiveStep)
	require.Equal(t, 3, view.SequenceIndex)
	require.Equal(t, []string{"search"}, view.RecentlyUsedTools)
	require.Equal(t, 15, view.TokenUsage.Total)

	// Timestamps are internal bookkeeping and never serialize out.
	raw, err := json.Marshal(view)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "created_at")
	require.NotContains(t, string(raw), "last_accessed")

	// The view holds a copy; mutating it never touches the state.
	view.RecentlyUsedTools[0] = "mutated"
	require.Equal(t, "search", state.RecentlyUsedTools[0])
}

func TestToAIViewDoesNotCreateSessions(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	view, err := m.ToAIView(ctx, "ghost")
	require.NoError(t, err)
	require.Nil(t, view)

	_, err = m.SetActiveStep(ctx, "sess-1", "research")
	require.NoError(t, err)

	view, err = m.ToAIView(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "research", view.ActiveStep)
}

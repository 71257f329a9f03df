package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/storage"
)

// Namespace is the storage namespace session records live in.
const Namespace = "sessions"

// Manager owns session lifecycle: creation, serialized updates, idle
// expiry, and cleanup. Every read-modify-write runs under a per-session
// mutex, so concurrent updates to the same session are linearized.
type Manager struct {
	store storage.Provider
	ttl   time.Duration
	nowFn func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// ManagerOption adjusts Manager construction.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(nowFn func() time.Time) ManagerOption {
	return func(m *Manager) { m.nowFn = nowFn }
}

// NewManager starts a session manager over the given provider. The
// sweeper runs at cfg.SweepInterval until Close.
func NewManager(store storage.Provider, cfg *config.SessionConfig, opts ...ManagerOption) *Manager {
	if cfg == nil {
		cfg = &config.SessionConfig{}
	}
	c := *cfg
	c.SetDefaults()

	m := &Manager{
		store:     store,
		ttl:       c.TTL,
		nowFn:     time.Now,
		locks:     make(map[string]*sync.Mutex),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.sweepLoop(c.SweepInterval)
	return m
}

// Close stops the sweeper. Stored sessions are left in place.
func (m *Manager) Close() {
	select {
	case <-m.sweepStop:
		return
	default:
	}
	close(m.sweepStop)
	<-m.sweepDone
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

func (m *Manager) opts() *storage.Options {
	return &storage.Options{
		Namespace:  Namespace,
		TTLSeconds: int(m.ttl.Seconds()),
	}
}

// load reads a session, or nil when absent or expired.
func (m *Manager) load(ctx context.Context, sessionID string) (*State, error) {
	raw, err := m.store.Get(ctx, sessionID, m.opts())
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}
	if raw == nil {
		return nil, nil
	}

	state, err := decodeState(raw)
	if err != nil {
		slog.Warn("Discarding undecodable session state", "session_id", sessionID, "error", err)
		return nil, nil
	}
	return state, nil
}

func (m *Manager) save(ctx context.Context, state *State) error {
	if err := m.store.Set(ctx, state.ID, state, m.opts()); err != nil {
		return fmt.Errorf("failed to save session %q: %w", state.ID, err)
	}
	return nil
}

func (m *Manager) newState(sessionID string) *State {
	now := m.nowFn()
	return &State{
		ID:           sessionID,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// GetOrCreate returns the session state, creating a fresh record when
// none exists. An expired session reads as absent and is recreated.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*State, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = m.newState(sessionID)
		if err := m.save(ctx, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Update applies fn to the session state under the session lock and
// persists the result. The session is created first when absent.
// LastAccessed is bumped and the idle TTL restarts on every update.
func (m *Manager) Update(ctx context.Context, sessionID string, fn func(*State)) (*State, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = m.newState(sessionID)
	}

	fn(state)
	state.LastAccessed = m.nowFn()

	if err := m.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetActiveStep moves the session to a new step. The sequence cursor is
// left untouched; it only rewinds on an explicit ResetState.
func (m *Manager) SetActiveStep(ctx context.Context, sessionID, step string) (*State, error) {
	return m.Update(ctx, sessionID, func(s *State) {
		s.ActiveStep = step
	})
}

// AddTokenUsage accumulates one turn's token counts.
func (m *Manager) AddTokenUsage(ctx context.Context, sessionID string, prompt, completion int) (*State, error) {
	return m.Update(ctx, sessionID, func(s *State) {
		s.CumulativeTokenUsage.Add(prompt, completion)
	})
}

// ResetState clears the orchestration fields but keeps the session
// alive with its identity and token accounting.
func (m *Manager) ResetState(ctx context.Context, sessionID string) (*State, error) {
	return m.Update(ctx, sessionID, func(s *State) {
		s.ResetOrchestration()
	})
}

// ToAIView returns the model-visible subset of the session, or nil when
// the session does not exist. Unlike GetOrCreate this never materializes
// a record.
func (m *Manager) ToAIView(ctx context.Context, sessionID string) (*AIView, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, sessionID)
	if err != nil || state == nil {
		return nil, err
	}
	return state.AIView(), nil
}

// CleanupSession removes the session record entirely.
func (m *Manager) CleanupSession(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.Delete(ctx, sessionID, m.opts()); err != nil {
		return fmt.Errorf("failed to delete session %q: %w", sessionID, err)
	}

	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer close(m.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

// sweepExpired removes sessions idle past the TTL. Storage-level expiry
// already hides them from reads; this reclaims the rows.
func (m *Manager) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	keys, err := m.store.List(ctx, "", &storage.Options{Namespace: Namespace})
	if err != nil {
		slog.Warn("Session sweep failed to list keys", "error", err)
		return
	}

	deadline := m.nowFn().Add(-m.ttl)
	removed := 0
	for _, key := range keys {
		state, err := m.load(ctx, key)
		if err != nil || state == nil {
			continue
		}
		if state.LastAccessed.Before(deadline) {
			if err := m.CleanupSession(ctx, key); err != nil {
				slog.Warn("Session sweep failed to delete", "session_id", key, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Session sweep complete", "removed", removed)
	}
}

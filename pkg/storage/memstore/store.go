// Package memstore is the in-process storage backend: a namespaced
// key/value and list store with lazy TTL expiry and a bounded periodic
// sweep, plus full memory operations. It is the zero-config default
// backend and the reference implementation the SQL backend is tested
// against.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/embedder"
	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/storage"
	"github.com/agentdock/agentdock-core/pkg/vector"
)

const defaultSweepInterval = time.Minute

type entry struct {
	value     any
	expiresAt time.Time // zero = no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type listEntry struct {
	values    []any
	expiresAt time.Time
}

func (e *listEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is the in-process storage provider.
type Store struct {
	namespace string
	nowFn     func() time.Time

	mu     sync.RWMutex
	items  map[string]*entry
	lists  map[string]*listEntry
	closed bool

	mem *memOps
	vec memory.VectorOperations

	// closers run on Destroy (owned vector provider, embedder)
	closers []func() error

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace sets the default key namespace.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithClock injects a time source. Tests use this to advance TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// WithVector attaches a vector index and embedder, enabling the vector
// capability. The store does not take ownership of either.
func WithVector(provider vector.Provider, emb embedder.Embedder) Option {
	return func(s *Store) {
		s.vec = memory.NewVectorMemory(s.mem, s.mem, provider, emb, "")
	}
}

// New creates an in-process store and starts its expiry sweeper.
func New(opts ...Option) *Store {
	s := &Store{
		nowFn:     time.Now,
		items:     make(map[string]*entry),
		lists:     make(map[string]*listEntry),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	s.mem = newMemOps(func() time.Time { return s.nowFn() })

	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop(defaultSweepInterval)
	return s
}

// FromConfig builds a store from configuration, wiring the configured
// vector provider and the built-in hashing embedder when one is set.
func FromConfig(ctx context.Context, cfg *config.StorageConfig) (*Store, error) {
	opts := []Option{WithNamespace(cfg.Namespace)}

	var closers []func() error
	if cfg.Vector != nil {
		provider, err := vector.NewProvider(cfg.Vector)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector provider: %w", err)
		}
		emb := embedder.NewLocalEmbedder(cfg.EmbedderDimension)
		opts = append(opts, WithVector(provider, emb))
		closers = append(closers, provider.Close, emb.Close)
	}

	s := New(opts...)
	s.closers = closers
	return s, nil
}

// Name returns the backend name.
func (s *Store) Name() string { return "memory" }

// AsMemory exposes the memory capability.
func (s *Store) AsMemory() memory.Operations { return s.mem }

// AsVector exposes the vector capability when configured.
func (s *Store) AsVector() memory.VectorOperations { return s.vec }

func (s *Store) effKey(key string, opts *storage.Options) string {
	ns := s.namespace
	if opts != nil && opts.Namespace != "" {
		ns = opts.Namespace
	}
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

func expiry(now time.Time, opts *storage.Options) time.Time {
	if opts == nil || opts.TTLSeconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(opts.TTLSeconds) * time.Second)
}

// normalize round-trips a value through JSON so reads always observe
// the generic decoded form, matching what SQL backends return.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the value for key, or nil when absent or expired.
func (s *Store) Get(ctx context.Context, key string, opts *storage.Options) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	e, ok := s.items[s.effKey(key, opts)]
	if !ok || e.expired(s.nowFn()) {
		return nil, nil
	}
	return e.value, nil
}

// Set writes a value.
func (s *Store) Set(ctx context.Context, key string, value any, opts *storage.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := normalize(value)
	if err != nil {
		return storage.DecodeError(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	s.items[s.effKey(key, opts)] = &entry{
		value:     normalized,
		expiresAt: expiry(s.nowFn(), opts),
	}
	return nil
}

// Delete removes a key, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string, opts *storage.Options) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}

	k := s.effKey(key, opts)
	e, ok := s.items[k]
	if !ok {
		return false, nil
	}
	delete(s.items, k)
	return !e.expired(s.nowFn()), nil
}

// Exists reports whether a live value is present.
func (s *Store) Exists(ctx context.Context, key string, opts *storage.Options) (bool, error) {
	v, err := s.Get(ctx, key, opts)
	return v != nil, err
}

// GetMany returns the present subset of keys.
func (s *Store) GetMany(ctx context.Context, keys []string, opts *storage.Options) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	now := s.nowFn()
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if e, ok := s.items[s.effKey(key, opts)]; ok && !e.expired(now) {
			out[key] = e.value
		}
	}
	return out, nil
}

// SetMany writes a batch atomically under the store lock.
func (s *Store) SetMany(ctx context.Context, items map[string]any, opts *storage.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized := make(map[string]any, len(items))
	for key, value := range items {
		v, err := normalize(value)
		if err != nil {
			return storage.DecodeError(key, err)
		}
		normalized[key] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	exp := expiry(s.nowFn(), opts)
	for key, value := range normalized {
		s.items[s.effKey(key, opts)] = &entry{value: value, expiresAt: exp}
	}
	return nil
}

// DeleteMany removes a batch, returning how many live keys existed.
func (s *Store) DeleteMany(ctx context.Context, keys []string, opts *storage.Options) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}

	now := s.nowFn()
	count := 0
	for _, key := range keys {
		k := s.effKey(key, opts)
		if e, ok := s.items[k]; ok {
			if !e.expired(now) {
				count++
			}
			delete(s.items, k)
		}
	}
	return count, nil
}

// List returns all live keys with the given prefix, namespace stripped.
func (s *Store) List(ctx context.Context, prefix string, opts *storage.Options) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	ns := s.namespace
	if opts != nil && opts.Namespace != "" {
		ns = opts.Namespace
	}
	nsPrefix := ""
	if ns != "" {
		nsPrefix = ns + ":"
	}

	now := s.nowFn()
	var keys []string
	for k, e := range s.items {
		if e.expired(now) {
			continue
		}
		if !strings.HasPrefix(k, nsPrefix) {
			continue
		}
		bare := strings.TrimPrefix(k, nsPrefix)
		if strings.HasPrefix(bare, prefix) {
			keys = append(keys, bare)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetList returns the [start, end] slice of a stored list, or nil when
// absent. Negative end means "to the end".
func (s *Store) GetList(ctx context.Context, key string, start, end int, opts *storage.Options) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	e, ok := s.lists[s.effKey(key, opts)]
	if !ok || e.expired(s.nowFn()) {
		return nil, nil
	}

	n := len(e.values)
	if start < 0 {
		start = 0
	}
	if end < 0 || end >= n {
		end = n - 1
	}
	if start > end || start >= n {
		return []any{}, nil
	}

	out := make([]any, end-start+1)
	copy(out, e.values[start:end+1])
	return out, nil
}

// SaveList replaces a stored list wholesale.
func (s *Store) SaveList(ctx context.Context, key string, values []any, opts *storage.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized := make([]any, len(values))
	for i, v := range values {
		nv, err := normalize(v)
		if err != nil {
			return storage.DecodeError(key, err)
		}
		normalized[i] = nv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	s.lists[s.effKey(key, opts)] = &listEntry{
		values:    normalized,
		expiresAt: expiry(s.nowFn(), opts),
	}
	return nil
}

// DeleteList removes a list, reporting whether it existed.
func (s *Store) DeleteList(ctx context.Context, key string, opts *storage.Options) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}

	k := s.effKey(key, opts)
	e, ok := s.lists[k]
	if !ok {
		return false, nil
	}
	delete(s.lists, k)
	return !e.expired(s.nowFn()), nil
}

// Clear removes every key and list in the default namespace, or only
// those whose key starts with prefix.
func (s *Store) Clear(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	full := s.effKey(prefix, nil)
	for k := range s.items {
		if strings.HasPrefix(k, full) {
			delete(s.items, k)
		}
	}
	for k := range s.lists {
		if strings.HasPrefix(k, full) {
			delete(s.lists, k)
		}
	}
	return nil
}

// Destroy stops the sweeper and releases everything.
func (s *Store) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.items = nil
	s.lists = nil
	s.mu.Unlock()

	close(s.sweepStop)
	<-s.sweepDone

	s.mem.close()

	var firstErr error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	now := s.nowFn()
	for k, e := range s.items {
		if e.expired(now) {
			delete(s.items, k)
		}
	}
	for k, e := range s.lists {
		if e.expired(now) {
			delete(s.lists, k)
		}
	}
}

var _ storage.Provider = (*Store)(nil)

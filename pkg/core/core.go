// Package core assembles the runtime: storage behind the factory,
// session management, step orchestration, cross-tier recall, and
// background extraction, with optional metrics on top.
package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/extraction"
	"github.com/agentdock/agentdock-core/pkg/logger"
	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/observability"
	"github.com/agentdock/agentdock-core/pkg/orchestration"
	"github.com/agentdock/agentdock-core/pkg/protocol"
	"github.com/agentdock/agentdock-core/pkg/recall"
	"github.com/agentdock/agentdock-core/pkg/session"
	"github.com/agentdock/agentdock-core/pkg/storage"
	"github.com/agentdock/agentdock-core/pkg/storage/memstore"
	"github.com/agentdock/agentdock-core/pkg/storage/sqlstore"
)

// Core owns every subsystem and exposes the turn-level API.
type Core struct {
	cfg     config.Config
	factory *storage.Factory
	store   storage.Provider
	ops     memory.Operations

	sessions      *session.Manager
	orchestration *orchestration.Manager
	recall        *recall.Service
	extraction    *extraction.Orchestrator
	metrics       *observability.Metrics

	nowFn func() time.Time
}

// Option adjusts Core construction.
type Option func(*Core)

// WithClock overrides the time source for the core and every subsystem
// it builds.
func WithClock(nowFn func() time.Time) Option {
	return func(c *Core) { c.nowFn = nowFn }
}

// WithMetrics attaches a metrics recorder. Without it the core records
// nothing.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// New builds a core from configuration. The storage backend is resolved
// through the factory, so two cores sharing a config share a provider.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	conf := *cfg
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logger.ParseLevel(conf.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(level, os.Stderr, conf.Logging.Format)

	c := &Core{
		cfg:   conf,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.factory = storage.NewFactory()
	if err := registerBackends(c.factory, c.nowFn); err != nil {
		return nil, err
	}

	store, err := c.factory.GetProvider(ctx, &conf.Storage)
	if err != nil {
		return nil, err
	}
	c.store = store

	c.ops = store.AsMemory()
	if c.ops == nil {
		return nil, fmt.Errorf("%w: %s backend has no memory operations", storage.ErrCapabilityMissing, store.Name())
	}

	c.sessions = session.NewManager(store, &conf.Session, session.WithClock(c.nowFn))
	c.orchestration = orchestration.NewManager(c.sessions, &conf.Orchestration)
	c.recall = recall.NewService(c.ops, store.AsVector(), &conf.Recall, recall.WithClock(c.nowFn))
	c.extraction = extraction.NewOrchestrator(c.ops, &conf.Extraction, extraction.WithClock(c.nowFn))

	return c, nil
}

func registerBackends(f *storage.Factory, nowFn func() time.Time) error {
	memCtor := func(ctx context.Context, cfg *config.StorageConfig) (storage.Provider, error) {
		store, err := memstore.FromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	sqlCtor := func(ctx context.Context, cfg *config.StorageConfig) (storage.Provider, error) {
		store, err := sqlstore.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	if err := f.Register(config.StorageMemory, memCtor); err != nil {
		return err
	}
	for _, t := range []config.StorageType{config.StorageSQLite, config.StoragePostgres, config.StorageMySQL} {
		if err := f.Register(t, sqlCtor); err != nil {
			return err
		}
	}
	return nil
}

// Storage exposes the underlying provider.
func (c *Core) Storage() storage.Provider { return c.store }

// Memory exposes the memory operations of the backend.
func (c *Core) Memory() memory.Operations { return c.ops }

// Sessions exposes the session manager.
func (c *Core) Sessions() *session.Manager { return c.sessions }

// Orchestration exposes the orchestration manager.
func (c *Core) Orchestration() *orchestration.Manager { return c.orchestration }

// Close shuts the subsystems down: extraction first so no more writes
// land, then sessions, storage, and metrics.
func (c *Core) Close(ctx context.Context) error {
	c.extraction.Close()
	c.sessions.Close()

	err := c.factory.Shutdown(ctx)

	if mErr := c.metrics.Shutdown(ctx); mErr != nil && err == nil {
		err = mErr
	}
	return err
}

// Recall runs a cross-tier recall and records its metrics.
func (c *Core) Recall(ctx context.Context, req *recall.Request) ([]*recall.Result, error) {
	start := c.nowFn()
	results, err := c.recall.Recall(ctx, req)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordRecall(ctx, c.nowFn().Sub(start), len(results))
	return results, nil
}

// Ingest feeds messages to the extraction pipeline.
func (c *Core) Ingest(ctx context.Context, userID, agentID string, messages []*protocol.Message) error {
	return c.extraction.Ingest(ctx, userID, agentID, messages)
}

// FlushExtraction fires the (user, agent) extraction buffer regardless
// of its size.
func (c *Core) FlushExtraction(ctx context.Context, userID, agentID string) error {
	return c.extraction.Process(ctx, userID, agentID)
}

// ApplyDecay runs one decay sweep for the (user, agent) pair under the
// configured rules.
func (c *Core) ApplyDecay(ctx context.Context, userID, agentID string) (*memory.DecayResult, error) {
	result, err := c.ops.ApplyDecay(ctx, userID, agentID, &c.cfg.Memory.Decay)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordDecay(ctx, result.Removed)
	return result, nil
}

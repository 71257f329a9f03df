package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/agentdock/agentdock-core/pkg/config"
)

// Constructor builds a provider for one backend type.
type Constructor func(ctx context.Context, cfg *config.StorageConfig) (Provider, error)

// Factory resolves storage providers by (type, namespace). The same
// pair always yields the same instance for the life of the factory;
// concurrent first requests are collapsed via singleflight so a backend
// is never constructed twice.
type Factory struct {
	mu           sync.RWMutex
	constructors map[config.StorageType]Constructor
	providers    map[string]Provider
	group        singleflight.Group
	closed       bool
}

// NewFactory creates an empty factory. Backend packages register their
// constructors against it.
func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[config.StorageType]Constructor),
		providers:    make(map[string]Provider),
	}
}

// Register adds a constructor for a backend type.
func (f *Factory) Register(t config.StorageType, ctor Constructor) error {
	if t == "" {
		return fmt.Errorf("storage type cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("constructor cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.constructors[t]; exists {
		return fmt.Errorf("storage type %q already registered", t)
	}
	f.constructors[t] = ctor
	return nil
}

// Types returns the registered backend types.
func (f *Factory) Types() []config.StorageType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]config.StorageType, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	return types
}

// GetProvider returns the provider for (cfg.Type, cfg.Namespace),
// constructing it on first use.
func (f *Factory) GetProvider(ctx context.Context, cfg *config.StorageConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage configuration is required")
	}

	key := cacheKey(cfg.Type, cfg.Namespace)

	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return nil, ErrClosed
	}
	if p, ok := f.providers[key]; ok {
		f.mu.RUnlock()
		return p, nil
	}
	ctor, ok := f.constructors[cfg.Type]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		// re-check: another flight may have won between RUnlock and Do
		f.mu.RLock()
		if p, ok := f.providers[key]; ok {
			f.mu.RUnlock()
			return p, nil
		}
		f.mu.RUnlock()

		p, err := ctor(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s storage: %w", cfg.Type, err)
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			_ = p.Destroy(ctx)
			return nil, ErrClosed
		}
		f.providers[key] = p
		f.mu.Unlock()

		slog.Info("Storage provider created",
			"type", cfg.Type,
			"namespace", cfg.Namespace)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

// Shutdown destroys every cached provider and closes the factory.
func (f *Factory) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	providers := f.providers
	f.providers = make(map[string]Provider)
	f.mu.Unlock()

	var firstErr error
	for key, p := range providers {
		if err := p.Destroy(ctx); err != nil {
			slog.Error("Failed to destroy storage provider", "key", key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func cacheKey(t config.StorageType, namespace string) string {
	return fmt.Sprintf("%s/%s", t, namespace)
}

// Package sqlstore is the SQL storage backend. It supports SQLite,
// PostgreSQL, and MySQL through database/sql, using a JSON document
// column plus indexed filter columns for memory rows, and dialect-aware
// placeholder/upsert generation.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/embedder"
	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/storage"
	"github.com/agentdock/agentdock-core/pkg/vector"
)

const purgeInterval = time.Minute

// Store is the SQL-backed storage provider.
type Store struct {
	db        *sql.DB
	dialect   string
	namespace string
	nowFn     func() time.Time

	mem *memOps
	vec memory.VectorOperations

	closers []func() error

	purgeStop chan struct{}
	purgeDone chan struct{}
}

// New opens the database, ensures the schema, and starts the expiry
// purger.
func New(ctx context.Context, cfg *config.StorageConfig) (*Store, error) {
	if cfg == nil || cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	dbCfg := cfg.Database

	db, err := sql.Open(dbCfg.DriverName(), dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbCfg.Dialect(), err)
	}
	db.SetMaxOpenConns(dbCfg.MaxConns)
	db.SetMaxIdleConns(dbCfg.MaxIdle)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dbCfg.Dialect(), err)
	}

	s := &Store{
		db:        db,
		dialect:   dbCfg.Dialect(),
		namespace: cfg.Namespace,
		nowFn:     time.Now,
		purgeStop: make(chan struct{}),
		purgeDone: make(chan struct{}),
	}
	s.mem = newMemOps(s)

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Vector != nil {
		provider, err := vector.NewProvider(cfg.Vector)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create vector provider: %w", err)
		}
		emb := embedder.NewLocalEmbedder(cfg.EmbedderDimension)
		s.vec = memory.NewVectorMemory(s.mem, s.mem, provider, emb, "")
		s.closers = append(s.closers, provider.Close, emb.Close)
	}

	go s.purgeLoop()

	slog.Info("SQL storage initialized",
		"dialect", s.dialect,
		"namespace", s.namespace)
	return s, nil
}

// Name returns the backend dialect.
func (s *Store) Name() string { return s.dialect }

// AsMemory exposes the memory capability.
func (s *Store) AsMemory() memory.Operations { return s.mem }

// AsVector exposes the vector capability when configured.
func (s *Store) AsVector() memory.VectorOperations { return s.vec }

// rebind converts ?-style placeholders to the dialect's form.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) ns(opts *storage.Options) string {
	if opts != nil && opts.Namespace != "" {
		return opts.Namespace
	}
	return s.namespace
}

func (s *Store) nowMillis() int64 {
	return s.nowFn().UnixMilli()
}

func (s *Store) expiresAt(opts *storage.Options) sql.NullInt64 {
	if opts == nil || opts.TTLSeconds <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{
		Int64: s.nowFn().Add(time.Duration(opts.TTLSeconds) * time.Second).UnixMilli(),
		Valid: true,
	}
}

// Destroy stops the purger and closes the pool.
func (s *Store) Destroy(ctx context.Context) error {
	select {
	case <-s.purgeStop:
		return nil // already destroyed
	default:
	}

	close(s.purgeStop)
	<-s.purgeDone

	s.mem.close()

	var firstErr error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Store) purgeLoop() {
	defer close(s.purgeDone)

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.purgeStop:
			return
		case <-ticker.C:
			s.purgeExpired()
		}
	}
}

// purgeExpired removes expired rows opportunistically. Reads filter
// them regardless, so this only reclaims space.
func (s *Store) purgeExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := s.nowMillis()
	for _, table := range []string{"kv_entries", "kv_lists"} {
		query := s.rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < ?", table))
		if _, err := s.db.ExecContext(ctx, query, now); err != nil {
			slog.Warn("Failed to purge expired rows", "table", table, "error", err)
		}
	}
}

var _ storage.Provider = (*Store)(nil)

package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := &config.StorageConfig{
		Type:      config.StorageSQLite,
		Namespace: "agentdock",
		Database: &config.DatabaseConfig{
			Driver:   "sqlite",
			Database: filepath.Join(t.TempDir(), "test.db"),
			MaxConns: 1,
			MaxIdle:  1,
		},
	}

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Destroy(context.Background())
	})
	return s
}

func TestKVRoundTripNormalizesJSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Set(ctx, "profile", map[string]any{"name": "ada", "age": 37}, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, "profile", nil)
	require.NoError(t, err)

	m, ok := got.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ada", m["name"])
	require.Equal(t, float64(37), m["age"])
}

func TestKVAbsentKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Get(ctx, "missing", nil)
	require.NoError(t, err)
	require.Nil(t, got)

	exists, err := s.Exists(ctx, "missing", nil)
	require.NoError(t, err)
	require.False(t, exists)

	deleted, err := s.Delete(ctx, "missing", nil)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestKVExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Set(ctx, "short", "lived", &storage.Options{TTLSeconds: 60})
	require.NoError(t, err)

	got, err := s.Get(ctx, "short", nil)
	require.NoError(t, err)
	require.Equal(t, "lived", got)

	// Jump past the expiry; reads must treat the row as absent.
	s.nowFn = func() time.Time { return time.Now().Add(2 * time.Minute) }

	got, err = s.Get(ctx, "short", nil)
	require.NoError(t, err)
	require.Nil(t, got)

	exists, err := s.Exists(ctx, "short", nil)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestNamespaceScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "shared", "default", nil))
	require.NoError(t, s.Set(ctx, "shared", "other", &storage.Options{Namespace: "tenant-b"}))

	got, err := s.Get(ctx, "shared", nil)
	require.NoError(t, err)
	require.Equal(t, "default", got)

	got, err = s.Get(ctx, "shared", &storage.Options{Namespace: "tenant-b"})
	require.NoError(t, err)
	require.Equal(t, "other", got)

	// Clear only touches the default namespace.
	require.NoError(t, s.Clear(ctx, ""))

	got, err = s.Get(ctx, "shared", nil)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.Get(ctx, "shared", &storage.Options{Namespace: "tenant-b"})
	require.NoError(t, err)
	require.Equal(t, "other", got)
}

func TestBatchOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := map[string]any{"a": 1, "b": 2, "c": 3}
	require.NoError(t, s.SetMany(ctx, items, nil))

	got, err := s.GetMany(ctx, []string{"a", "b", "c", "missing"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, float64(2), got["b"])

	n, err := s.DeleteMany(ctx, []string{"a", "c", "missing"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err = s.GetMany(ctx, []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestListKeysByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"session:1", "session:2", "memory:1"} {
		require.NoError(t, s.Set(ctx, key, "v", nil))
	}

	keys, err := s.List(ctx, "session:", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"session:1", "session:2"}, keys)
}

func TestStoredListSlicing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	values := []any{"a", "b", "c", "d"}
	require.NoError(t, s.SaveList(ctx, "steps", values, nil))

	got, err := s.GetList(ctx, "steps", 0, -1, nil)
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b", "c", "d"}, got)

	got, err = s.GetList(ctx, "steps", 1, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []any{"b", "c"}, got)

	got, err = s.GetList(ctx, "steps", 10, 20, nil)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = s.GetList(ctx, "absent", 0, -1, nil)
	require.NoError(t, err)
	require.Nil(t, got)

	deleted, err := s.DeleteList(ctx, "steps", nil)
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestClearWithPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session:1", "v", nil))
	require.NoError(t, s.Set(ctx, "memory:1", "v", nil))

	require.NoError(t, s.Clear(ctx, "session:"))

	got, err := s.Get(ctx, "session:1", nil)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.Get(ctx, "memory:1", nil)
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestCapabilityProbes(t *testing.T) {
	s := newTestStore(t)

	require.NotNil(t, s.AsMemory())
	require.Nil(t, s.AsVector(), "no vector index configured")
	require.Equal(t, "sqlite", s.Name())
}

func TestDestroyIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Destroy(ctx))
	require.NoError(t, s.Destroy(ctx))

	_, err := s.Get(ctx, "any", nil)
	require.Error(t, err)
}

package vector

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) *ChromemProvider {
	t.Helper()

	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Close())
	})
	return p
}

func seed(t *testing.T, p *ChromemProvider, collection string) {
	t.Helper()
	ctx := context.Background()

	docs := []struct {
		id     string
		vector []float32
		meta   map[string]any
	}{
		{"m1", []float32{1, 0, 0}, map[string]any{"content": "pod scheduling", "user_id": "alice"}},
		{"m2", []float32{0.8, 0.6, 0}, map[string]any{"content": "pod lifecycle", "user_id": "alice"}},
		{"m3", []float32{0, 0, 1}, map[string]any{"content": "quarterly forecast", "user_id": "bob"}},
	}
	for _, d := range docs {
		require.NoError(t, p.Upsert(ctx, collection, d.id, d.vector, d.meta))
	}
}

func TestChromemRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	seed(t, p, "memories")

	results, err := p.Search(ctx, "memories", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "m1", results[0].ID)
	require.Equal(t, "m2", results[1].ID)
	require.Equal(t, "pod scheduling", results[0].Content)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestChromemSearchWithFilter(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	seed(t, p, "memories")

	results, err := p.SearchWithFilter(ctx, "memories", []float32{1, 0, 0}, 3,
		map[string]any{"user_id": "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m3", results[0].ID)
}

func TestChromemClampsTopKToCollectionSize(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	seed(t, p, "memories")

	results, err := p.Search(ctx, "memories", []float32{1, 0, 0}, 50)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// An untouched collection yields no hits, not an error.
	results, err = p.Search(ctx, "empty", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestChromemDelete(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	seed(t, p, "memories")

	require.NoError(t, p.Delete(ctx, "memories", "m1"))

	results, err := p.Search(ctx, "memories", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotEqual(t, "m1", r.ID)
	}
}

func TestChromemDeleteByFilter(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	seed(t, p, "memories")

	require.NoError(t, p.DeleteByFilter(ctx, "memories", map[string]any{"user_id": "alice"}))

	results, err := p.Search(ctx, "memories", []float32{0, 0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m3", results[0].ID)
}

func TestChromemDeleteCollection(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	seed(t, p, "memories")

	require.NoError(t, p.DeleteCollection(ctx, "memories"))

	results, err := p.Search(ctx, "memories", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestChromemWritesSnapshotOnClose(t *testing.T) {
	dir := t.TempDir()

	p, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	seed(t, p, "memories")
	require.NoError(t, p.Close())

	info, err := os.Stat(chromemFilePath(dir, false))
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

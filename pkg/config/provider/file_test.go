package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileProviderLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: memory\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, string(data), "type: memory")
}

func TestFileProviderLoadMissingFile(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Load(context.Background())
	require.Error(t, err)
}

func TestFileProviderWatchSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	// give the watcher a moment to attach
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestInlineProviderRoundTrip(t *testing.T) {
	p := NewInlineProvider([]byte("x"))
	data, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)

	ch, err := p.Watch(context.Background())
	require.NoError(t, err)
	require.Nil(t, ch)
	require.NoError(t, p.Close())
}

package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := New([]string{root}, 50*time.Millisecond, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case e := <-w.Events():
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher event")
		return Event{}
	}
}

func TestWatcherEmitsSettledChange(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	path := filepath.Join(dir, "new.kara")
	require.NoError(t, os.WriteFile(path, []byte("title=First\n"), 0o644))

	e := waitEvent(t, w)
	assert.Equal(t, EventChanged, e.Type)
	assert.Equal(t, path, e.Path)
	assert.Positive(t, e.Size)
}

func TestWatcherDebouncesWriteBurst(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	path := filepath.Join(dir, "burst.kara")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("title=Burst\ntype=MV\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	e := waitEvent(t, w)
	assert.Equal(t, EventChanged, e.Type)

	// The burst must have collapsed into that single event.
	select {
	case extra := <-w.Events():
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.kara"), []byte("x"), 0o644))

	select {
	case e := <-w.Events():
		t.Fatalf("unexpected event for foreign file: %+v", e)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherEmitsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.kara")
	require.NoError(t, os.WriteFile(path, []byte("title=Doomed\n"), 0o644))

	w := newTestWatcher(t, dir)
	require.NoError(t, os.Remove(path))

	e := waitEvent(t, w)
	assert.Equal(t, EventRemoved, e.Type)
	assert.Equal(t, path, e.Path)
}

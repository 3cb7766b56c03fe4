package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// touch 把修改时间推后，避免依赖文件系统的时间精度
func touch(t *testing.T, path string, d time.Duration) {
	t.Helper()
	ts := time.Now().Add(d)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "entitygraph.yaml")
	writeFile(t, f, "log:\n  level: info\n")

	w, err := NewFileWatcher([]string{f, f, ""})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.Equal(t, time.Second, w.pollInterval)
	assert.Equal(t, 200*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_MissingPath(t *testing.T) {
	w, err := NewFileWatcher([]string{"/nonexistent/path/config.yaml"})
	require.NoError(t, err)
	assert.Empty(t, w.Check())
}

func TestFileWatcher_Check(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "shop.yaml")
	writeFile(t, f, "name: shop\n")

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)
	assert.Empty(t, w.Check())

	touch(t, f, time.Hour)
	events := w.Check()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpWrite, events[0].Op)
	assert.Empty(t, w.Check())

	require.NoError(t, os.Remove(f))
	events = w.Check()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpRemove, events[0].Op)

	writeFile(t, f, "name: shop\n")
	events = w.Check()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpCreate, events[0].Op)
}

func TestFileWatcher_CheckDirectory(t *testing.T) {
	dir := t.TempDir()
	users := filepath.Join(dir, "users.csv")
	writeFile(t, users, "id,name\n1,Alice\n")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(users, past, past))
	require.NoError(t, os.Chtimes(dir, past, past))

	w, err := NewFileWatcher([]string{dir})
	require.NoError(t, err)

	touch(t, users, time.Hour)
	events := w.Check()
	require.Len(t, events, 1)
	assert.Equal(t, dir, events[0].Path)
	assert.Equal(t, FileOpWrite, events[0].Op)
}

func TestFileWatcher_RunDebounces(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	w, err := NewFileWatcher([]string{b, a},
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(30*time.Millisecond),
	)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		batches [][]FileEvent
	)
	w.OnChange(func(events []FileEvent) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	touch(t, a, time.Hour)
	touch(t, b, time.Hour)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, batch := range batches {
			n += len(batch)
		}
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	var paths []string
	for _, batch := range batches {
		for _, evt := range batch {
			paths = append(paths, evt.Path)
		}
	}
	assert.ElementsMatch(t, []string{a, b}, paths)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}

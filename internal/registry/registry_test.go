package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0o644))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "org", "repo", "a.Q4.gguf"), 10)
	writeFile(t, filepath.Join(dir, "org", "repo", "b.Q8.gguf"), 20)
	writeFile(t, filepath.Join(dir, "stray.gguf"), 1)
	writeFile(t, filepath.Join(dir, ".cache", "x", "y.gguf"), 1)

	got, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "org/repo#a.Q4.gguf", got[0].FileID)
	assert.Equal(t, int64(10), got[0].Size)
	assert.Equal(t, "org/repo#b.Q8.gguf", got[1].FileID)
}

func TestScanMissingDir(t *testing.T) {
	got, err := Scan(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileID(t *testing.T) {
	id, ok := FileID("/m", "/m/org/repo/f.gguf")
	assert.True(t, ok)
	assert.Equal(t, "org/repo#f.gguf", id)

	_, ok = FileID("/m", "/m/f.gguf")
	assert.False(t, ok)
	_, ok = FileID("/m", "/elsewhere/org/repo/f.gguf")
	assert.False(t, ok)
}

func TestWatchReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "org", "repo", "a.gguf")
	writeFile(t, path, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	removed := make(chan Artifact, 4)
	require.NoError(t, Watch(ctx, dir, func(a Artifact) { removed <- a }))

	require.NoError(t, os.Remove(path))
	select {
	case a := <-removed:
		assert.Equal(t, "org/repo#a.gguf", a.FileID)
	case <-time.After(5 * time.Second):
		t.Fatal("removal not reported")
	}
}

func TestWatchPicksUpNewModelDirs(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	removed := make(chan Artifact, 4)
	require.NoError(t, Watch(ctx, dir, func(a Artifact) { removed <- a }))

	path := filepath.Join(dir, "org", "repo", "b.gguf")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "org"), 0o755))
	// Give the watcher time to add the new directory before populating it.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Remove(path))

	select {
	case a := <-removed:
		assert.Equal(t, "org/repo#b.gguf", a.FileID)
	case <-time.After(5 * time.Second):
		t.Fatal("removal in new directory not reported")
	}
}

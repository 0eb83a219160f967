package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/indexer"
)

// fakeStarter records Start calls. It rejects the first busy calls with a
// conflict.
type fakeStarter struct {
	mu    sync.Mutex
	busy  int
	calls [][]string
	ch    chan []string
}

func newFakeStarter(busy int) *fakeStarter {
	return &fakeStarter{busy: busy, ch: make(chan []string, 16)}
}

func (f *fakeStarter) Start(_ context.Context, paths []string) (indexer.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, paths)
	f.ch <- paths
	if f.busy > 0 {
		f.busy--
		return indexer.Status{IsIndexing: true}, apperr.Conflict("Indexing already in progress")
	}
	return indexer.Status{IsIndexing: true}, nil
}

type fakeRemover struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeRemover) DeleteFileByPath(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return nil
}

func (f *fakeRemover) removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newWatcher(t *testing.T, s Starter, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	w, err := New(s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func waitCall(t *testing.T, f *fakeStarter) []string {
	t.Helper()
	select {
	case paths := <-f.ch:
		return paths
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a re-index request")
		return nil
	}
}

func assertNoCall(t *testing.T, f *fakeStarter) {
	t.Helper()
	select {
	case paths := <-f.ch:
		t.Fatalf("unexpected re-index request for %v", paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func resolved(t *testing.T, dir string) string {
	t.Helper()
	// macOS temp dirs live behind a symlink; fsnotify reports resolved paths.
	p, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return p
}

func TestWatcher_ReindexesOnChange(t *testing.T) {
	root := resolved(t, t.TempDir())
	starter := newFakeStarter(0)
	w := newWatcher(t, starter)
	require.NoError(t, w.Add(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.md"), []byte("two"), 0o644))

	assert.Equal(t, []string{root}, waitCall(t, starter))
	assertNoCall(t, starter)
}

func TestWatcher_IgnoresUnsupportedFiles(t *testing.T) {
	root := resolved(t, t.TempDir())
	starter := newFakeStarter(0)
	w := newWatcher(t, starter)
	require.NoError(t, w.Add(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "movie.mp4"), []byte("x"), 0o644))

	assertNoCall(t, starter)
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	root := resolved(t, t.TempDir())
	starter := newFakeStarter(0)
	w := newWatcher(t, starter)
	require.NoError(t, w.Add(root))

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	assert.Equal(t, []string{root}, waitCall(t, starter))

	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.txt"), []byte("three"), 0o644))
	assert.Equal(t, []string{root}, waitCall(t, starter))
}

func TestWatcher_RetriesWhenBusy(t *testing.T) {
	root := resolved(t, t.TempDir())
	starter := newFakeStarter(1)
	w := newWatcher(t, starter)
	require.NoError(t, w.Add(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one"), 0o644))
	assert.Equal(t, []string{root}, waitCall(t, starter))

	// The rejected root stays pending and is retried with the next change.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("two"), 0o644))
	assert.Equal(t, []string{root}, waitCall(t, starter))
}

func TestWatcher_ForgetsRemovedFiles(t *testing.T) {
	root := resolved(t, t.TempDir())
	path := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	remover := &fakeRemover{}
	w := newWatcher(t, newFakeStarter(0), WithRemover(remover))
	require.NoError(t, w.Add(root))

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		got := remover.removed()
		return len(got) == 1 && got[0] == path
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_Roots(t *testing.T) {
	outer := resolved(t, t.TempDir())
	inner := filepath.Join(outer, "inner")
	require.NoError(t, os.Mkdir(inner, 0o755))

	w := newWatcher(t, newFakeStarter(0))
	require.NoError(t, w.Add(outer))
	require.NoError(t, w.Add(inner))
	require.NoError(t, w.Add(outer))

	assert.Equal(t, []string{inner, outer}, w.Roots())
	assert.Equal(t, inner, w.rootFor(filepath.Join(inner, "x.txt")))
	assert.Equal(t, outer, w.rootFor(filepath.Join(outer, "y.txt")))
	assert.Equal(t, "", w.rootFor("/elsewhere/z.txt"))

	assert.Error(t, w.Add(filepath.Join(outer, "missing")))
}

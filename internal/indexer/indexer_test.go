package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/extract"
	"github.com/kalambet/smartfile/internal/storage"
)

// fakeEmbedder returns a small deterministic vector per text. Batches fail
// when failBatch is set and single embeds fail for texts containing failOn.
type fakeEmbedder struct {
	failBatch bool
	failOn    string
	release   chan struct{} // when non-nil, every call blocks until closed

	mu     sync.Mutex
	calls  int
	single atomic.Int32
}

func (f *fakeEmbedder) wait(ctx context.Context) error {
	if f.release == nil {
		return nil
	}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.single.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("embedding refused")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.failBatch {
		return nil, errors.New("batch refused")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) batchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingExtractor reads files through the default registry except those
// whose name is in broken, which fail to extract.
type failingExtractor struct {
	reg *extract.Registry

	mu     sync.Mutex
	broken map[string]bool
}

func newFailingExtractor(names ...string) *failingExtractor {
	f := &failingExtractor{reg: extract.NewRegistry(nil), broken: make(map[string]bool)}
	f.set(names...)
	return f
}

func (f *failingExtractor) set(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.broken)
	for _, n := range names {
		f.broken[n] = true
	}
}

func (f *failingExtractor) ExtractErr(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	bad := f.broken[filepath.Base(path)]
	f.mu.Unlock()
	if bad {
		return "", apperr.Extraction(path, errors.New("corrupt file"))
	}
	return f.reg.ExtractErr(ctx, path)
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// sampleTree creates root/a.txt, root/empty.txt, root/img.png and
// root/sub/b.md and returns root.
func sampleTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha content about invoices")
	writeFile(t, filepath.Join(root, "empty.txt"), "")
	writeFile(t, filepath.Join(root, "img.png"), "\x89PNG")
	writeFile(t, filepath.Join(root, "sub", "b.md"), "# Notes\nbeta content")
	return root
}

func collect(ix *Indexer, ctx context.Context, root string) ([]Progress, []error) {
	var ps []Progress
	var errs []error
	for p, err := range ix.IndexFolder(ctx, root) {
		ps = append(ps, p)
		errs = append(errs, err)
	}
	return ps, errs
}

func TestIndexFolder_IndexesSupportedFiles(t *testing.T) {
	store := openStore(t)
	root := sampleTree(t)
	ix := New(store, extract.NewRegistry(nil), &fakeEmbedder{})

	ps, errs := collect(ix, context.Background(), root)
	if len(ps) != 3 {
		t.Fatalf("got %d progress items, want 3: %+v", len(ps), ps)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("item %d: unexpected error %v", i, err)
		}
		if ps[i].Count != i+1 {
			t.Errorf("item %d: Count = %d, want %d", i, ps[i].Count, i+1)
		}
	}
	if ps[len(ps)-1].Path != filepath.Join(root, "sub", "b.md") {
		t.Errorf("last path = %q", ps[len(ps)-1].Path)
	}

	rootFolder, err := store.GetFolderByPath(root)
	if err != nil {
		t.Fatalf("root folder not registered: %v", err)
	}
	sub, err := store.GetFolderByPath(filepath.Join(root, "sub"))
	if err != nil {
		t.Fatalf("subfolder not registered: %v", err)
	}
	if sub.ParentID == nil || *sub.ParentID != rootFolder.ID {
		t.Errorf("sub.ParentID = %v, want %d", sub.ParentID, rootFolder.ID)
	}
	if sub.Level != rootFolder.Level+1 {
		t.Errorf("sub.Level = %d, want %d", sub.Level, rootFolder.Level+1)
	}

	empty, err := store.GetFileByPath(filepath.Join(root, "empty.txt"))
	if err != nil {
		t.Fatalf("empty file not recorded: %v", err)
	}
	if empty.ChunkCount != 0 {
		t.Errorf("empty.ChunkCount = %d, want 0", empty.ChunkCount)
	}
	if _, err := store.GetFileByPath(filepath.Join(root, "img.png")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unsupported file was indexed: %v", err)
	}

	a, err := store.GetFileByPath(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Type != ".txt" || a.ContentHash == "" || a.ChunkCount != 1 {
		t.Errorf("a.txt recorded as %+v", a)
	}
}

func TestIndexFolder_ReindexReplaces(t *testing.T) {
	store := openStore(t)
	root := sampleTree(t)
	ix := New(store, extract.NewRegistry(nil), &fakeEmbedder{})

	collect(ix, context.Background(), root)
	files1, _ := store.TotalFiles()
	chunks1, _ := store.TotalChunks()

	collect(ix, context.Background(), root)
	files2, _ := store.TotalFiles()
	chunks2, _ := store.TotalChunks()

	if files1 != 3 || files2 != 3 {
		t.Errorf("files = %d then %d, want 3 both times", files1, files2)
	}
	if chunks1 != chunks2 {
		t.Errorf("chunks = %d then %d, want stable", chunks1, chunks2)
	}
}

func TestIndexFolder_ExtractionFailureReported(t *testing.T) {
	store := openStore(t)
	root := sampleTree(t)
	ix := New(store, newFailingExtractor("a.txt"), &fakeEmbedder{})

	ps, errs := collect(ix, context.Background(), root)
	if len(ps) != 3 {
		t.Fatalf("got %d progress values, want 3", len(ps))
	}
	failed := 0
	for i, p := range ps {
		if errs[i] == nil {
			continue
		}
		failed++
		if filepath.Base(p.Path) != "a.txt" || !errors.Is(errs[i], apperr.ErrExtraction) {
			t.Errorf("unexpected failure %s: %v", p.Path, errs[i])
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	a, err := store.GetFileByPath(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatalf("new file with failed extraction not recorded: %v", err)
	}
	if a.ChunkCount != 0 {
		t.Errorf("chunks = %d, want 0", a.ChunkCount)
	}
}

func TestIndexFolder_ExtractionFailureKeepsChunks(t *testing.T) {
	store := openStore(t)
	root := sampleTree(t)
	ext := newFailingExtractor()
	ix := New(store, ext, &fakeEmbedder{})
	path := filepath.Join(root, "a.txt")

	collect(ix, context.Background(), root)
	before, err := store.GetFileByPath(path)
	if err != nil || before.ChunkCount == 0 {
		t.Fatalf("first run: %+v, %v", before, err)
	}

	ext.set("a.txt")
	writeFile(t, path, "alpha content rewritten")
	_, errs := collect(ix, context.Background(), root)
	if n := countErrs(errs); n != 1 {
		t.Errorf("second run errors = %d, want 1", n)
	}

	after, err := store.GetFileByPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if after.ChunkCount != before.ChunkCount || after.ContentHash != before.ContentHash {
		t.Errorf("file after failed re-extraction = %+v, want %+v", after, before)
	}
	chunks, err := store.Chunks(after.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 || !strings.Contains(chunks[0].Content, "alpha content about invoices") {
		t.Errorf("previous chunks not kept: %+v", chunks)
	}
}

func countErrs(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

func TestIndexFolder_PerChunkFallback(t *testing.T) {
	store := openStore(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad.txt"), "bad")
	writeFile(t, filepath.Join(root, "good.txt"), "good text")

	emb := &fakeEmbedder{failBatch: true, failOn: "bad"}
	ix := New(store, extract.NewRegistry(nil), emb)

	ps, errs := collect(ix, context.Background(), root)
	if len(ps) != 2 {
		t.Fatalf("got %d items, want 2", len(ps))
	}
	if errs[0] == nil {
		t.Error("bad.txt: expected an error")
	}
	if ps[0].Path != filepath.Join(root, "bad.txt") {
		t.Errorf("failed item path = %q", ps[0].Path)
	}
	if errs[1] != nil {
		t.Errorf("good.txt: unexpected error %v", errs[1])
	}
	if ps[1].Count != 1 {
		t.Errorf("good.txt Count = %d, want 1", ps[1].Count)
	}

	if _, err := store.GetFileByPath(filepath.Join(root, "bad.txt")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("failed file should not be stored, got %v", err)
	}
	good, err := store.GetFileByPath(filepath.Join(root, "good.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if good.ChunkCount != 1 {
		t.Errorf("good.ChunkCount = %d, want 1", good.ChunkCount)
	}
	if emb.single.Load() != 2 {
		t.Errorf("single embeds = %d, want 2", emb.single.Load())
	}
}

func TestIndexFolder_SkipUnchanged(t *testing.T) {
	store := openStore(t)
	root := t.TempDir()
	path := filepath.Join(root, "notes.txt")
	writeFile(t, path, "first version")

	emb := &fakeEmbedder{}
	ix := New(store, extract.NewRegistry(nil), emb, WithSkipUnchanged(true))

	collect(ix, context.Background(), root)
	if emb.batchCalls() != 1 {
		t.Fatalf("batch calls = %d, want 1", emb.batchCalls())
	}

	ps, _ := collect(ix, context.Background(), root)
	if len(ps) != 1 || !ps[0].Skipped {
		t.Fatalf("second run = %+v, want one skipped item", ps)
	}
	if emb.batchCalls() != 1 {
		t.Errorf("unchanged file was re-embedded")
	}

	writeFile(t, path, "second version")
	ps, _ = collect(ix, context.Background(), root)
	if ps[0].Skipped {
		t.Error("changed file was skipped")
	}
	if emb.batchCalls() != 2 {
		t.Errorf("batch calls = %d, want 2", emb.batchCalls())
	}
}

func TestIndexFolder_InvalidRoot(t *testing.T) {
	ix := New(openStore(t), extract.NewRegistry(nil), &fakeEmbedder{})

	ps, errs := collect(ix, context.Background(), filepath.Join(t.TempDir(), "missing"))
	if len(ps) != 1 {
		t.Fatalf("got %d items, want 1", len(ps))
	}
	if !errors.Is(errs[0], apperr.ErrValidation) {
		t.Errorf("err = %v, want validation error", errs[0])
	}
}

func TestIndexFolder_StopsWhenConsumerBreaks(t *testing.T) {
	store := openStore(t)
	root := sampleTree(t)
	ix := New(store, extract.NewRegistry(nil), &fakeEmbedder{})

	for range ix.IndexFolder(context.Background(), root) {
		break
	}
	if n, _ := store.TotalFiles(); n != 1 {
		t.Errorf("files after early break = %d, want 1", n)
	}
}

func TestIndexFolder_Cancelled(t *testing.T) {
	ix := New(openStore(t), extract.NewRegistry(nil), &fakeEmbedder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ps, errs := collect(ix, ctx, sampleTree(t))
	if len(ps) != 1 || !errors.Is(errs[0], context.Canceled) {
		t.Errorf("got %+v / %v, want a single cancellation", ps, errs)
	}
}

func TestIndexFolder_AttachesToIndexedParent(t *testing.T) {
	store := openStore(t)
	root := sampleTree(t)
	ix := New(store, extract.NewRegistry(nil), &fakeEmbedder{})

	collect(ix, context.Background(), root)
	collect(ix, context.Background(), filepath.Join(root, "sub"))

	parent, _ := store.GetFolderByPath(root)
	sub, err := store.GetFolderByPath(filepath.Join(root, "sub"))
	if err != nil {
		t.Fatal(err)
	}
	if sub.ParentID == nil || *sub.ParentID != parent.ID {
		t.Errorf("re-indexed subfolder lost its parent: %v", sub.ParentID)
	}
}

func TestCountSupportedFiles(t *testing.T) {
	root := sampleTree(t)
	if got := CountSupportedFiles(root); got != 3 {
		t.Errorf("CountSupportedFiles = %d, want 3", got)
	}
	if got := CountSupportedFiles(filepath.Join(root, "missing")); got != 0 {
		t.Errorf("missing root counted %d files", got)
	}
}

package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/extract"
)

func newTestRunner(t *testing.T, emb *fakeEmbedder) *Runner {
	t.Helper()
	return NewRunner(New(openStore(t), extract.NewRegistry(nil), emb), nil)
}

func waitRun(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRunner_Validation(t *testing.T) {
	r := newTestRunner(t, &fakeEmbedder{})

	if _, err := r.Start(context.Background(), nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty paths: err = %v, want validation error", err)
	}

	_, err := r.Start(context.Background(), []string{filepath.Join(t.TempDir(), "nope")})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("invalid paths: err = %v, want validation error", err)
	}
	if err.Error() != "No valid folder paths provided" {
		t.Errorf("message = %q", err.Error())
	}
	if r.Snapshot().IsIndexing {
		t.Error("rejected start left the runner indexing")
	}
}

func TestRunner_CompletesAndReportsProgress(t *testing.T) {
	r := newTestRunner(t, &fakeEmbedder{})
	root := sampleTree(t)

	var finished Status
	r.OnFinish = func(s Status) { finished = s }

	st, err := r.Start(context.Background(), []string{root, filepath.Join(root, "missing")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !st.IsIndexing || st.RunID == "" {
		t.Errorf("initial status = %+v", st)
	}
	if len(st.Folders) != 1 {
		t.Errorf("folders = %v, want only the valid one", st.Folders)
	}
	waitRun(t, r)

	got := r.Snapshot()
	if got.IsIndexing || got.Progress != 100 || got.CurrentFile != "" {
		t.Errorf("final status = %+v", got)
	}
	if got.TotalFiles != 3 || got.ProcessedFiles != 3 || got.FailedFiles != 0 {
		t.Errorf("counts = total %d processed %d failed %d", got.TotalFiles, got.ProcessedFiles, got.FailedFiles)
	}
	if finished.RunID != st.RunID || finished.FinishedAt.IsZero() {
		t.Errorf("OnFinish got %+v", finished)
	}
}

func TestRunner_CountsFailures(t *testing.T) {
	r := newTestRunner(t, &fakeEmbedder{failBatch: true, failOn: "alpha"})
	root := sampleTree(t)

	if _, err := r.Start(context.Background(), []string{root}); err != nil {
		t.Fatal(err)
	}
	waitRun(t, r)

	got := r.Snapshot()
	if got.ProcessedFiles != 3 || got.FailedFiles != 1 {
		t.Errorf("processed %d failed %d, want 3 and 1", got.ProcessedFiles, got.FailedFiles)
	}
}

func TestRunner_CountsExtractionFailures(t *testing.T) {
	r := NewRunner(New(openStore(t), newFailingExtractor("b.md"), &fakeEmbedder{}), nil)

	if _, err := r.Start(context.Background(), []string{sampleTree(t)}); err != nil {
		t.Fatal(err)
	}
	waitRun(t, r)

	got := r.Snapshot()
	if got.ProcessedFiles != 3 || got.FailedFiles != 1 {
		t.Errorf("processed %d failed %d, want 3 and 1", got.ProcessedFiles, got.FailedFiles)
	}
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	emb := &fakeEmbedder{release: make(chan struct{})}
	r := newTestRunner(t, emb)
	root := sampleTree(t)

	if _, err := r.Start(context.Background(), []string{root}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Start(context.Background(), []string{root})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second Start err = %v, want conflict", err)
	}
	if apperr.Status(err) != 409 {
		t.Errorf("status = %d, want 409", apperr.Status(err))
	}

	close(emb.release)
	waitRun(t, r)

	if _, err := r.Start(context.Background(), []string{root}); err != nil {
		t.Errorf("Start after completion: %v", err)
	}
	waitRun(t, r)
}

func TestRunner_ResetCancelsAndClears(t *testing.T) {
	emb := &fakeEmbedder{release: make(chan struct{})}
	r := newTestRunner(t, emb)

	if _, err := r.Start(context.Background(), []string{sampleTree(t)}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Reset(ctx, nil); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := r.Snapshot(); got.IsIndexing || got.RunID != "" {
		t.Errorf("status after reset = %+v", got)
	}
}

func TestRunner_ResetBlocksStart(t *testing.T) {
	emb := &fakeEmbedder{release: make(chan struct{})}
	r := newTestRunner(t, emb)
	root := sampleTree(t)

	if _, err := r.Start(context.Background(), []string{root}); err != nil {
		t.Fatal(err)
	}

	var startErr error
	wiped := false
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := r.Reset(ctx, func() error {
		wiped = true
		if r.Snapshot().IsIndexing {
			t.Error("wipe ran while a run was still active")
		}
		_, startErr = r.Start(context.Background(), []string{root})
		return nil
	})
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !wiped {
		t.Fatal("wipe was not called")
	}
	if !errors.Is(startErr, apperr.ErrConflict) {
		t.Errorf("Start during reset err = %v, want conflict", startErr)
	}
	if got := r.Snapshot(); got.IsIndexing || got.RunID != "" {
		t.Errorf("status after reset = %+v", got)
	}

	close(emb.release)
	if _, err := r.Start(context.Background(), []string{root}); err != nil {
		t.Errorf("Start after reset: %v", err)
	}
	waitRun(t, r)
}

func TestRunner_ResetReportsWipeError(t *testing.T) {
	r := newTestRunner(t, &fakeEmbedder{})
	boom := errors.New("disk full")

	if err := r.Reset(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Reset err = %v, want %v", err, boom)
	}
	if _, err := r.Start(context.Background(), []string{sampleTree(t)}); err != nil {
		t.Errorf("Start after failed reset: %v", err)
	}
	waitRun(t, r)
}

func TestPercent(t *testing.T) {
	tests := []struct{ done, total, want int }{
		{0, 0, 100},
		{0, 4, 0},
		{1, 4, 25},
		{4, 4, 100},
		{5, 4, 100},
	}
	for _, tt := range tests {
		if got := percent(tt.done, tt.total); got != tt.want {
			t.Errorf("percent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

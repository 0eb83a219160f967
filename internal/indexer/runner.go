package indexer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/smartfile/internal/apperr"
)

// Status is a point-in-time view of the background indexing run.
type Status struct {
	RunID          string    `json:"run_id,omitempty"`
	IsIndexing     bool      `json:"is_indexing"`
	Progress       int       `json:"progress"`
	CurrentFile    string    `json:"current_file"`
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	FailedFiles    int       `json:"failed_files"`
	Folders        []string  `json:"folders,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
}

// Runner drives at most one indexing run at a time in the background and
// publishes its progress.
type Runner struct {
	indexer *Indexer
	logger  *slog.Logger

	// OnFinish, when set, is called after every run with its final status.
	OnFinish func(Status)

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
	resets int // active Reset calls; Start is refused while non-zero
}

// NewRunner creates a Runner for ix.
func NewRunner(ix *Indexer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{indexer: ix, logger: logger}
}

// Snapshot returns a copy of the current status.
func (r *Runner) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.Folders = append([]string(nil), r.status.Folders...)
	return s
}

// Start validates paths and begins indexing the valid ones in the background.
// Paths that do not exist or are not directories are logged and dropped. It
// fails with a ConflictError when a run is already active or a Reset is in
// progress, and with a ValidationError when no valid folder remains.
//
// The run outlives ctx's request scope; only ctx's values are inherited.
func (r *Runner) Start(ctx context.Context, paths []string) (Status, error) {
	if len(paths) == 0 {
		return Status{}, apperr.Validation("folder_paths must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsIndexing {
		return r.status, apperr.Conflict("Indexing already in progress")
	}
	if r.resets > 0 {
		return r.status, apperr.Conflict("Index is being reset")
	}

	var folders []string
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			r.logger.Warn("ignoring invalid folder path", "path", p, "error", err)
			continue
		}
		fi, err := os.Stat(abs)
		if err != nil || !fi.IsDir() {
			r.logger.Warn("ignoring invalid folder path", "path", p)
			continue
		}
		if !seen[abs] {
			seen[abs] = true
			folders = append(folders, abs)
		}
	}
	if len(folders) == 0 {
		return Status{}, apperr.Validation("No valid folder paths provided")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	r.status = Status{
		RunID:      uuid.NewString(),
		IsIndexing: true,
		Folders:    folders,
		StartedAt:  time.Now().UTC(),
	}

	go r.run(runCtx, cancel, folders, r.done)

	s := r.status
	s.Folders = append([]string(nil), folders...)
	return s, nil
}

func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, folders []string, done chan struct{}) {
	defer close(done)
	defer cancel()

	total := 0
	for _, f := range folders {
		total += CountSupportedFiles(f)
	}
	r.update(func(s *Status) { s.TotalFiles = total })
	r.logger.Info("indexing started", "folders", len(folders), "files", total)

	var runErr error
	processed, failed := 0, 0
outer:
	for _, folder := range folders {
		for p, err := range r.indexer.IndexFolder(ctx, folder) {
			if p.Path == "" {
				// Folder-level failure; the sequence ends after it.
				runErr = err
				r.logger.Error("indexing folder failed", "path", folder, "error", err)
				if ctx.Err() != nil {
					break outer
				}
				continue
			}
			processed++
			if err != nil {
				failed++
			}
			r.update(func(s *Status) {
				s.CurrentFile = p.Path
				s.ProcessedFiles = processed
				s.FailedFiles = failed
				s.Progress = percent(processed, total)
			})
		}
	}

	var final Status
	r.update(func(s *Status) {
		s.IsIndexing = false
		s.Progress = 100
		s.CurrentFile = ""
		s.FinishedAt = time.Now().UTC()
		if runErr != nil {
			s.LastError = runErr.Error()
		}
		final = *s
	})
	if errors.Is(runErr, context.Canceled) {
		r.logger.Info("indexing cancelled", "processed", processed)
	} else {
		r.logger.Info("indexing finished", "processed", processed, "failed", failed)
	}
	if r.OnFinish != nil {
		r.OnFinish(final)
	}
}

func (r *Runner) update(fn func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
}

// percent returns done as a whole percentage of total, capped at 100.
func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return min(done*100/total, 100)
}

// Cancel stops the active run, if any.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Wait blocks until the active run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset cancels any active run, waits for it, runs wipe when non-nil, and
// clears the status. No run can start between the cancel and the end of
// Reset, so wipe never overlaps a run.
func (r *Runner) Reset(ctx context.Context, wipe func() error) error {
	r.mu.Lock()
	r.resets++
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.resets--
		r.mu.Unlock()
	}()

	if err := r.Wait(ctx); err != nil {
		return err
	}
	if wipe != nil {
		if err := wipe(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.status = Status{}
	r.mu.Unlock()
	return nil
}

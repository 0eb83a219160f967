// Package organiser plans and executes category-based reorganisation of an
// indexed folder, keeping an action log that can be rolled back.
package organiser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/classifier"
	"github.com/kalambet/smartfile/internal/storage"
)

// Store is the persistence the organiser reads from and writes to.
type Store interface {
	GetFolder(id int64) (storage.Folder, error)
	GetFolderByPath(path string) (storage.Folder, error)
	UpsertFolder(path string, parentID *int64) (int64, error)
	FilesUnderFolder(folderID int64) ([]storage.File, error)
	FileContent(fileID int64) (string, error)
	UpdateFileLocation(fileID int64, newPath string, folderID int64) error
	UpdateFileLocationByPath(oldPath, newPath string) error
	SaveActions(folderID int64, batchID string, actions []storage.Action) error
	ListActionsByBatch(batchID string) ([]storage.Action, error)
	UpdateActionStatus(id int64, status storage.ActionStatus, errMsg string) error
}

// Classification is the analysis outcome for one file. Execute consumes a
// list of these, possibly edited by the user.
type Classification struct {
	FileID          int64   `json:"file_id"`
	FilePath        string  `json:"file_path"`
	FileName        string  `json:"file_name"`
	FileType        string  `json:"file_type"`
	Category        string  `json:"classification"`
	Confidence      float64 `json:"confidence"`
	SuggestedFolder string  `json:"suggested_folder"`
	Reasoning       string  `json:"reasoning"`
}

// Analysis is the read-only reorganisation plan for a folder.
type Analysis struct {
	Message            string              `json:"message"`
	Classifications    []Classification    `json:"classifications"`
	SuggestedStructure map[string][]string `json:"suggested_structure"`
	TotalFiles         int                 `json:"total_files"`
}

// Result reports what Execute did.
type Result struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	BatchID        string           `json:"batch_id,omitempty"`
	MovedFiles     int              `json:"moved_files"`
	CreatedFolders int              `json:"created_folders"`
	ActionsNeeded  int              `json:"actions_needed,omitempty"`
	Actions        []storage.Action `json:"actions_log"`
}

// RollbackResult reports what Rollback restored.
type RollbackResult struct {
	BatchID    string `json:"batch_id"`
	RolledBack int    `json:"rolled_back"`
	Failed     int    `json:"failed"`
}

// Organiser classifies and moves files. Execute and Rollback are serialised.
type Organiser struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures an Organiser.
type Option func(*Organiser)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Organiser) { o.logger = l }
}

// New creates an Organiser.
func New(store Store, opts ...Option) *Organiser {
	o := &Organiser{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze classifies every file under the folder, recursively, and groups the
// results by suggested folder. It never touches the filesystem; dryRun is
// accepted for symmetry with Execute and only logged.
func (o *Organiser) Analyze(ctx context.Context, folderID int64, dryRun bool) (Analysis, error) {
	if _, err := o.store.GetFolder(folderID); err != nil {
		return Analysis{}, err
	}
	files, err := o.store.FilesUnderFolder(folderID)
	if err != nil {
		return Analysis{}, err
	}
	o.logger.Info("analyzing folder", "folder_id", folderID, "files", len(files), "dry_run", dryRun)

	analysis := Analysis{
		Classifications:    []Classification{},
		SuggestedStructure: map[string][]string{},
		TotalFiles:         len(files),
	}
	if len(files) == 0 {
		analysis.Message = "No files found to organize"
		return analysis, nil
	}

	byCategory := make(map[string][]string)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Analysis{}, err
		}
		content, err := o.store.FileContent(f.ID)
		if err != nil {
			o.logger.Warn("reading file content", "file_id", f.ID, "error", err)
			content = ""
		}
		res := classifier.Classify(f.Path, content)
		analysis.Classifications = append(analysis.Classifications, Classification{
			FileID:          f.ID,
			FilePath:        f.Path,
			FileName:        f.Name,
			FileType:        f.Type,
			Category:        res.Category,
			Confidence:      res.Confidence,
			SuggestedFolder: classifier.FolderName(res.Category, 1),
			Reasoning:       res.Reasoning,
		})
		byCategory[res.Category] = append(byCategory[res.Category], f.Name)
	}

	for category, names := range byCategory {
		analysis.SuggestedStructure[classifier.FolderName(category, len(names))] = names
	}
	analysis.Message = fmt.Sprintf("Analyzed %d files and found %d organization opportunities",
		len(files), len(analysis.SuggestedStructure))
	return analysis, nil
}

// Execute moves each classified file into its suggested folder under the
// root folder's path. Without confirm nothing happens and the number of
// actions needed is reported.
//
// A failed move is logged as a failed action and the batch continues. An
// error that aborts the batch (store failure, cancellation) rolls back the
// moves completed so far before returning.
func (o *Organiser) Execute(ctx context.Context, folderID int64, classifications []Classification, confirm bool) (Result, error) {
	if !confirm {
		return Result{
			Message:       "Organization requires user confirmation",
			ActionsNeeded: len(classifications),
			Actions:       []storage.Action{},
		}, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	root, err := o.store.GetFolder(folderID)
	if err != nil {
		return Result{}, err
	}

	b := &batch{
		Organiser: o,
		ctx:       ctx,
		id:        uuid.NewString(),
		root:      root,
	}
	o.logger.Info("executing organisation", "folder_id", folderID, "batch_id", b.id, "files", len(classifications))

	if err := b.run(classifications); err != nil {
		o.logger.Error("organisation aborted, rolling back", "batch_id", b.id, "error", err)
		o.rollbackActions(b.actions)
		if len(b.actions) > 0 {
			if serr := o.store.SaveActions(folderID, b.id, b.actions); serr != nil {
				o.logger.Error("saving action log", "batch_id", b.id, "error", serr)
			}
		}
		return Result{}, err
	}

	if err := o.store.SaveActions(folderID, b.id, b.actions); err != nil {
		// Without a persisted log the moves could never be rolled back.
		o.logger.Error("saving action log, rolling back", "batch_id", b.id, "error", err)
		o.rollbackActions(b.actions)
		return Result{}, err
	}

	o.logger.Info("organisation complete", "batch_id", b.id, "moved", b.moved, "folders_created", b.created)
	return Result{
		Success:        true,
		Message:        fmt.Sprintf("Successfully organized %d files into %d folders", b.moved, b.created),
		BatchID:        b.id,
		MovedFiles:     b.moved,
		CreatedFolders: b.created,
		Actions:        b.actions,
	}, nil
}

// Rollback reverses the completed moves of a persisted batch, newest first,
// and marks them rolled back. Individual failures are logged and counted.
func (o *Organiser) Rollback(ctx context.Context, batchID string) (RollbackResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	actions, err := o.store.ListActionsByBatch(batchID)
	if err != nil {
		return RollbackResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return RollbackResult{}, err
	}

	res := RollbackResult{BatchID: batchID}
	for _, i := range o.rollbackActions(actions) {
		a := actions[i]
		if a.Status != storage.StatusRolledBack {
			res.Failed++
			continue
		}
		if err := o.store.UpdateActionStatus(a.ID, storage.StatusRolledBack, ""); err != nil {
			o.logger.Error("marking action rolled back", "action_id", a.ID, "error", err)
			res.Failed++
			continue
		}
		res.RolledBack++
	}
	o.logger.Info("rollback complete", "batch_id", batchID, "rolled_back", res.RolledBack, "failed", res.Failed)
	return res, nil
}

// rollbackActions moves completed moves back in reverse order and sets their
// status to rolled back. It returns the indices of the actions it attempted.
func (o *Organiser) rollbackActions(actions []storage.Action) []int {
	var attempted []int
	for i := len(actions) - 1; i >= 0; i-- {
		a := &actions[i]
		if a.Type != storage.ActionMove || a.Status != storage.StatusCompleted {
			continue
		}
		attempted = append(attempted, i)

		if _, err := os.Stat(a.TargetPath); err != nil {
			o.logger.Error("rollback: moved file is gone", "path", a.TargetPath, "error", err)
			continue
		}
		if err := moveFile(a.TargetPath, a.SourcePath); err != nil {
			o.logger.Error("rollback: moving file back", "path", a.TargetPath, "error", err)
			continue
		}
		if err := o.store.UpdateFileLocationByPath(a.TargetPath, a.SourcePath); err != nil {
			o.logger.Error("rollback: updating file location", "path", a.SourcePath, "error", err)
		}
		a.Status = storage.StatusRolledBack
		o.logger.Info("rolled back", "file", filepath.Base(a.SourcePath))
	}
	return attempted
}

// batch is the state of one Execute call.
type batch struct {
	*Organiser
	ctx     context.Context
	id      string
	root    storage.Folder
	actions []storage.Action
	moved   int
	created int
}

// run groups classifications by target folder, preserving first appearance
// order, and processes each group.
func (b *batch) run(classifications []Classification) error {
	var order []string
	groups := make(map[string][]Classification)
	for _, c := range classifications {
		name := c.SuggestedFolder
		if name == "" {
			name = classifier.FolderName(orDefault(c.Category, classifier.Fallback), 1)
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], c)
	}

	for _, name := range order {
		if err := b.runGroup(name, groups[name]); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) runGroup(name string, group []Classification) error {
	target := filepath.Join(b.root.Path, name)

	targetID, err := b.ensureFolder(name, target)
	if err != nil {
		if !errors.Is(err, apperr.ErrFilesystem) {
			return err
		}
		b.logger.Error("creating target folder", "folder", target, "error", err)
		for _, c := range group {
			b.fail(c, filepath.Join(target, filepath.Base(c.FilePath)), err)
		}
		return nil
	}

	for _, c := range group {
		if err := b.ctx.Err(); err != nil {
			return err
		}
		if err := b.moveOne(c, target, targetID); err != nil {
			return err
		}
	}
	return nil
}

// ensureFolder creates the target directory when missing and makes sure it is
// registered as a child of the root folder.
func (b *batch) ensureFolder(name, target string) (int64, error) {
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return 0, apperr.Filesystem("creating folder", target, fmt.Errorf("invalid folder name %q", name))
	}

	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return 0, apperr.Filesystem("creating folder", target, err)
		}
		b.created++
		b.actions = append(b.actions, storage.Action{
			Type:       storage.ActionCreateFolder,
			TargetPath: target,
			Status:     storage.StatusCompleted,
		})
		b.logger.Info("created folder", "path", target)
	} else if err != nil {
		return 0, apperr.Filesystem("creating folder", target, err)
	}

	if f, err := b.store.GetFolderByPath(target); err == nil {
		return f.ID, nil
	}
	rootID := b.root.ID
	return b.store.UpsertFolder(target, &rootID)
}

// moveOne moves a single file. Filesystem problems become failed actions;
// only store failures are returned.
func (b *batch) moveOne(c Classification, targetDir string, targetID int64) error {
	source := filepath.Clean(c.FilePath)
	target := filepath.Join(targetDir, filepath.Base(source))
	if source == target {
		return nil
	}

	if _, err := os.Stat(source); err != nil {
		b.fail(c, target, apperr.Filesystem("moving", source, err))
		return nil
	}
	if _, err := os.Stat(target); err == nil {
		b.fail(c, target, apperr.Filesystem("moving", source, fmt.Errorf("target %s already exists", target)))
		return nil
	}
	if err := moveFile(source, target); err != nil {
		b.fail(c, target, apperr.Filesystem("moving", source, err))
		return nil
	}

	if err := b.store.UpdateFileLocation(c.FileID, target, targetID); err != nil {
		// Put the file back so disk and store agree before aborting.
		if merr := moveFile(target, source); merr != nil {
			b.logger.Error("restoring file after store failure", "path", source, "error", merr)
		}
		return fmt.Errorf("updating location of %s: %w", source, err)
	}

	b.moved++
	b.actions = append(b.actions, storage.Action{
		Type:           storage.ActionMove,
		SourcePath:     source,
		TargetPath:     target,
		Classification: c.Category,
		Confidence:     c.Confidence,
		Status:         storage.StatusCompleted,
	})
	b.logger.Info("moved file", "file", filepath.Base(source), "folder", filepath.Base(targetDir))
	return nil
}

func (b *batch) fail(c Classification, target string, err error) {
	b.logger.Warn("move failed", "path", c.FilePath, "error", err)
	b.actions = append(b.actions, storage.Action{
		Type:           storage.ActionMove,
		SourcePath:     c.FilePath,
		TargetPath:     target,
		Classification: c.Category,
		Confidence:     c.Confidence,
		Status:         storage.StatusFailed,
		ErrorMessage:   err.Error(),
	})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

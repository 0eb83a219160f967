// Package indexer walks folders, extracts and chunks supported files, embeds
// the chunks, and persists the results.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/chunker"
	"github.com/kalambet/smartfile/internal/extract"
	"github.com/kalambet/smartfile/internal/storage"
)

// DefaultFileTimeout bounds extraction plus embedding of one file.
const DefaultFileTimeout = 2 * time.Minute

// Store is the persistence the indexer writes to.
type Store interface {
	UpsertFolder(path string, parentID *int64) (int64, error)
	GetFolderByPath(path string) (storage.Folder, error)
	GetFileByPath(path string) (storage.File, error)
	SaveFile(folderID int64, path string, info storage.FileInfo, chunks []storage.Chunk) (int64, error)
}

// Extractor turns a file into text.
type Extractor interface {
	ExtractErr(ctx context.Context, path string) (string, error)
}

// Embedder generates chunk embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Progress is emitted once per supported file.
type Progress struct {
	Path    string
	Count   int // files indexed successfully so far in this folder
	Chunks  int
	Skipped bool // unchanged since the last run
}

// Indexer indexes folders into a Store.
type Indexer struct {
	store         Store
	extractor     Extractor
	embedder      Embedder
	splitter      *chunker.Splitter
	fileTimeout   time.Duration
	skipUnchanged bool
	logger        *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithSplitter sets the chunk splitter.
func WithSplitter(s *chunker.Splitter) Option {
	return func(ix *Indexer) { ix.splitter = s }
}

// WithFileTimeout bounds the time spent on a single file. Zero disables it.
func WithFileTimeout(d time.Duration) Option {
	return func(ix *Indexer) { ix.fileTimeout = d }
}

// WithSkipUnchanged skips files whose content digest matches the stored one,
// so their embeddings are not regenerated.
func WithSkipUnchanged(skip bool) Option {
	return func(ix *Indexer) { ix.skipUnchanged = skip }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// New creates an Indexer.
func New(store Store, extractor Extractor, embedder Embedder, opts ...Option) *Indexer {
	ix := &Indexer{
		store:       store,
		extractor:   extractor,
		embedder:    embedder,
		splitter:    chunker.New(),
		fileTimeout: DefaultFileTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// CountSupportedFiles counts files under root with a supported extension.
// Unreadable subdirectories are skipped.
func CountSupportedFiles(root string) int {
	count := 0
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && extract.Supported(path) {
			count++
		}
		return nil
	})
	return count
}

var errStop = errors.New("stop walking")

// IndexFolder returns a sequence that indexes root when ranged over. Each
// supported file produces one element: a Progress with a nil error when the
// file was stored, or with the file's error when it failed.
// A failure that ends the folder (invalid root, cancellation, store errors
// registering folders) is yielded last with an empty Progress.
//
// Every range over the sequence performs a fresh walk.
func (ix *Indexer) IndexFolder(ctx context.Context, root string) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			yield(Progress{}, apperr.Validation("invalid folder path %q: %v", root, err))
			return
		}
		root := abs
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			yield(Progress{}, apperr.Validation("invalid folder path: %s", root))
			return
		}

		folders := newFolderSet(ix.store, root)
		if _, err := folders.ensure(root); err != nil {
			yield(Progress{}, err)
			return
		}
		ix.logger.Info("indexing folder", "path", root)

		count := 0
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				ix.logger.Warn("skipping unreadable path", "path", path, "error", err)
				if d != nil && d.IsDir() && path != root {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !extract.Supported(path) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			folderID, err := folders.ensure(filepath.Dir(path))
			if err != nil {
				return err
			}

			p, err := ix.indexFile(ctx, folderID, path)
			if err != nil {
				ix.logger.Warn("failed to index file", "path", path, "error", err)
				if !yield(Progress{Path: path, Count: count}, err) {
					return errStop
				}
				return nil
			}
			count++
			p.Count = count
			if !yield(p, nil) {
				return errStop
			}
			return nil
		})

		switch {
		case walkErr == nil:
			ix.logger.Info("indexed folder", "path", root, "files", count)
		case errors.Is(walkErr, errStop):
		default:
			yield(Progress{}, walkErr)
		}
	}
}

// indexFile extracts, splits, embeds, and stores one file.
func (ix *Indexer) indexFile(ctx context.Context, folderID int64, path string) (Progress, error) {
	if ix.fileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.fileTimeout)
		defer cancel()
	}

	fi, err := os.Stat(path)
	if err != nil {
		return Progress{}, apperr.Extraction(path, err)
	}
	hash, err := fileDigest(path)
	if err != nil {
		return Progress{}, apperr.Extraction(path, err)
	}

	if ix.skipUnchanged {
		if prev, err := ix.store.GetFileByPath(path); err == nil && prev.ContentHash == hash {
			ix.logger.Debug("skipping unchanged file", "path", path)
			return Progress{Path: path, Chunks: prev.ChunkCount, Skipped: true}, nil
		}
	}

	info := storage.FileInfo{
		Name:         filepath.Base(path),
		Type:         strings.ToLower(filepath.Ext(path)),
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		ContentHash:  hash,
	}

	text, err := ix.extractor.ExtractErr(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return Progress{}, fmt.Errorf("indexing %s: %w", path, ctx.Err())
		}
		return ix.extractionFailed(folderID, path, info, err)
	}

	chunks, err := ix.embedChunks(ctx, path, ix.splitter.Split(text))
	if err != nil {
		return Progress{}, err
	}

	if _, err := ix.store.SaveFile(folderID, path, info, chunks); err != nil {
		return Progress{}, err
	}
	if len(chunks) == 0 {
		ix.logger.Warn("no content extracted", "path", path)
	}
	return Progress{Path: path, Chunks: len(chunks)}, nil
}

// extractionFailed records a file whose text could not be read and returns
// the extraction error so the run counts it as failed. A file indexed before
// keeps its row and chunks untouched, so its last good content stays
// searchable and the next run retries it. A new file is saved without chunks
// so it still shows up in listings and can be classified by name.
func (ix *Indexer) extractionFailed(folderID int64, path string, info storage.FileInfo, extractErr error) (Progress, error) {
	if prev, err := ix.store.GetFileByPath(path); err == nil {
		ix.logger.Warn("extraction failed, keeping previous chunks", "path", path, "chunks", prev.ChunkCount, "error", extractErr)
		return Progress{Path: path, Chunks: prev.ChunkCount}, extractErr
	}
	ix.logger.Warn("extraction failed", "path", path, "error", extractErr)
	if _, err := ix.store.SaveFile(folderID, path, info, nil); err != nil {
		return Progress{}, err
	}
	return Progress{Path: path}, extractErr
}

// embedChunks embeds all pieces in one batch. If the batch fails, pieces are
// embedded one at a time and the ones that still fail are dropped. The file
// fails only when no piece could be embedded.
func (ix *Indexer) embedChunks(ctx context.Context, path string, pieces []string) ([]storage.Chunk, error) {
	if len(pieces) == 0 {
		return nil, nil
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, pieces)
	if err == nil {
		chunks := make([]storage.Chunk, len(pieces))
		for i, p := range pieces {
			chunks[i] = storage.Chunk{Index: i, Content: p, Embedding: vecs[i]}
		}
		return chunks, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("embedding %s: %w", path, ctx.Err())
	}
	ix.logger.Warn("batch embedding failed, retrying per chunk", "path", path, "error", err)

	var chunks []storage.Chunk
	var lastErr error
	for i, p := range pieces {
		vec, err := ix.embedder.Embed(ctx, p)
		if err != nil {
			ix.logger.Warn("skipping chunk", "path", path, "chunk", i, "error", err)
			lastErr = err
			continue
		}
		chunks = append(chunks, storage.Chunk{Index: i, Content: p, Embedding: vec})
	}
	if len(chunks) == 0 {
		return nil, lastErr
	}
	return chunks, nil
}

// fileDigest returns the hex SHA-256 of the file's contents.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// folderSet registers directories as folders on first use, parenting each to
// the folder of its parent directory. The walk root is parented to an already
// indexed folder for its parent directory, when there is one.
type folderSet struct {
	store Store
	root  string
	ids   map[string]int64
}

func newFolderSet(store Store, root string) *folderSet {
	return &folderSet{store: store, root: root, ids: make(map[string]int64)}
}

func (s *folderSet) ensure(dir string) (int64, error) {
	if id, ok := s.ids[dir]; ok {
		return id, nil
	}

	var parent *int64
	if dir == s.root {
		if p, err := s.store.GetFolderByPath(filepath.Dir(dir)); err == nil && filepath.Dir(dir) != dir {
			parent = &p.ID
		}
	} else {
		pid, err := s.ensure(filepath.Dir(dir))
		if err != nil {
			return 0, err
		}
		parent = &pid
	}

	id, err := s.store.UpsertFolder(dir, parent)
	if err != nil {
		return 0, fmt.Errorf("registering folder %s: %w", dir, err)
	}
	s.ids[dir] = id
	return id, nil
}

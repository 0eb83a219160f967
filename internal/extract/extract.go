// Package extract turns files into plain text for chunking. The extractor is
// chosen by file extension; anything without a dedicated extractor is read as
// UTF-8 text.
package extract

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kalambet/smartfile/internal/apperr"
)

// supported lists every extension the indexer processes.
var supported = []string{
	".txt", ".md", ".py", ".js", ".html", ".css", ".json",
	".pdf", ".docx", ".doc", ".rtf", ".odt", ".xml", ".yaml", ".yml", ".c",
}

// SupportedExtensions returns a copy of the supported extension list.
func SupportedExtensions() []string {
	return slices.Clone(supported)
}

// Supported reports whether path has an extension the indexer processes.
// Matching is case-insensitive.
func Supported(path string) bool {
	return slices.Contains(supported, strings.ToLower(filepath.Ext(path)))
}

// Extractor converts one file to text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, path string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) { return f(ctx, path) }

// Registry selects an Extractor by extension.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
	logger   *slog.Logger
}

// NewRegistry returns a Registry with the default extractors registered.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	docx := ExtractorFunc(extractDOCX)
	return &Registry{
		byExt: map[string]Extractor{
			".pdf":  ExtractorFunc(extractPDF),
			".docx": docx,
			".doc":  docx,
			".html": ExtractorFunc(extractHTML),
		},
		fallback: ExtractorFunc(extractText),
		logger:   logger,
	}
}

// Register sets the extractor for ext, replacing any existing one.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// For returns the extractor used for path.
func (r *Registry) For(path string) Extractor {
	if e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return e
	}
	return r.fallback
}

// ExtractErr extracts path and reports failures as extraction errors.
func (r *Registry) ExtractErr(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := r.For(path).Extract(ctx, path)
	if err != nil {
		return "", apperr.Extraction(path, err)
	}
	return text, nil
}

// Extract returns the text of path, or "" when extraction fails. Failures are
// logged rather than returned so one bad file never stops a run.
func (r *Registry) Extract(ctx context.Context, path string) string {
	text, err := r.ExtractErr(ctx, path)
	if err != nil {
		r.logger.Warn("extraction failed", "path", path, "error", err)
		return ""
	}
	return text
}

// Package api exposes indexing, search, question answering, and folder
// reorganisation over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/kalambet/smartfile/internal/answer"
	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/indexer"
	"github.com/kalambet/smartfile/internal/organiser"
	"github.com/kalambet/smartfile/internal/storage"
)

// Version is reported by the health endpoint and the MCP server.
const Version = "1.0.0"

const maxRequestBodySize = 1 << 20 // 1MB

// Searcher runs a semantic search over indexed chunks.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, threshold float32) ([]storage.Match, error)
}

// Asker answers questions from indexed content.
type Asker interface {
	Ask(ctx context.Context, question string) (answer.Response, error)
}

// Indexer starts and observes background indexing runs.
type Indexer interface {
	Start(ctx context.Context, paths []string) (indexer.Status, error)
	Snapshot() indexer.Status
	Cancel()
	Reset(ctx context.Context, wipe func() error) error
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store     *storage.Store
	Indexer   Indexer
	Searcher  Searcher
	Asker     Asker
	Organiser *organiser.Organiser

	// Search defaults applied when a request leaves them unset.
	SearchLimit     int
	SearchThreshold float32

	// Token, when non-empty, is required as a bearer token on /api routes.
	Token       string
	CORSOrigins []string
	Logger      *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewHandler builds the HTTP handler with CORS applied.
func NewHandler(deps Deps) http.Handler {
	if deps.SearchLimit <= 0 {
		deps.SearchLimit = 10
	}
	if deps.SearchThreshold <= 0 {
		deps.SearchThreshold = 0.3
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken(deps.Token, deps.logger()))

		r.Post("/index", handleIndex(deps))
		r.Get("/index/status", handleIndexStatus(deps))
		r.Post("/index/cancel", handleIndexCancel(deps))
		r.Delete("/index/clear", handleIndexClear(deps))

		r.Post("/search", handleSearch(deps))
		r.Post("/query", handleQuery(deps))

		r.Get("/files", handleListFiles(deps))
		r.Get("/folders", handleListFolders(deps))
		r.Get("/folders/tree", handleFolderTree(deps))
		r.Get("/folders/{id}/files", handleFolderFiles(deps))
		r.Delete("/folders/{id}", handleRemoveFolder(deps))

		r.Get("/debug/stats", handleDebugStats(deps))

		r.Post("/organise/analyze", handleOrganiseAnalyze(deps))
		r.Post("/organise/execute", handleOrganiseExecute(deps))
		r.Post("/organise/rollback", handleOrganiseRollback(deps))
		r.Get("/organise/actions", handleOrganiseActions(deps))
	})

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folders, err := deps.Store.ListFolders()
		if err != nil {
			deps.logger().Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "healthy",
			"version":         Version,
			"database":        "connected",
			"indexed_folders": len(folders),
		})
	}
}

// decodeBody reads a JSON request body into v and, when v knows how to
// validate itself, validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if val, ok := v.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return apperr.Validation("%v", err)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps err onto its HTTP status and error type.
func writeErr(w http.ResponseWriter, err error) {
	code := apperr.Status(err)
	errType := "api_error"
	switch {
	case errors.Is(err, apperr.ErrValidation):
		errType = "invalid_request_error"
	case errors.Is(err, apperr.ErrNotFound):
		errType = "not_found"
	case errors.Is(err, apperr.ErrConflict):
		errType = "conflict"
	}
	httpError(w, code, errType, "%s", err.Error())
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("Invalid folder ID")
	}
	return id, nil
}

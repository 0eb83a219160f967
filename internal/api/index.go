package api

import (
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type indexRequest struct {
	FolderPaths []string `json:"folder_paths"`
}

func (r indexRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FolderPaths,
			validation.Required.Error("No folder paths provided"),
			validation.Each(validation.Required),
		),
	)
}

type indexResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	IndexedFiles int    `json:"indexed_files"`
	RunID        string `json:"run_id,omitempty"`
}

func handleIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req indexRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}

		deps.logger().Info("indexing requested", "folders", req.FolderPaths)
		st, err := deps.Indexer.Start(r.Context(), req.FolderPaths)
		if err != nil {
			writeErr(w, err)
			return
		}

		writeJSON(w, http.StatusOK, indexResponse{
			Success: true,
			Message: fmt.Sprintf("Started indexing %d folders", len(st.Folders)),
			RunID:   st.RunID,
		})
	}
}

func handleIndexStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Indexer.Snapshot())
	}
}

func handleIndexCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Indexer.Snapshot()
		if !st.IsIndexing {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "No indexing run in progress"})
			return
		}
		deps.Indexer.Cancel()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Indexing cancelled"})
	}
}

func handleIndexClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Indexer.Reset(r.Context(), deps.Store.ClearAll); err != nil {
			writeErr(w, err)
			return
		}
		deps.logger().Info("index cleared")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Index cleared successfully"})
	}
}

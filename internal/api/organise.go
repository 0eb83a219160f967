package api

import (
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kalambet/smartfile/internal/organiser"
)

type analyzeRequest struct {
	FolderID int64 `json:"folder_id"`
	DryRun   bool  `json:"dry_run"`
}

func (r analyzeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FolderID, validation.Required, validation.Min(int64(1))),
	)
}

type executeRequest struct {
	FolderID        int64                      `json:"folder_id"`
	Classifications []organiser.Classification `json:"classifications"`
	Confirm         bool                       `json:"confirm"`
}

func (r executeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FolderID, validation.Required, validation.Min(int64(1))),
	)
}

type rollbackRequest struct {
	BatchID string `json:"batch_id"`
}

func (r rollbackRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BatchID, validation.Required),
	)
}

func handleOrganiseAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}
		analysis, err := deps.Organiser.Analyze(r.Context(), req.FolderID, req.DryRun)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "analysis": analysis})
	}
}

func handleOrganiseExecute(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}
		res, err := deps.Organiser.Execute(r.Context(), req.FolderID, req.Classifications, req.Confirm)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleOrganiseRollback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rollbackRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}
		res, err := deps.Organiser.Rollback(r.Context(), req.BatchID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": res.Failed == 0, "rollback": res})
	}
}

func handleOrganiseActions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := r.URL.Query().Get("folder_id")
		folderID, err := strconv.ParseInt(s, 10, 64)
		if err != nil || folderID <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "folder_id query parameter is required")
			return
		}
		if _, err := deps.Store.GetFolder(folderID); err != nil {
			writeErr(w, err)
			return
		}
		actions, err := deps.Store.ListActions(folderID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "actions": actions})
	}
}

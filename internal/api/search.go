package api

import (
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kalambet/smartfile/internal/answer"
)

// EmptyIndexMessage accompanies an empty search result when nothing has been
// indexed.
const EmptyIndexMessage = "No indexed content found. Please add and index some folders first."

type searchRequest struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	Threshold *float32 `json:"threshold"`
}

func (r searchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Query, validation.Required.Error("Search query cannot be empty")),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(100)),
		validation.Field(&r.Threshold, validation.Min(float32(-1)), validation.Max(float32(1))),
	)
}

// SearchResult is one ranked chunk in a search response.
type SearchResult struct {
	FilePath        string  `json:"file_path"`
	FileName        string  `json:"file_name"`
	FileType        string  `json:"file_type"`
	Content         string  `json:"content"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float32 `json:"similarity_score"`
	LastModified    string  `json:"last_modified"`
}

// SearchResponse is the body of POST /api/search.
type SearchResponse struct {
	Success      bool           `json:"success"`
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	Message      string         `json:"message,omitempty"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}

		chunks, err := deps.Store.TotalChunks()
		if err != nil {
			writeErr(w, err)
			return
		}
		if chunks == 0 {
			writeJSON(w, http.StatusOK, SearchResponse{
				Success: true,
				Results: []SearchResult{},
				Message: EmptyIndexMessage,
			})
			return
		}

		limit := req.Limit
		if limit == 0 {
			limit = deps.SearchLimit
		}
		threshold := deps.SearchThreshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}

		matches, err := deps.Searcher.Search(r.Context(), req.Query, limit, threshold)
		if err != nil {
			writeErr(w, err)
			return
		}
		deps.logger().Info("search completed", "query", req.Query, "results", len(matches))

		results := make([]SearchResult, len(matches))
		for i, m := range matches {
			results[i] = SearchResult{
				FilePath:        m.FilePath,
				FileName:        m.FileName,
				FileType:        m.FileType,
				Content:         m.Content,
				ChunkIndex:      m.ChunkIndex,
				SimilarityScore: m.Score,
				LastModified:    m.LastModified.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, SearchResponse{
			Success:      true,
			Results:      results,
			TotalResults: len(results),
		})
	}
}

type queryRequest struct {
	Question string `json:"question"`
}

func (r queryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Question, validation.Required.Error("Question cannot be empty")),
	)
}

type queryResponse struct {
	Success bool `json:"success"`
	answer.Response
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}

		resp, err := deps.Asker.Ask(r.Context(), req.Question)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, queryResponse{Success: true, Response: resp})
	}
}

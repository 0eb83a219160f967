package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func tagsHandler(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		var resp tagsResponse
		for _, n := range names {
			resp.Models = append(resp.Models, struct {
				Name string `json:"name"`
			}{Name: n})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestOllamaEngine_Chat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "hello from ollama"},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL + "/")
	result, err := e.Chat(context.Background(), "llama3.2", []Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "hello from ollama" {
		t.Errorf("got %q, want %q", result, "hello from ollama")
	}
	if got.Model != "llama3.2" || got.Stream || len(got.Messages) != 1 {
		t.Errorf("request = %+v", got)
	}
}

func TestOllamaEngine_Embed(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	vec, err := e.Embed(context.Background(), "all-minilm", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d floats, want 3", len(vec))
	}
	if got.Input != "hello" || !got.Truncate {
		t.Errorf("request = %+v, want single input with truncate", got)
	}
}

func TestOllamaEngine_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 0}, {0, 1}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	vecs, err := e.EmbedBatch(context.Background(), "all-minilm", []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[1][1] != 1 {
		t.Errorf("vecs = %v", vecs)
	}

	if _, err := e.EmbedBatch(context.Background(), "all-minilm", []string{"a", "b", "c"}); err == nil {
		t.Error("expected error when the server returns fewer embeddings than inputs")
	}
}

func TestOllamaEngine_EmbedBatch_Empty(t *testing.T) {
	e := NewOllamaEngine("http://127.0.0.1:1")
	vecs, err := e.EmbedBatch(context.Background(), "all-minilm", nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil without a request", vecs, err)
	}
}

func TestOllamaEngine_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"nomic\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	_, err := e.Embed(context.Background(), "nomic", "hello")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "try pulling it first") || !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want status and server message", err)
	}
}

func TestOllamaEngine_IsRunning(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("all-minilm:latest"))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestOllamaEngine_IsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	e := NewOllamaEngine(srv.URL)
	if e.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestOllamaEngine_HasModel(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("all-minilm:latest", "llama3.2:latest"))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if !e.HasModel(context.Background(), "all-minilm") {
		t.Error("HasModel(all-minilm) = false, want true")
	}
	if !e.HasModel(context.Background(), "llama3.2:latest") {
		t.Error("HasModel(llama3.2:latest) = false, want true")
	}
	if e.HasModel(context.Background(), "all") {
		t.Error("HasModel(all) = true, want false for a name prefix")
	}
}

func TestOllamaEngine_PullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 500})
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 1000})
		enc.Encode(map[string]any{"status": "success"})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	var progress []PullProgress
	err := e.PullModel(context.Background(), "all-minilm", func(p PullProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(progress) != 3 {
		t.Fatalf("received %d progress updates, want 3", len(progress))
	}
	if progress[0].Completed != 500 || progress[2].Status != "success" {
		t.Errorf("progress = %+v", progress)
	}
}

func TestOllamaEngine_PullModel_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{"status": "pulling manifest"})
		enc.Encode(map[string]any{"error": "pull model manifest: file does not exist"})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	err := e.PullModel(context.Background(), "no-such-model", nil)
	if err == nil || !strings.Contains(err.Error(), "file does not exist") {
		t.Errorf("err = %v, want the streamed error", err)
	}
}

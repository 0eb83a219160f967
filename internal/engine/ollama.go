package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var _ Engine = (*OllamaEngine)(nil)

// OllamaEngine talks to a local Ollama server over its HTTP API.
type OllamaEngine struct {
	baseURL string
	client  *http.Client
}

// NewOllamaEngine creates an OllamaEngine for the server at baseURL. Requests
// are bounded by their context only: pulls and long answers can take minutes.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// do sends a request with an optional JSON body and returns the response when
// the server answers 200. Other statuses become errors carrying Ollama's
// error message when it sent one.
func (e *OllamaEngine) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", path, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	var apiErr struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, apiErr.Error)
	}
	return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
}

func (e *OllamaEngine) call(ctx context.Context, path string, in, out any) error {
	resp, err := e.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	var out chatResponse
	if err := e.call(ctx, "/api/chat", chatRequest{Model: model, Messages: messages}, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

// embedRequest asks Ollama to truncate inputs longer than the model context
// instead of failing the whole batch.
type embedRequest struct {
	Model    string `json:"model"`
	Input    any    `json:"input"`
	Truncate bool   `json:"truncate"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *OllamaEngine) embed(ctx context.Context, model string, input any, want int) ([][]float32, error) {
	var out embedResponse
	if err := e.call(ctx, "/api/embed", embedRequest{Model: model, Input: input, Truncate: true}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != want {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(out.Embeddings), want)
	}
	return out.Embeddings, nil
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, model, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, model, texts, len(texts))
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (e *OllamaEngine) tags(ctx context.Context, timeout time.Duration) (tagsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var tags tagsResponse
	resp, err := e.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return tags, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&tags)
	return tags, err
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	_, err := e.tags(ctx, 2*time.Second)
	return err == nil
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	tags, err := e.tags(ctx, 10*time.Second)
	if err != nil {
		return false
	}
	for _, m := range tags.Models {
		// Ollama reports "all-minilm:latest"; match without the tag suffix.
		if m.Name == name || strings.HasPrefix(m.Name, name+":") {
			return true
		}
	}
	return false
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullModel downloads a model and reads the streamed progress to completion.
// A progress line carrying an error fails the pull.
func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := e.do(ctx, http.MethodPost, "/api/pull", pullRequest{Name: name, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p struct {
			PullProgress
			Error string `json:"error"`
		}
		if err := dec.Decode(&p); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("pull %s: %s", name, p.Error)
		}
		if onProgress != nil {
			onProgress(p.PullProgress)
		}
	}
}

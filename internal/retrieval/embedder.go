package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/engine"
)

// emptyPlaceholder is embedded in place of blank input so every text maps to
// a vector of the model's dimension.
const emptyPlaceholder = "empty content"

// batchSize is the number of texts sent to the engine per request.
const batchSize = 16

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, normalize(text))
	if err != nil {
		return nil, apperr.Embedding("embedding text", err)
	}
	if len(vec) == 0 {
		return nil, apperr.Embedding("embedding text", fmt.Errorf("model %s returned an empty vector", e.model))
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts, in input order.
// Texts are sent in batches with bounded concurrency.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			batch := make([]string, end-start)
			for i, t := range texts[start:end] {
				batch[i] = normalize(t)
			}
			vecs, err := e.engine.EmbedBatch(gCtx, e.model, batch)
			if err != nil {
				return apperr.Embedding(fmt.Sprintf("embedding texts %d-%d", start, end-1), err)
			}
			if len(vecs) != len(batch) {
				return apperr.Embedding("embedding texts", fmt.Errorf("got %d vectors for %d texts", len(vecs), len(batch)))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyPlaceholder
	}
	return text
}

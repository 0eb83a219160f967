package retrieval

import (
	"context"

	"github.com/kalambet/smartfile/internal/storage"
)

// Searcher runs a similarity search over stored chunk embeddings.
type Searcher interface {
	Search(query []float32, limit int, threshold float32) ([]storage.Match, error)
}

// Retriever combines embedding and vector search to find relevant chunks.
type Retriever struct {
	embedder *Embedder
	store    Searcher
}

// NewRetriever creates a Retriever backed by the given Embedder and Searcher.
func NewRetriever(embedder *Embedder, store Searcher) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Search embeds the query and returns up to limit chunks scoring at least
// threshold, best first.
func (r *Retriever) Search(ctx context.Context, query string, limit int, threshold float32) ([]storage.Match, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Search(vec, limit, threshold)
}

// SearchRelaxed embeds the query once and tries each threshold in turn,
// returning the first non-empty result set. It returns an empty slice when
// every threshold comes back empty.
func (r *Retriever) SearchRelaxed(ctx context.Context, query string, limit int, thresholds ...float32) ([]storage.Match, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, th := range thresholds {
		matches, err := r.store.Search(vec, limit, th)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return []storage.Match{}, nil
}

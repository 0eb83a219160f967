package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/smartfile/internal/storage"
)

type mockSearcher struct {
	searchFn func(query []float32, limit int, threshold float32) ([]storage.Match, error)
	calls    []float32
}

func (m *mockSearcher) Search(query []float32, limit int, threshold float32) ([]storage.Match, error) {
	m.calls = append(m.calls, threshold)
	return m.searchFn(query, limit, threshold)
}

func constEngine() *mockEngine {
	return &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return []float32{1, 0}, nil
		},
	}
}

func TestRetriever_Search(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(q []float32, limit int, threshold float32) ([]storage.Match, error) {
			if limit != 5 || threshold != 0.3 {
				t.Errorf("Search(limit=%d, threshold=%f)", limit, threshold)
			}
			return []storage.Match{{ChunkID: 1, Content: "hit", Score: 0.9}}, nil
		},
	}
	r := NewRetriever(NewEmbedder(constEngine(), "all-minilm"), store)

	got, err := r.Search(context.Background(), "query", 5, 0.3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Content != "hit" {
		t.Errorf("got %+v", got)
	}
}

func TestRetriever_SearchRelaxed_FallsBack(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ []float32, _ int, threshold float32) ([]storage.Match, error) {
			if threshold > 0.05 {
				return nil, nil
			}
			return []storage.Match{{ChunkID: 2, Score: 0.07}}, nil
		},
	}
	r := NewRetriever(NewEmbedder(constEngine(), "all-minilm"), store)

	got, err := r.SearchRelaxed(context.Background(), "query", 10, 0.1, 0.05)
	if err != nil {
		t.Fatalf("SearchRelaxed: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != 2 {
		t.Errorf("got %+v", got)
	}
	if len(store.calls) != 2 {
		t.Errorf("search called %d times, want 2", len(store.calls))
	}
}

func TestRetriever_SearchRelaxed_AllEmpty(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ []float32, _ int, _ float32) ([]storage.Match, error) { return nil, nil },
	}
	r := NewRetriever(NewEmbedder(constEngine(), "all-minilm"), store)

	got, err := r.SearchRelaxed(context.Background(), "query", 10, 0.1, 0.05)
	if err != nil {
		t.Fatalf("SearchRelaxed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestRetriever_SearchError(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ []float32, _ int, _ float32) ([]storage.Match, error) {
			return nil, errors.New("disk I/O error")
		},
	}
	r := NewRetriever(NewEmbedder(constEngine(), "all-minilm"), store)

	if _, err := r.SearchRelaxed(context.Background(), "query", 10, 0.1); err == nil {
		t.Fatal("expected error, got nil")
	}
}

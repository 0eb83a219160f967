package engine

import (
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message) (string, error) {
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) EmbedBatch(_ context.Context, _ string, _ []string) ([][]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool             { return m.isRunning }
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"all-minilm": true, "llama3.2": true},
	}
	err := EnsureReady(context.Background(), m, "all-minilm", "llama3.2", io.Discard)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{},
	}
	err := EnsureReady(context.Background(), m, "all-minilm", "", io.Discard)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "all-minilm" {
		t.Errorf("expected pull of all-minilm only, got %v", m.pulled)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	err := EnsureReady(context.Background(), m, "all-minilm", "", io.Discard)
	if err == nil {
		t.Fatal("expected error when engine is down")
	}
	if !strings.Contains(err.Error(), "ollama serve") {
		t.Errorf("error = %q, want a hint to start ollama", err)
	}
}

func TestEnsureReady_NoEmbedModel(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "", "llama3.2", io.Discard); err == nil {
		t.Fatal("expected error without an embedding model")
	}
}

func TestProgressPrinter_Throttles(t *testing.T) {
	var sb strings.Builder
	report := progressPrinter(&sb)
	report(PullProgress{Status: "pulling manifest"})
	report(PullProgress{Status: "pulling manifest"})
	for done := int64(0); done <= 1000; done += 10 {
		report(PullProgress{Status: "downloading", Total: 1000, Completed: done})
	}
	report(PullProgress{Status: "success"})

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	// manifest, 0..100% in steps of ten, success
	if len(lines) != 13 {
		t.Errorf("got %d lines, want 13:\n%s", len(lines), sb.String())
	}
}

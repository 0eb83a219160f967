package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/smartfile/internal/storage"
)

func match(name, content string, score float32) storage.Match {
	return storage.Match{FilePath: "/docs/" + name, FileName: name, Content: content, Score: score}
}

func TestContext_Format(t *testing.T) {
	c := New(4000)
	got := c.Context([]storage.Match{
		match("a.txt", "alpha", 0.9),
		match("b.md", "beta", 0.5),
	})

	want := "From a.txt:\nalpha\n\nFrom b.md:\nbeta"
	if got != want {
		t.Errorf("Context = %q, want %q", got, want)
	}
}

func TestContext_Empty(t *testing.T) {
	if got := New(0).Context(nil); got != "" {
		t.Errorf("Context(nil) = %q, want empty", got)
	}
}

func TestContext_BudgetDropsOversizedBlocks(t *testing.T) {
	c := New(50)
	big := strings.Repeat("x", 400)
	got := c.Context([]storage.Match{
		match("a.txt", "short one", 0.9),
		match("big.txt", big, 0.8),
		match("c.txt", "short two", 0.7),
	})

	if strings.Contains(got, "big.txt") {
		t.Error("oversized block should be dropped")
	}
	if !strings.Contains(got, "From a.txt:") || !strings.Contains(got, "From c.txt:") {
		t.Errorf("small blocks missing: %q", got)
	}
}

func TestNew_DefaultBudget(t *testing.T) {
	if got := New(-1).MaxContextTokens; got != defaultMaxContextTokens {
		t.Errorf("MaxContextTokens = %d, want %d", got, defaultMaxContextTokens)
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt("What is due?", "From a.txt:\ntotal due 40")

	if !strings.Contains(p, "Context from files:\nFrom a.txt:\ntotal due 40\n") {
		t.Errorf("prompt missing context: %s", p)
	}
	if !strings.Contains(p, "Question: What is due?") {
		t.Errorf("prompt missing question: %s", p)
	}
}

func TestMessages(t *testing.T) {
	msgs := Messages("q", "ctx")
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Content != Prompt("q", "ctx") {
		t.Error("user message should carry the prompt")
	}
}

func TestSources(t *testing.T) {
	long := strings.Repeat("é", 310)
	got := Sources([]storage.Match{match("a.txt", "short", 0.8), match("b.txt", long, 0.4)})

	if len(got) != 2 {
		t.Fatalf("got %d sources", len(got))
	}
	if got[0].ContentPreview != "short" || got[0].FilePath != "/docs/a.txt" || got[0].SimilarityScore != 0.8 {
		t.Errorf("source 0 = %+v", got[0])
	}
	want := strings.Repeat("é", 300) + "..."
	if got[1].ContentPreview != want {
		t.Errorf("preview length = %d runes", len([]rune(got[1].ContentPreview)))
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

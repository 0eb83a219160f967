// Package composer turns search matches into the context block, prompt, and
// source list used to answer a question.
package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/smartfile/internal/engine"
	"github.com/kalambet/smartfile/internal/storage"
)

const (
	defaultMaxContextTokens = 4000

	// PreviewLength is the number of characters of a chunk shown in a source.
	PreviewLength = 300
)

const systemPrompt = "You answer questions about the user's local files using only the context provided."

// Composer assembles answer prompts from retrieved chunks.
type Composer struct {
	MaxContextTokens int
}

// Source identifies a chunk an answer was built from.
type Source struct {
	FilePath        string  `json:"file_path"`
	FileName        string  `json:"file_name"`
	ContentPreview  string  `json:"content_preview"`
	SimilarityScore float32 `json:"similarity_score"`
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Context renders matches as "From <file name>:\n<content>" blocks separated
// by blank lines, in the order given. Blocks that would exceed the token
// budget are skipped; since matches arrive best first, the lowest scoring
// ones are dropped.
func (c *Composer) Context(matches []storage.Match) string {
	remaining := c.MaxContextTokens
	var blocks []string
	for _, m := range matches {
		block := fmt.Sprintf("From %s:\n%s", m.FileName, m.Content)
		tokens := EstimateTokens(block)
		if tokens > remaining {
			continue
		}
		blocks = append(blocks, block)
		remaining -= tokens
	}
	return strings.Join(blocks, "\n\n")
}

// Prompt builds the single-turn prompt sent to the answer model.
func Prompt(question, context string) string {
	return fmt.Sprintf(`Based on the following context from the user's files, please answer the question accurately and helpfully.

Context from files:
%s

Question: %s

Please provide a clear, helpful answer based on the information in the context. If the context doesn't contain enough information to fully answer the question, please say so and provide what information you can based on what's available.`, context, question)
}

// Messages wraps Prompt in a chat exchange for chat-style backends.
func Messages(question, context string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: Prompt(question, context)},
	}
}

// Sources lists the matches as answer sources.
func Sources(matches []storage.Match) []Source {
	out := make([]Source, len(matches))
	for i, m := range matches {
		out[i] = Source{
			FilePath:        m.FilePath,
			FileName:        m.FileName,
			ContentPreview:  Preview(m.Content, PreviewLength),
			SimilarityScore: m.Score,
		}
	}
	return out
}

// Preview returns the first n characters of s, followed by "..." when s was
// cut.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Package answer generates natural-language answers from retrieved file
// content. Generators never fail: upstream problems become a readable
// fallback answer.
package answer

import (
	"context"
	"fmt"
)

// Generator produces an answer to question from contextText.
type Generator interface {
	Answer(ctx context.Context, question, contextText string) string
}

// Fallback answers.
const (
	TimeoutAnswer       = "The AI service request timed out. Please try again."
	EmptyResponseAnswer = "I received an empty response from the AI service. Please try rephrasing your question."
)

const contextPreviewLength = 500

// UnconfiguredAnswer explains how to configure an API key and shows the start
// of the context that was found.
func UnconfiguredAnswer(contextText string) string {
	preview := contextText
	if len(preview) > contextPreviewLength {
		preview = preview[:contextPreviewLength] + "..."
	}
	return "AI Service Unavailable\n\n" +
		"Please check your configuration:\n\n" +
		"1. Get a Gemini API key from https://ai.google.dev/\n" +
		"2. Set it as SMARTFILE_ANSWER_API_KEY or GEMINI_API_KEY in your environment or .env file\n" +
		"3. Or add api_key under [answer] in the smartfile config file\n\n" +
		"Without an API key, I can search your files but can't generate AI answers.\n\n" +
		"Context from your files:\n" + preview
}

func upstreamErrorAnswer(err error) string {
	return fmt.Sprintf("Error generating answer: %v", err)
}

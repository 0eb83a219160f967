package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/composer"
	"github.com/kalambet/smartfile/internal/storage"
)

// Thresholds tried in order when retrieving context for a question.
const (
	QueryLimit            = 10
	QueryThreshold        = 0.1
	RelaxedQueryThreshold = 0.05
)

// NoContentAnswer is returned when nothing has been indexed yet.
const NoContentAnswer = "No indexed content found. Please add and index some folders first, then try your question again."

// Retriever finds chunks relevant to a question.
type Retriever interface {
	SearchRelaxed(ctx context.Context, query string, limit int, thresholds ...float32) ([]storage.Match, error)
}

// ContentChecker reports whether any chunks are stored.
type ContentChecker interface {
	HasChunks() (bool, error)
}

// Response is the answer to a question together with its sources.
type Response struct {
	Question string            `json:"question"`
	Answer   string            `json:"answer"`
	Sources  []composer.Source `json:"sources"`
}

// Service runs the question-answering flow: retrieve, compose, generate.
type Service struct {
	retriever Retriever
	store     ContentChecker
	composer  *composer.Composer
	generator Generator
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(r Retriever, store ContentChecker, c *composer.Composer, g Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = composer.New(0)
	}
	return &Service{retriever: r, store: store, composer: c, generator: g, logger: logger}
}

// Ask answers question from the indexed content. Retrieval and storage
// failures are returned; generation problems are folded into the answer.
func (s *Service) Ask(ctx context.Context, question string) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, apperr.Validation("question must not be empty")
	}
	resp := Response{Question: question, Sources: []composer.Source{}}

	has, err := s.store.HasChunks()
	if err != nil {
		return Response{}, err
	}
	if !has {
		resp.Answer = NoContentAnswer
		return resp, nil
	}

	matches, err := s.retriever.SearchRelaxed(ctx, question, QueryLimit, QueryThreshold, RelaxedQueryThreshold)
	if err != nil {
		return Response{}, err
	}
	s.logger.Info("retrieved context", "question", question, "matches", len(matches))
	if len(matches) == 0 {
		resp.Answer = notFoundAnswer(question)
		return resp, nil
	}

	resp.Answer = s.generator.Answer(ctx, question, s.composer.Context(matches))
	resp.Sources = composer.Sources(matches)
	return resp, nil
}

func notFoundAnswer(question string) string {
	return fmt.Sprintf("I couldn't find any content related to '%s' in your indexed files. This could mean:\n\n"+
		"1. The content doesn't exist in your files\n"+
		"2. The files haven't been indexed yet\n"+
		"3. The content is in a format that wasn't processed\n\n"+
		"Try checking the 'Browse Files' section to see what content has been indexed.", question)
}

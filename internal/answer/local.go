package answer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kalambet/smartfile/internal/composer"
	"github.com/kalambet/smartfile/internal/engine"
)

// LocalGenerator answers with a chat model served by the local engine.
type LocalGenerator struct {
	engine engine.Engine
	model  string
	logger *slog.Logger
}

// NewLocalGenerator creates a LocalGenerator.
func NewLocalGenerator(e engine.Engine, model string, logger *slog.Logger) *LocalGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalGenerator{engine: e, model: model, logger: logger}
}

// Answer implements Generator.
func (g *LocalGenerator) Answer(ctx context.Context, question, contextText string) string {
	text, err := g.engine.Chat(ctx, g.model, composer.Messages(question, contextText))
	if err != nil {
		if isTimeout(err) {
			return TimeoutAnswer
		}
		g.logger.Error("local answer failed", "model", g.model, "error", err)
		return upstreamErrorAnswer(err)
	}
	if strings.TrimSpace(text) == "" {
		return EmptyResponseAnswer
	}
	return text
}

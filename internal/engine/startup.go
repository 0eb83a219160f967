package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the engine is reachable and that the embedding
// model, plus the chat model when one is given, is available locally. Missing
// models are pulled with progress written to w.
func EnsureReady(ctx context.Context, e Engine, embedModel, chatModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it with: ollama serve")
	}
	if embedModel == "" {
		return fmt.Errorf("no embedding model configured; set ollama.embed_model")
	}

	models := []string{embedModel}
	if chatModel != "" && chatModel != embedModel {
		models = append(models, chatModel)
	}

	for _, model := range models {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		if err := e.PullModel(ctx, model, progressPrinter(w)); err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

// progressPrinter reports status changes and every tenth percent of a
// download instead of each streamed line.
func progressPrinter(w io.Writer) func(PullProgress) {
	lastStatus, lastPct := "", -1
	return func(p PullProgress) {
		if p.Total <= 0 {
			if p.Status != lastStatus {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
			lastStatus, lastPct = p.Status, -1
			return
		}
		pct := int(p.Completed * 100 / p.Total)
		if p.Status != lastStatus || pct/10 != lastPct/10 {
			fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
		}
		lastStatus, lastPct = p.Status, pct
	}
}

package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/composer"
	"github.com/kalambet/smartfile/internal/engine"
	"github.com/kalambet/smartfile/internal/storage"
)

type fakeRetriever struct {
	matches    []storage.Match
	err        error
	thresholds []float32
	limit      int
}

func (f *fakeRetriever) SearchRelaxed(_ context.Context, _ string, limit int, thresholds ...float32) ([]storage.Match, error) {
	f.limit, f.thresholds = limit, thresholds
	return f.matches, f.err
}

type fakeChecker bool

func (f fakeChecker) HasChunks() (bool, error) { return bool(f), nil }

type recordingGenerator struct {
	question, context string
}

func (g *recordingGenerator) Answer(_ context.Context, question, contextText string) string {
	g.question, g.context = question, contextText
	return "generated"
}

func TestAsk_NoContent(t *testing.T) {
	gen := &recordingGenerator{}
	s := NewService(&fakeRetriever{}, fakeChecker(false), nil, gen, nil)

	resp, err := s.Ask(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != NoContentAnswer {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.Sources == nil || len(resp.Sources) != 0 {
		t.Errorf("Sources = %v, want empty slice", resp.Sources)
	}
	if gen.question != "" {
		t.Error("generator should not be called")
	}
}

func TestAsk_NothingRelevant(t *testing.T) {
	r := &fakeRetriever{matches: []storage.Match{}}
	s := NewService(r, fakeChecker(true), nil, &recordingGenerator{}, nil)

	resp, err := s.Ask(context.Background(), "  quarterly revenue ")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Answer, "I couldn't find any content related to 'quarterly revenue' in your indexed files.") {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if r.limit != QueryLimit {
		t.Errorf("limit = %d", r.limit)
	}
	if len(r.thresholds) != 2 || r.thresholds[0] != QueryThreshold || r.thresholds[1] != RelaxedQueryThreshold {
		t.Errorf("thresholds = %v", r.thresholds)
	}
}

func TestAsk_Generates(t *testing.T) {
	r := &fakeRetriever{matches: []storage.Match{
		{FilePath: "/d/a.txt", FileName: "a.txt", Content: "alpha", Score: 0.9},
		{FilePath: "/d/b.txt", FileName: "b.txt", Content: "beta", Score: 0.2},
	}}
	gen := &recordingGenerator{}
	s := NewService(r, fakeChecker(true), composer.New(0), gen, nil)

	resp, err := s.Ask(context.Background(), "what?")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "generated" || resp.Question != "what?" {
		t.Errorf("resp = %+v", resp)
	}
	if gen.context != "From a.txt:\nalpha\n\nFrom b.txt:\nbeta" {
		t.Errorf("context = %q", gen.context)
	}
	if len(resp.Sources) != 2 || resp.Sources[0].FilePath != "/d/a.txt" {
		t.Errorf("Sources = %+v", resp.Sources)
	}
}

func TestAsk_Errors(t *testing.T) {
	s := NewService(&fakeRetriever{}, fakeChecker(true), nil, &recordingGenerator{}, nil)
	if _, err := s.Ask(context.Background(), "   "); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty question: err = %v", err)
	}

	boom := apperr.Embedding("embedding query", errors.New("model not loaded"))
	s = NewService(&fakeRetriever{err: boom}, fakeChecker(true), nil, &recordingGenerator{}, nil)
	if _, err := s.Ask(context.Background(), "q"); !errors.Is(err, apperr.ErrEmbedding) {
		t.Errorf("retrieval failure: err = %v", err)
	}
}

// chatEngine is an engine.Engine whose Chat returns a canned reply.
type chatEngine struct {
	engine.Engine
	reply string
	err   error
	got   []engine.Message
}

func (e *chatEngine) Chat(_ context.Context, _ string, msgs []engine.Message) (string, error) {
	e.got = msgs
	return e.reply, e.err
}

func TestLocalGenerator(t *testing.T) {
	e := &chatEngine{reply: "local answer"}
	g := NewLocalGenerator(e, "llama3.2", nil)

	if got := g.Answer(context.Background(), "q", "ctx"); got != "local answer" {
		t.Errorf("Answer = %q", got)
	}
	if len(e.got) != 2 || !strings.Contains(e.got[1].Content, "Question: q") {
		t.Errorf("messages = %+v", e.got)
	}

	e.reply = "  "
	if got := g.Answer(context.Background(), "q", "ctx"); got != EmptyResponseAnswer {
		t.Errorf("blank reply: Answer = %q", got)
	}

	e.err = context.DeadlineExceeded
	if got := g.Answer(context.Background(), "q", "ctx"); got != TimeoutAnswer {
		t.Errorf("timeout: Answer = %q", got)
	}

	e.err = errors.New("connection refused")
	if got := g.Answer(context.Background(), "q", "ctx"); !strings.Contains(got, "connection refused") {
		t.Errorf("failure: Answer = %q", got)
	}
}

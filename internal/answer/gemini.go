package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/smartfile/internal/composer"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-1.5-flash"
	defaultTimeout       = 30 * time.Second
	maxRetries           = 3
	initialBackoff       = 500 * time.Millisecond
)

// GeminiClient answers questions with the Gemini generateContent API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    time.Duration
	logger     *slog.Logger
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL points the client at a different API root (for testing).
func WithBaseURL(u string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel sets the Gemini model name.
func WithModel(m string) GeminiOption {
	return func(c *GeminiClient) {
		if m != "" {
			c.model = m
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) GeminiOption {
	return func(c *GeminiClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit limits outgoing requests to rps per second. Zero disables
// the limit.
func WithRateLimit(rps float64) GeminiOption {
	return func(c *GeminiClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GeminiOption {
	return func(c *GeminiClient) { c.logger = l }
}

// NewGeminiClient creates a client with the given API key. An empty key is
// allowed; Answer then returns configuration help.
func NewGeminiClient(apiKey string, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		apiKey:     apiKey,
		baseURL:    DefaultGeminiBaseURL,
		model:      DefaultGeminiModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		backoff:    initialBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// statusError is returned for non-200 responses.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("Gemini API error: %d", e.status)
}

// Answer implements Generator.
func (c *GeminiClient) Answer(ctx context.Context, question, contextText string) string {
	if c.apiKey == "" {
		return UnconfiguredAnswer(contextText)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: composer.Prompt(question, contextText)}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 1024,
		},
	})
	if err != nil {
		return upstreamErrorAnswer(err)
	}

	text, err := c.generate(ctx, body)
	if err != nil {
		return c.fallback(err)
	}
	return text
}

// generate retries rate-limited requests with exponential backoff.
func (c *GeminiClient) generate(ctx context.Context, body []byte) (string, error) {
	var lastErr error
	for attempt := range maxRetries {
		text, err := c.doGenerate(ctx, body)
		if err == nil {
			return text, nil
		}

		var se *statusError
		if !errors.As(err, &se) || se.status != http.StatusTooManyRequests {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", lastErr
}

func (c *GeminiClient) doGenerate(ctx context.Context, body []byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return EmptyResponseAnswer, nil
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

// fallback maps a failed request to the answer shown to the user.
func (c *GeminiClient) fallback(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		msg := se.Error()
		switch se.status {
		case http.StatusBadRequest, http.StatusUnauthorized:
			msg += " - Invalid API key or request format"
		case http.StatusForbidden:
			msg += " - API key may be invalid or quota exceeded"
		case http.StatusTooManyRequests:
			msg += " - Rate limit exceeded, please try again later"
		}
		c.logger.Error("answer request failed", "status", se.status, "body", se.body)
		return "Error calling Gemini API: " + msg
	}

	if isTimeout(err) {
		c.logger.Error("answer request timed out")
		return TimeoutAnswer
	}
	c.logger.Error("answer request failed", "error", err)
	return upstreamErrorAnswer(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Package provider wraps the Gemini SDK behind the two operations the rest of
// the application needs: content generation and text embedding.
//
// The wrapper exists so that callers see classified failures instead of raw
// SDK errors. The dispatch loop treats "this model id is unknown" and "the
// endpoint is rate-limiting" as distinct control-flow signals, so they are
// surfaced as a sentinel error and a typed error respectively; everything else
// stays an opaque wrapped error.
//
// The underlying client is constructed once at process start and injected into
// consumers. It is safe for concurrent use.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/calyptra/sage/internal/log"
)

// ErrModelNotFound reports that the requested model identifier is unknown to
// the endpoint (deprecated, misspelled, or not available for this API
// version). The dispatcher advances its fallback ladder on this error.
var ErrModelNotFound = errors.New("model not found")

// RateLimitError reports that the endpoint rejected a call due to quota or
// rate limiting. RetryAfter carries the endpoint's retry hint when one was
// present in the response; Hinted distinguishes a real hint from the zero
// value.
type RateLimitError struct {
	RetryAfter time.Duration
	Hinted     bool
}

func (e *RateLimitError) Error() string {
	if e.Hinted {
		return fmt.Sprintf("rate limited (retry after %v)", e.RetryAfter)
	}
	return "rate limited"
}

// Options carries per-call generation options.
type Options struct {
	SystemInstruction string
	Temperature       float32
	MaxOutputTokens   int32
}

// Config configures a Client.
type Config struct {
	APIKey        string
	EmbedderModel string
	Logger        log.Logger

	// EmbedRetries and EmbedBackoff bound the transient-failure retry loop
	// around embedding calls. Zero values take defaults (3, 500ms).
	EmbedRetries int
	EmbedBackoff time.Duration
}

// Client talks to the Gemini API.
type Client struct {
	genai        *genai.Client
	embedModel   string
	embedRetries int
	embedBackoff time.Duration
	logger       log.Logger
}

// New creates a Client. The context governs only client construction, not
// later calls.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.EmbedderModel == "" {
		return nil, errors.New("embedder model is required")
	}
	if cfg.EmbedRetries <= 0 {
		cfg.EmbedRetries = 3
	}
	if cfg.EmbedBackoff <= 0 {
		cfg.EmbedBackoff = 500 * time.Millisecond
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{
		genai:        gc,
		embedModel:   cfg.EmbedderModel,
		embedRetries: cfg.EmbedRetries,
		embedBackoff: cfg.EmbedBackoff,
		logger:       cfg.Logger,
	}, nil
}

// Generate invokes the given model with the accumulated contents and declared
// tools. Failures are classified: ErrModelNotFound, *RateLimitError, or a
// generic wrapped error.
func (c *Client) Generate(ctx context.Context, model string, contents []*genai.Content, tools []*genai.Tool, opts Options) (*genai.GenerateContentResponse, error) {
	gcfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(opts.Temperature),
		MaxOutputTokens: opts.MaxOutputTokens,
	}
	if opts.SystemInstruction != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser)
	}
	if len(tools) > 0 {
		gcfg.Tools = tools
	}

	resp, err := c.genai.Models.GenerateContent(ctx, model, contents, gcfg)
	if err != nil {
		return nil, classify(model, err)
	}
	return resp, nil
}

// Embed returns the embedding vector for text, retrying transient failures
// with exponential backoff before giving up.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	var lastErr error
	delay := c.embedBackoff
	for attempt := 0; attempt <= c.embedRetries; attempt++ {
		resp, err := c.genai.Models.EmbedContent(ctx, c.embedModel, contents, nil)
		if err == nil {
			if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
				return nil, errors.New("empty embedding response")
			}
			return resp.Embeddings[0].Values, nil
		}

		lastErr = err
		if attempt == c.embedRetries {
			break
		}

		c.logger.Debug("embedding retry",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("embedding canceled: %w", ctx.Err())
		case <-time.After(delay):
			delay *= 2
		}
	}

	return nil, fmt.Errorf("embedding after %d retries: %w", c.embedRetries, lastErr)
}

// classify maps SDK errors onto the dispatcher's failure taxonomy.
func classify(model string, err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("generate with %s: %w", model, err)
	}

	switch {
	case apiErr.Code == http.StatusNotFound || apiErr.Status == "NOT_FOUND":
		return fmt.Errorf("%w: %s", ErrModelNotFound, model)
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
		after, ok := retryHint(&apiErr)
		return &RateLimitError{RetryAfter: after, Hinted: ok}
	default:
		return fmt.Errorf("generate with %s: %w", model, err)
	}
}

// retryInfoType is the proto type URL carried in error details when the
// endpoint suggests a retry delay.
const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// retryHint extracts the endpoint's suggested retry delay from a rate-limit
// error, if present. Delays arrive in proto JSON duration form ("7s", "2.5s"),
// which time.ParseDuration accepts directly.
func retryHint(apiErr *genai.APIError) (time.Duration, bool) {
	for _, detail := range apiErr.Details {
		if detail["@type"] != retryInfoType {
			continue
		}
		raw, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

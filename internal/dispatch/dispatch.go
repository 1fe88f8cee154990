// Package dispatch implements the generation dispatch loop: the component
// that turns a user turn plus retrieved context plus tool results into one or
// more calls to the generation endpoint.
//
// The loop is a small explicit state machine rather than nested retry logic.
// Within a bounded number of rounds it:
//
//   - walks a statically ordered model fallback ladder when a model id is
//     unknown to the endpoint,
//   - backs off cooperatively under rate limiting (one hinted wait-and-retry
//     per model, then fall back; every observation extends a process-wide
//     cooldown window shared with concurrent requests),
//   - feeds the model's tool-invocation requests through the tool registry,
//     deduplicated per round, and folds the results back into the prompt.
//
// The ladder trades latency for availability: one flaky or deprecated model
// id must not fail the whole request, but the scheme has to terminate inside
// the caller's wall-clock budget, so every wait is capped and every loop is
// bounded.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/calyptra/sage/internal/log"
	"github.com/calyptra/sage/internal/provider"
	"github.com/calyptra/sage/internal/session"
	"github.com/calyptra/sage/internal/tools"
)

var (
	// ErrProviderUnavailable reports that every model on the fallback
	// ladder was unknown to the endpoint.
	ErrProviderUnavailable = errors.New("no fallback model available")

	// ErrRateLimited reports that every fallback attempt stayed
	// rate-limited after backoff.
	ErrRateLimited = errors.New("rate limited on all fallback models")
)

// SystemInstruction is the fixed policy text sent with every request.
const SystemInstruction = "You are a helpful assistant. Answer concisely. " +
	"Use the provided context and tools when they are relevant; " +
	"if they are not, answer from your own knowledge."

// FallbackReply is returned when the round budget runs out with nothing to
// show, or the model produces an empty response.
const FallbackReply = "I'm sorry, I couldn't come up with an answer this time. Please try rephrasing your question."

// state tags where the loop currently is. Mostly for logging; transitions
// happen in Dispatch.
type state int

const (
	stateDrafting state = iota
	stateCalling
	stateToolRound
	stateDone
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateDrafting:
		return "drafting"
	case stateCalling:
		return "calling"
	case stateToolRound:
		return "tool-round"
	case stateDone:
		return "done"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Generator is the generation endpoint as the dispatcher sees it.
// internal/provider satisfies it.
type Generator interface {
	Generate(ctx context.Context, model string, contents []*genai.Content, tools []*genai.Tool, opts provider.Options) (*genai.GenerateContentResponse, error)
}

// ToolRunner executes one round's tool calls. internal/tools.Registry
// satisfies it.
type ToolRunner interface {
	Declarations() []*genai.Tool
	Dispatch(ctx context.Context, calls []tools.Call) []tools.Result
}

// Config configures a Dispatcher.
type Config struct {
	Generator Generator
	Tools     ToolRunner
	Cooldown  *Cooldown
	Logger    log.Logger

	// Models is the fallback ladder, tried strictly in order.
	Models []string

	// MaxRounds bounds the tool-calling loop. Default 2.
	MaxRounds int

	// RetryDelay is the wait after a rate-limit signal without a hint.
	// Default 2s.
	RetryDelay time.Duration

	// RetryCap is the ceiling on any single rate-limit wait, hinted or
	// not, so one request cannot eat the whole outer budget. Default 7s.
	RetryCap time.Duration

	// Generation options forwarded to the provider.
	Temperature     float32
	MaxOutputTokens int32

	// Limiter optionally smooths outbound call rate before the endpoint
	// has to push back. Nil installs a default.
	Limiter *rate.Limiter
}

// Request is one user turn plus its assembled context.
type Request struct {
	History []session.Turn
	Context []string // retrieved chunk texts, most relevant first
	Message string
}

// Dispatcher runs the dispatch loop. It is stateless per request apart from
// the shared cooldown handle, and safe for concurrent use.
type Dispatcher struct {
	gen      Generator
	tools    ToolRunner
	cooldown *Cooldown
	logger   log.Logger

	models     []string
	maxRounds  int
	retryDelay time.Duration
	retryCap   time.Duration
	opts       provider.Options
	limiter    *rate.Limiter

	// sleep is swapped out in tests so backoff does not consume real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("tool runner is required")
	}
	if cfg.Cooldown == nil {
		return nil, errors.New("cooldown is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New("at least one model is required")
	}

	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 7 * time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(10, 30)
	}

	return &Dispatcher{
		gen:      cfg.Generator,
		tools:    cfg.Tools,
		cooldown: cfg.Cooldown,
		logger:   cfg.Logger,

		models:     cfg.Models,
		maxRounds:  cfg.MaxRounds,
		retryDelay: cfg.RetryDelay,
		retryCap:   cfg.RetryCap,
		opts: provider.Options{
			SystemInstruction: SystemInstruction,
			Temperature:       cfg.Temperature,
			MaxOutputTokens:   cfg.MaxOutputTokens,
		},
		limiter: cfg.Limiter,

		sleep: sleepCtx,
	}, nil
}

// Dispatch runs the loop for one request and returns the reply text.
//
// A nil error means there is a usable reply: the model's final text, or the
// best-effort concatenation of tool results, or the fixed fallback. Errors
// are reserved for the taxonomy the caller downgrades (ErrProviderUnavailable,
// ErrRateLimited) and for genuinely unexpected failures.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	contents := d.assemble(req)
	decls := d.tools.Declarations()

	// Ladder position survives across rounds: a model that fell over in
	// round one is not retried in round two.
	ladder := 0
	var lastResults []tools.Result

	for round := 1; round <= d.maxRounds; round++ {
		resp, err := d.callWithFallback(ctx, &ladder, contents, decls, round)
		if err != nil {
			return "", err
		}

		calls := functionCalls(resp)
		if len(calls) == 0 {
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				d.logger.Warn("model returned an empty response", "round", round)
				return FallbackReply, nil
			}
			d.logger.Debug("dispatch finished", "state", stateDone, "rounds", round)
			return text, nil
		}

		d.logger.Debug("dispatch entering tool round",
			"state", stateToolRound, "round", round, "requested", len(calls))

		results := d.tools.Dispatch(ctx, calls)
		if len(results) == 0 {
			// Every requested name was unknown. Nothing to fold back;
			// leave the prompt as it was and spend another round.
			d.logger.Warn("tool round produced no results", "round", round)
			continue
		}
		lastResults = results

		// Fold the model's turn and the tool results back into the prompt
		// for the next round.
		contents = append(contents, modelContent(resp))
		contents = append(contents, toolResponseContent(results))
	}

	// Round budget exhausted without a final answer.
	d.logger.Warn("dispatch round budget exhausted",
		"state", stateExhausted, "rounds", d.maxRounds)
	if len(lastResults) > 0 {
		texts := make([]string, len(lastResults))
		for i, r := range lastResults {
			texts[i] = r.Text
		}
		return strings.Join(texts, "\n\n"), nil
	}
	return FallbackReply, nil
}

// callWithFallback drives one round's provider call through the fallback
// ladder and the rate-limit policy. ladder is shared across rounds.
func (d *Dispatcher) callWithFallback(ctx context.Context, ladder *int, contents []*genai.Content, decls []*genai.Tool, round int) (*genai.GenerateContentResponse, error) {
	// One hinted wait-and-retry per model per round; the second rate-limit
	// observation on the same model moves down the ladder instead.
	retried := make(map[string]bool)

	// Remembers what pushed us off the last rung, so exhaustion surfaces
	// the right taxonomy entry.
	rateLimitedOut := false

	// Set after an explicit backoff: the follow-up attempt already paid
	// its wait, so the cooldown synthesized from its own signal must not
	// block it.
	justBackedOff := false

	for *ladder < len(d.models) {
		model := d.models[*ladder]

		resp, err := d.callOnce(ctx, model, contents, decls, justBackedOff)
		justBackedOff = false
		if err == nil {
			return resp, nil
		}

		switch {
		case errors.Is(err, provider.ErrModelNotFound):
			d.logger.Warn("model unknown to endpoint, falling back",
				"state", stateCalling, "model", model, "round", round)
			*ladder++
			rateLimitedOut = false

		case isRateLimited(err):
			wait := d.rateLimitWait(err)
			d.cooldown.Extend(time.Now().Add(wait))

			if retried[model] {
				d.logger.Warn("still rate limited after retry, falling back",
					"model", model, "round", round)
				*ladder++
				rateLimitedOut = true
				continue
			}
			retried[model] = true

			d.logger.Info("rate limited, backing off once",
				"state", stateCalling, "model", model, "wait", wait, "round", round)
			if err := d.sleep(ctx, wait); err != nil {
				return nil, err
			}
			justBackedOff = true

		default:
			// Anything else is fatal for the round.
			return nil, err
		}
	}

	// Ladder exhausted.
	if rateLimitedOut {
		return nil, ErrRateLimited
	}
	return nil, ErrProviderUnavailable
}

// callOnce performs a single provider attempt, honoring the proactive
// limiter and the shared cooldown window. While the window is active the
// rate-limit condition is synthesized locally and no network call is made,
// except on the attempt immediately following an explicit backoff, which has
// already served its wait.
func (d *Dispatcher) callOnce(ctx context.Context, model string, contents []*genai.Content, decls []*genai.Tool, afterBackoff bool) (*genai.GenerateContentResponse, error) {
	if remaining := d.cooldown.Remaining(time.Now()); remaining > 0 && !afterBackoff {
		return nil, &provider.RateLimitError{RetryAfter: remaining, Hinted: true}
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	return d.gen.Generate(ctx, model, contents, decls, d.opts)
}

// rateLimitWait resolves how long to back off for a given rate-limit error:
// the endpoint's hint when present, the configured default otherwise, capped
// either way.
func (d *Dispatcher) rateLimitWait(err error) time.Duration {
	wait := d.retryDelay
	var rle *provider.RateLimitError
	if errors.As(err, &rle) && rle.Hinted && rle.RetryAfter > 0 {
		wait = rle.RetryAfter
	}
	return min(wait, d.retryCap)
}

// assemble builds the base prompt contents: bounded recent history, then
// retrieved context, then the user turn. The system instruction travels
// separately in the generation options.
func (d *Dispatcher) assemble(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+2)

	for _, turn := range req.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == session.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}

	if len(req.Context) > 0 {
		var b strings.Builder
		b.WriteString("Relevant context:\n")
		for _, chunk := range req.Context {
			b.WriteString("- ")
			b.WriteString(chunk)
			b.WriteString("\n")
		}
		contents = append(contents, genai.NewContentFromText(b.String(), genai.RoleUser))
	}

	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
	return contents
}

// functionCalls extracts the model's tool-invocation requests from a
// response.
func functionCalls(resp *genai.GenerateContentResponse) []tools.Call {
	fcs := resp.FunctionCalls()
	if len(fcs) == 0 {
		return nil
	}
	calls := make([]tools.Call, len(fcs))
	for i, fc := range fcs {
		calls[i] = tools.Call{Name: fc.Name, Args: fc.Args}
	}
	return calls
}

// modelContent returns the model's turn from a response so it can be
// replayed in the next round's prompt.
func modelContent(resp *genai.GenerateContentResponse) *genai.Content {
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		return resp.Candidates[0].Content
	}
	return genai.NewContentFromText("", genai.RoleModel)
}

// toolResponseContent packs one round's tool results into a single
// function-response content entry.
func toolResponseContent(results []tools.Result) *genai.Content {
	parts := make([]*genai.Part, len(results))
	for i, r := range results {
		parts[i] = genai.NewPartFromFunctionResponse(r.Name, map[string]any{"result": r.Text})
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

// isRateLimited reports whether err is a rate-limit signal.
func isRateLimited(err error) bool {
	var rle *provider.RateLimitError
	return errors.As(err, &rle)
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("canceled during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

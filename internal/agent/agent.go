// Package agent orchestrates one user turn end to end: gather conversation
// history and retrieved context, hand them to the dispatch loop, and record
// the outcome. It is the seam between the HTTP layer and everything below it.
package agent

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calyptra/sage/internal/dispatch"
	"github.com/calyptra/sage/internal/log"
	"github.com/calyptra/sage/internal/session"
)

// TimeoutReply is returned when a request exceeds its wall-clock budget.
const TimeoutReply = "Sorry, that took too long to answer. Please try again."

// Replies for the dispatcher's failure taxonomy. The HTTP layer never sees
// these as errors; a degraded answer is still an answer.
const (
	unavailableReply = "The assistant is temporarily unavailable. Please try again in a moment."
	rateLimitedReply = "The assistant is handling a lot of traffic right now. Please try again shortly."
)

// Dispatcher runs the generation loop. internal/dispatch satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (string, error)
}

// Retriever serves similarity queries. internal/index satisfies it.
type Retriever interface {
	Query(ctx context.Context, text string, topK int, minScore float64) ([]string, error)
}

// Store holds per-session conversation history. internal/session satisfies it.
type Store interface {
	Append(sessionID string, turn session.Turn)
	Recent(sessionID string, k int) []session.Turn
}

// Config configures an Agent.
type Config struct {
	Dispatcher Dispatcher
	Retriever  Retriever
	Store      Store
	Logger     log.Logger

	// HistoryWindow is how many recent turns accompany each request.
	// Default 8.
	HistoryWindow int

	// TopK and MinScore shape retrieval. Defaults 3 and 0.1.
	TopK     int
	MinScore float64

	// RequestBudget bounds one request's wall clock. Default 30s.
	RequestBudget time.Duration
}

// Agent processes user messages. Safe for concurrent use.
type Agent struct {
	dispatcher Dispatcher
	retriever  Retriever
	store      Store
	logger     log.Logger

	historyWindow int
	topK          int
	minScore      float64
	budget        time.Duration
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 8
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.1
	}
	if cfg.RequestBudget <= 0 {
		cfg.RequestBudget = 30 * time.Second
	}

	return &Agent{
		dispatcher: cfg.Dispatcher,
		retriever:  cfg.Retriever,
		store:      cfg.Store,
		logger:     cfg.Logger,

		historyWindow: cfg.HistoryWindow,
		topK:          cfg.TopK,
		minScore:      cfg.MinScore,
		budget:        cfg.RequestBudget,
	}, nil
}

// ProcessMessage answers one user message within the request budget. It
// always returns a usable reply: dispatch failures and timeouts degrade to
// fixed texts rather than propagating as errors.
func (a *Agent) ProcessMessage(ctx context.Context, sessionID, message string) string {
	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	// History and retrieval are independent; fetch them together.
	var (
		history []session.Turn
		chunks  []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		history = a.store.Recent(sessionID, a.historyWindow)
		return nil
	})
	g.Go(func() error {
		found, err := a.retriever.Query(gctx, message, a.topK, a.minScore)
		if err != nil {
			// Retrieval is best-effort: answer without context.
			a.logger.Warn("retrieval failed, proceeding without context",
				"session_id", sessionID, "error", err)
			return nil
		}
		chunks = found
		return nil
	})
	_ = g.Wait() // goroutines above never return errors

	reply, err := a.dispatcher.Dispatch(ctx, dispatch.Request{
		History: history,
		Context: chunks,
		Message: message,
	})
	if err != nil {
		return a.degrade(ctx, sessionID, err)
	}

	// Exactly one turn pair per answered request, however many rounds the
	// dispatcher used.
	a.store.Append(sessionID, session.Turn{Role: session.RoleUser, Text: message})
	a.store.Append(sessionID, session.Turn{Role: session.RoleModel, Text: reply})

	return reply
}

// degrade maps a dispatch failure to a fixed reply. Abandoned requests do not
// write history: a reply the user never saw is not part of the conversation.
func (a *Agent) degrade(ctx context.Context, sessionID string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		a.logger.Warn("request budget exceeded", "session_id", sessionID)
		return TimeoutReply

	case errors.Is(err, dispatch.ErrProviderUnavailable):
		a.logger.Error("no model available", "session_id", sessionID, "error", err)
		return unavailableReply

	case errors.Is(err, dispatch.ErrRateLimited):
		a.logger.Warn("all models rate limited", "session_id", sessionID)
		return rateLimitedReply

	default:
		a.logger.Error("dispatch failed", "session_id", sessionID, "error", err)
		return unavailableReply
	}
}

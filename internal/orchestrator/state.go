package orchestrator

import (
	"context"
	"log/slog"

	"github.com/Keyring-Network/newslens/internal/events"
)

type State string

const (
	StateIdle                       State = "idle"
	StateResolvingTab               State = "resolving_tab"
	StateCheckingArticleEligibility State = "checking_article_eligibility"
	StateExtracting                 State = "extracting"
	StateQueryingBackend            State = "querying_backend"
	StateCachingResult              State = "caching_result"
	StateDelivered                  State = "delivered"
	StateRejected                   State = "rejected"
	StateFailed                     State = "failed"
	StateDiscarded                  State = "discarded"
)

// Outcome is the terminal state of one request. Err explains Rejected,
// Failed and Discarded outcomes; CacheHit marks deliveries served from the
// cache.
type Outcome struct {
	State    State
	Err      error
	CacheHit bool
}

// step tracks a single request through its states for logging.
type step struct {
	logger *slog.Logger
	req    events.Request
	state  State
}

func (c *Controller) begin(req events.Request) *step {
	return &step{logger: c.logger, req: req, state: StateIdle}
}

func (s *step) enter(ctx context.Context, state State) {
	s.logger.DebugContext(ctx, "orchestrator transition",
		"request_id", s.req.RequestID,
		"action", s.req.Action,
		"from", s.state,
		"to", state,
	)
	s.state = state
}

func (s *step) finish(ctx context.Context, state State, err error) Outcome {
	s.enter(ctx, state)
	attrs := []any{"request_id", s.req.RequestID, "action", s.req.Action, "state", state}
	switch state {
	case StateFailed:
		s.logger.ErrorContext(ctx, "request failed", append(attrs, "error", err)...)
	case StateRejected, StateDiscarded:
		s.logger.InfoContext(ctx, "request dropped", append(attrs, "reason", err)...)
	default:
		s.logger.DebugContext(ctx, "request finished", attrs...)
	}
	return Outcome{State: state, Err: err}
}

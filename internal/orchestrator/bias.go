package orchestrator

import (
	"context"
	"errors"

	"github.com/Keyring-Network/newslens/internal/events"
	"github.com/Keyring-Network/newslens/internal/gateway"
)

// CheckBias looks up the bias record for the active tab's domain. Every
// terminal state publishes exactly one biasResult: a record on success or a
// failure string otherwise.
func (c *Controller) CheckBias(ctx context.Context, req events.Request) Outcome {
	s := c.begin(req)

	s.enter(ctx, StateResolvingTab)
	tab, err := c.tabs.ResolveActiveTab(ctx)
	if err != nil {
		c.publish(req, events.BiasFailure(MessageNoURL))
		return s.finish(ctx, StateFailed, err)
	}

	s.enter(ctx, StateQueryingBackend)
	record, err := c.backend.FetchBias(ctx, tab.Domain)

	// Failures are about the dispatching tab's domain as well.
	if !c.stillActive(ctx, tab) {
		c.publish(req, events.BiasFailure(MessageTabChanged))
		return s.finish(ctx, StateDiscarded, errors.Join(ErrStaleResult, err))
	}
	if err != nil {
		if errors.Is(err, gateway.ErrNoBiasData) {
			c.publish(req, events.BiasFailure(MessageNoBiasData))
		} else {
			c.publish(req, events.BiasFailure(MessageServer))
		}
		return s.finish(ctx, StateFailed, err)
	}

	c.publish(req, events.BiasResult(record, tab.FaviconURL))
	return s.finish(ctx, StateDelivered, nil)
}

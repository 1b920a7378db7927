package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrUnknownAction = errors.New("unknown action")

type Handler func(ctx context.Context, req Request) error

// RequestIDs hands out monotonically increasing request ids, starting at 1.
type RequestIDs struct {
	last atomic.Uint64
}

func (r *RequestIDs) Next() uint64 {
	return r.last.Add(1)
}

// Dispatcher is the explicit action -> handler table the daemon builds at
// startup.
type Dispatcher struct {
	handlers map[Action]Handler
	ids      RequestIDs
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[Action]Handler{}}
}

func (d *Dispatcher) Register(action Action, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %s", action)
	}
	if _, exists := d.handlers[action]; exists {
		return fmt.Errorf("handler for %s already registered", action)
	}
	d.handlers[action] = handler
	return nil
}

func (d *Dispatcher) Handles(action Action) bool {
	_, ok := d.handlers[action]
	return ok
}

// Stamp assigns the next request id to a request that arrived without one.
func (d *Dispatcher) Stamp(req Request) Request {
	if req.RequestID == 0 {
		req.RequestID = d.ids.Next()
	}
	return req
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	handler, ok := d.handlers[req.Action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	return handler(ctx, req)
}

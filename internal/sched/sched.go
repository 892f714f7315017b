// Package sched delivers delayed invocations of named handlers. Delivery is
// at-least-once with no strict timing guarantee; handlers are expected to be
// idempotent and to re-derive state at invocation time.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hail/internal/types"
)

// Handler is a named entry point invoked with the order it concerns.
type Handler func(ctx context.Context, orderID types.ID) error

// Scheduler requests invocation of a named handler after delay, not before.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, handler string, orderID types.ID) error
}

// Registry binds handler names to functions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{handlers: make(map[string]Handler), log: log}
}

func (r *Registry) Handle(name string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Invoke runs the named handler. A failed invocation is logged and dropped;
// correctness relies on every handler re-deriving state from the store.
func (r *Registry) Invoke(ctx context.Context, name string, orderID types.ID) error {
	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("sched: no handler registered for %q", name)
	}
	if err := fn(ctx, orderID); err != nil {
		r.log.Error().Err(err).Str("handler", name).Str("order_id", string(orderID)).
			Msg("scheduled invocation failed")
		return err
	}
	return nil
}

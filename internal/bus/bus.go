package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler reacts to one published domain event. Handlers run sequentially
// in subscription order; a handler error (or panic) is logged and never
// aborts the remaining handlers.
type Handler func(ctx context.Context, evt any) error

// Bus is the only conduit between the user context and the scheduling
// core. The registry is written during startup wiring and read-only after
// that; the lock is for safety, not for a hot path.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *slog.Logger
}

func New(log *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish invokes every handler registered for eventType, in order.
// It never returns an error: the bus is resilient by contract, and the
// publisher (a user-facing request) must not fail because a reactor did.
func (b *Bus) Publish(ctx context.Context, eventType string, evt any) {
	b.mu.RLock()
	hs := b.handlers[eventType]
	b.mu.RUnlock()

	if len(hs) == 0 {
		b.log.Debug("bus.no_handlers", "event_type", eventType)
		return
	}

	for i, h := range hs {
		if err := b.invoke(ctx, h, evt); err != nil {
			b.log.Error("bus.handler_error",
				"event_type", eventType,
				"handler_index", i,
				"err", err,
			)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, evt any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h(ctx, evt)
}

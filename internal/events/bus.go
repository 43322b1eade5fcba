package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler consumes one event. A handler error is logged and isolated; it never
// blocks other handlers.
type Handler func(ctx context.Context, event Event) error

// registration ties a handler to a name for log correlation.
type registration struct {
	name    string
	handler Handler
}

// Bus dispatches typed events to registered handlers.
//
// Handlers are registered at startup. Within one Publish call, handlers run
// synchronously in registration order; handlers subscribed to all events run
// after type-specific ones.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Type][]registration
	all      []registration
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger.With("component", "events"),
		handlers: make(map[Type][]registration),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType Type, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], registration{name: name, handler: handler})
	b.logger.Debug("subscribed handler", "event_type", eventType, "name", name)
}

// SubscribeAll registers a handler for every event type. The built-in audit
// writer and metrics collector use this.
func (b *Bus) SubscribeAll(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, registration{name: name, handler: handler})
	b.logger.Debug("subscribed handler", "event_type", "*", "name", name)
}

// Publish dispatches the event to all matching handlers in registration order.
// Handler failures are isolated and logged.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	typed := b.handlers[event.EventType()]
	regs := make([]registration, 0, len(typed)+len(b.all))
	regs = append(regs, typed...)
	regs = append(regs, b.all...)
	b.mu.RUnlock()

	for _, reg := range regs {
		if err := b.call(ctx, reg, event); err != nil {
			b.logger.Warn("event handler error",
				"event_type", event.EventType(),
				"conversation_id", event.Conversation(),
				"handler", reg.name,
				"error", err)
		}
	}
}

func (b *Bus) call(ctx context.Context, reg registration, event Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return reg.handler(ctx, event)
}

// Package events fans billing engine events out to listeners.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/recurring/internal/domain"
)

// Listener receives published events. Listeners must treat the event, and
// any order it carries, as read-only.
type Listener interface {
	Handle(ctx context.Context, event domain.Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, event domain.Event) error

func (f ListenerFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// AllEvents subscribes a listener to every event name.
const AllEvents = "*"

// Dispatcher delivers events synchronously to registered listeners.
// Listener failures are logged and never reach the publisher.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	logger    *slog.Logger
}

var _ domain.EventPublisher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with no listeners.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		listeners: make(map[string][]Listener),
		logger:    logger,
	}
}

// Subscribe registers l for events named name, or AllEvents.
func (d *Dispatcher) Subscribe(name string, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[name] = append(d.listeners[name], l)
}

// Publish calls every listener for the event in registration order.
func (d *Dispatcher) Publish(ctx context.Context, event domain.Event) {
	d.mu.RLock()
	targets := make([]Listener, 0, len(d.listeners[event.EventName()])+len(d.listeners[AllEvents]))
	targets = append(targets, d.listeners[event.EventName()]...)
	targets = append(targets, d.listeners[AllEvents]...)
	d.mu.RUnlock()

	for _, l := range targets {
		if err := d.deliver(ctx, l, event); err != nil {
			d.logger.Error("event listener failed", "event", event.EventName(), "error", err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, l Listener, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.Handle(ctx, event)
}

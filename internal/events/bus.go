// Package events is a small in-process publish/subscribe bus. Processor
// webhooks publish normalized charge events on TopicChargeEvent; business
// consumers subscribe without knowing which processor produced the event.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const TopicChargeEvent = "charge_event"

type Handler func(ctx context.Context, payload any) error

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	logger   *slog.Logger
}

type namedHandler struct {
	name string
	fn   Handler
}

func NewBus() *Bus {
	return &Bus{handlers: map[string][]namedHandler{}, logger: slog.Default()}
}

func (b *Bus) SetLogger(l *slog.Logger) { b.logger = l }

func (b *Bus) Subscribe(topic, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], namedHandler{name: name, fn: h})
}

// Publish delivers synchronously to every subscriber. A failing subscriber
// does not stop delivery to the others; all failures are joined.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	hs := append([]namedHandler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h.fn(ctx, payload); err != nil {
			b.logger.ErrorContext(ctx, "event subscriber failed", "topic", topic, "subscriber", h.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

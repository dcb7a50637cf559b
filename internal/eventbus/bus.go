// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package eventbus dispatches account events to registered handlers.
//
// Dispatch is synchronous and in-process. Handlers run in registration
// order on the publisher's goroutine; the first handler error stops
// dispatch and is returned to the publisher. Handlers that must never fail
// the originating operation should log and return nil.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
)

// Handler consumes one event.
type Handler func(ctx context.Context, event account.Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus routes events to handlers by event type.
//
// Bus is safe for concurrent use. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	byType map[account.EventType][]subscription
	all    []subscription
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) log() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// Subscribe registers handler for one event type. name identifies the
// handler in errors and logs.
func (b *Bus) Subscribe(t account.EventType, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byType == nil {
		b.byType = make(map[account.EventType][]subscription)
	}
	b.byType[t] = append(b.byType[t], subscription{name: name, handler: handler})
}

// SubscribeAll registers handler for every event type. Catch-all handlers
// run after the type-specific ones.
func (b *Bus) SubscribeAll(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, subscription{name: name, handler: handler})
}

func (b *Bus) handlers(t account.EventType) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]subscription, 0, len(b.byType[t])+len(b.all))
	subs = append(subs, b.byType[t]...)
	return append(subs, b.all...)
}

type onceKey struct {
	id ulid.ULID
	t  account.EventType
}

// Publish dispatches events in order. A single-occurrence event type that
// appears more than once for the same account is delivered once.
func (b *Bus) Publish(ctx context.Context, events ...account.Event) error {
	seen := make(map[onceKey]bool, len(events))
	for _, event := range events {
		if !event.Type.AllowMultiple() {
			key := onceKey{t: event.Type}
			if event.Account != nil {
				key.id = event.Account.ID()
			}
			if seen[key] {
				b.log().DebugContext(ctx, "duplicate event suppressed",
					"event_type", string(event.Type),
					"event_id", event.ID.String())
				continue
			}
			seen[key] = true
		}
		for _, sub := range b.handlers(event.Type) {
			if err := sub.handler(ctx, event); err != nil {
				return oops.Code("EVENT_HANDLER_FAILED").
					With("handler", sub.name).
					With("event_type", string(event.Type)).
					With("event_id", event.ID.String()).
					Wrap(err)
			}
		}
	}
	return nil
}

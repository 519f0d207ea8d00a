package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// EventBus fans gateway events out to observers synchronously.
// Observers must be fast; a panicking observer is recovered and logged.
type EventBus struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	observers []driven.EventObserver
}

// NewEventBus creates an event bus with the given observers.
func NewEventBus(logger *slog.Logger, observers ...driven.EventObserver) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		logger:    logger,
		now:       time.Now,
		observers: observers,
	}
}

// Subscribe adds an observer.
func (b *EventBus) Subscribe(o driven.EventObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Publish delivers event to every observer. A nil bus is a no-op.
func (b *EventBus) Publish(ctx context.Context, event domain.Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = b.now()
	}

	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()

	for _, o := range observers {
		b.notify(ctx, o, event)
	}
}

func (b *EventBus) notify(ctx context.Context, o driven.EventObserver, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event observer panicked", "event", event.Type, "panic", r)
		}
	}()
	o.Notify(ctx, event)
}

// LogObserver writes every event to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a logging observer.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// Notify implements driven.EventObserver.
func (o *LogObserver) Notify(ctx context.Context, event domain.Event) {
	level := slog.LevelInfo
	if event.Type == domain.EventRequestFailed {
		level = slog.LevelWarn
	}

	attrs := []any{
		"event", string(event.Type),
		"tenant_id", event.TenantID,
	}
	if event.ConnectionID != "" {
		attrs = append(attrs, "connection_id", event.ConnectionID)
	}
	if event.StatusCode != 0 {
		attrs = append(attrs, "status", event.StatusCode)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, k, v)
	}

	o.logger.Log(ctx, level, "gateway event", attrs...)
}

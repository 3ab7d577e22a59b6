package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asaidimu/go-events"
	"go.uber.org/zap"

	"github.com/jacentio/moody/store"
)

// EventType names an observable event.
type EventType string

const (
	// EventQueryScan is emitted when a query falls back to a full table scan.
	EventQueryScan EventType = "queryScan"

	// EventQueryIndexed is emitted when a query is served by an index.
	EventQueryIndexed EventType = "queryIndexed"

	// EventDocumentCreated is emitted by the change stream for new documents.
	EventDocumentCreated EventType = "documentCreated"

	// EventDocumentUpdated is emitted by the change stream for modified documents.
	EventDocumentUpdated EventType = "documentUpdated"

	// EventDocumentDeleted is emitted by the change stream for removed or soft-deleted documents.
	EventDocumentDeleted EventType = "documentDeleted"
)

// Event is delivered to subscribers.
type Event struct {
	Type  EventType `json:"type"`
	Model string    `json:"model"`

	// Filters holds the query criteria (query events only).
	Filters map[string]any `json:"filters,omitempty"`

	// Index is the chosen index name (queryIndexed only).
	Index string `json:"index,omitempty"`

	// DocumentID and Document describe the changed document (change events only).
	DocumentID any            `json:"documentId,omitempty"`
	Document   store.Document `json:"document,omitempty"`

	Time time.Time `json:"time"`
}

// Handler receives events.
type Handler func(ctx context.Context, e Event) error

// Emitter publishes events to subscribers.
type Emitter interface {
	Emit(e Event)
	Subscribe(t EventType, h Handler) (unsubscribe func())
}

// Bus is an Emitter backed by a typed event bus.
type Bus struct {
	bus    *events.TypedEventBus[Event]
	logger *zap.Logger
}

// NewBus creates an event bus. A nil logger disables logging.
func NewBus(logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus, err := events.NewTypedEventBus[Event](busConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("create event bus: %w", err)
	}
	return &Bus{bus: bus, logger: logger}, nil
}

// Emit publishes e to the subscribers of its type.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.bus.Emit(string(e.Type), e)
}

// Subscribe registers h for events of type t. Handler errors are logged.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	return b.bus.Subscribe(string(t), func(ctx context.Context, e Event) error {
		if err := h(ctx, e); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("event", string(e.Type)),
				zap.String("model", e.Model),
				zap.Error(err),
			)
		}
		return nil
	})
}

// busConfig delivers synchronously without retries, reporting through logger
// only. Events are emitted on the query path, so a failing subscriber must
// not delay it.
func busConfig(logger *zap.Logger) *events.EventBusConfig {
	cfg := events.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.EnableExponentialBackoff = false
	cfg.Logger = slog.New(slog.DiscardHandler)
	cfg.ErrorHandler = func(err *events.EventError) {
		logger.Error("event bus error", zap.String("event", err.EventName), zap.Error(err.Err))
	}
	cfg.DeadLetterHandler = func(_ context.Context, e events.Event, err error) {
		logger.Warn("event dropped", zap.String("event", e.Name), zap.Error(err))
	}
	cfg.TypeAssertionErrorHandler = func(name string, _, got any) {
		logger.Debug("unexpected event payload", zap.String("event", name), zap.String("type", fmt.Sprintf("%T", got)))
	}
	return cfg
}

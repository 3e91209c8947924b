package event

import (
	"context"
	"sync"
	"time"

	"backbone/internal/broker"
	"backbone/internal/config"
	"backbone/internal/logger"
	apperrors "backbone/pkg/errors"
	"backbone/pkg/logging"
	"backbone/pkg/metrics"
)

// Handler processes one typed domain event.
type Handler func(ctx context.Context, ev Event) error

// MessageBroker is the slice of the hybrid broker the dispatcher needs.
type MessageBroker interface {
	Publish(ctx context.Context, data map[string]interface{}, routingKey string, opts broker.PublishOptions) (string, error)
	Consume(ctx context.Context, stream, group, consumer string, handler broker.HandlerFunc, brokerType broker.BrokerType) error
}

// Dispatcher fans raw broker messages out to registered typed handlers and
// provides the producer-side PublishEvent entry point. Handlers live on the
// dispatcher instance, not in package state; the registry is guarded by a
// mutex so registration and dispatch may overlap.
type Dispatcher struct {
	store  Store
	broker MessageBroker
	cfg    config.BrokerConfig
	logger logger.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
}

func NewDispatcher(store Store, b MessageBroker, cfg config.BrokerConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		broker:   b,
		cfg:      cfg,
		logger:   log,
		handlers: make(map[Type][]Handler),
	}
}

func (d *Dispatcher) RegisterHandler(eventType Type, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// PublishEvent constructs an Event and writes it to the outbox in a single
// operation. The relay persists it and pushes it onto the transports; see
// Relay. Returns the event id.
func (d *Dispatcher) PublishEvent(ctx context.Context, eventType Type, payload map[string]interface{}, source, correlationID string, metadata map[string]interface{}) (string, error) {
	if !eventType.Valid() {
		return "", apperrors.ErrUnknownEventType.WithDetail("event_type", string(eventType))
	}
	if source == "" {
		return "", apperrors.ErrValidation.WithDetail("reason", "source_service is required")
	}

	ev := New(eventType, payload, source, correlationID, metadata)

	if _, err := d.store.AppendOutbox(ctx, ev); err != nil {
		return "", apperrors.ErrPublishFailed.WithCause(err)
	}

	d.logger.DebugwCtx(ctx, "Event accepted into outbox",
		"event_id", ev.ID,
		"event_type", string(ev.Type),
	)

	return ev.ID, nil
}

// GetEvent looks up a persisted event by id.
func (d *Dispatcher) GetEvent(ctx context.Context, id string) (Event, error) {
	return d.store.GetEvent(ctx, id)
}

// Run consumes the shared event stream and dispatches to handlers until the
// context is canceled.
func (d *Dispatcher) Run(ctx context.Context, consumerName string) error {
	brokerType := broker.BrokerRedis
	if d.cfg.RabbitMQ.Host != "" {
		brokerType = broker.BrokerHybrid
	}
	return d.broker.Consume(ctx, d.cfg.EventStream, d.cfg.GroupName, consumerName, d.handleMessage, brokerType)
}

// handleMessage decodes and dispatches one broker message. It always returns
// nil for undecodable or unknown-typed events so the transport acknowledges
// them: retrying cannot fix them.
func (d *Dispatcher) handleMessage(ctx context.Context, msg broker.Message) error {
	ev, err := FromDocument(msg.Data)
	if err != nil {
		reason := "unparseable"
		if apperrors.IsUnknownEventType(err) {
			reason = "unknown_type"
		}
		metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
		d.logger.WarnwCtx(ctx, "Dropping event",
			"reason", reason,
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	d.Dispatch(ctx, ev)
	return nil
}

// Dispatch invokes every handler registered for the event's type. A handler
// error is logged and isolated; it never blocks other handlers or the
// transport acknowledgment.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	ctx = logging.WithEventID(ctx, ev.ID)
	if ev.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, ev.CorrelationID)
	}

	d.mu.RLock()
	handlers := d.handlers[ev.Type]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.logger.DebugwCtx(ctx, "No handlers registered for event type",
			"event_type", string(ev.Type),
		)
		return
	}

	for i, handler := range handlers {
		start := time.Now()
		err := func() (handlerErr error) {
			defer func() {
				if r := recover(); r != nil {
					handlerErr = apperrors.RecoverPanic(r)
				}
			}()
			return handler(ctx, ev)
		}()

		if err != nil {
			metrics.EventsDispatchedTotal.WithLabelValues(string(ev.Type), "error").Inc()
			metrics.HandlerFailuresTotal.WithLabelValues(string(ev.Type)).Inc()
			d.logger.ErrorwCtx(ctx, "Event handler failed",
				"event_type", string(ev.Type),
				"handler_index", i,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			continue
		}

		metrics.EventsDispatchedTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	}
}

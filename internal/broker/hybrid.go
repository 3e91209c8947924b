package broker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"backbone/internal/logger"
	apperrors "backbone/pkg/errors"
	"backbone/pkg/metrics"
)

const (
	transportStream = "stream"
	transportQueue  = "queue"
)

// Hybrid unifies the log and queue transports behind one publish/consume
// API. The log transport is the primary path; the queue transport is a soft
// dependency used for redundant delivery of high-priority traffic.
type Hybrid struct {
	stream LogTransport
	queue  QueueTransport
	logger logger.Logger
	stats  stats
}

func NewHybrid(stream LogTransport, queue QueueTransport, log logger.Logger) *Hybrid {
	return &Hybrid{
		stream: stream,
		queue:  queue,
		logger: log,
	}
}

// Connect soft-connects the queue transport. Failure leaves the broker in
// log-only mode and is never fatal.
func (b *Hybrid) Connect(ctx context.Context) {
	if b.queue == nil {
		b.logger.Infow("Queue transport not configured, running log-only")
		return
	}

	if err := b.queue.Connect(ctx); err != nil {
		b.logger.Warnw("Queue transport unavailable, running log-only",
			"error", err,
		)
	}
}

func (b *Hybrid) QueueConnected() bool {
	return b.queue != nil && b.queue.Connected()
}

// Publish delivers data according to the requested broker type:
//
//	redis:    log transport only, returns the stream-assigned entry id.
//	rabbitmq: queue transport, silently falling back to the log transport
//	          when the queue is unavailable.
//	hybrid:   always the log transport; additionally the queue transport for
//	          HIGH and CRITICAL priority while connected.
func (b *Hybrid) Publish(ctx context.Context, data map[string]interface{}, routingKey string, opts PublishOptions) (string, error) {
	opts = opts.withDefaults()
	stream := opts.Stream
	if stream == "" {
		stream = routingKey
	}

	msg := NewMessage(data, routingKey, opts.Priority, opts.BrokerType)

	var (
		id  string
		err error
	)

	switch opts.BrokerType {
	case BrokerRedis:
		id, err = b.publishStream(ctx, stream, msg)

	case BrokerRabbitMQ:
		if !b.QueueConnected() {
			b.stats.fallbacks.Add(1)
			metrics.QueueFallbackTotal.Inc()
			b.logger.DebugwCtx(ctx, "Queue transport unavailable, falling back to log transport",
				"routing_key", routingKey,
			)
			id, err = b.publishStream(ctx, stream, msg)
			break
		}
		id, err = b.publishQueue(ctx, routingKey, msg)

	case BrokerHybrid:
		id, err = b.publishStream(ctx, stream, msg)
		if err != nil {
			break
		}
		if msg.Priority >= PriorityHigh && b.QueueConnected() {
			if _, queueErr := b.publishQueue(ctx, routingKey, msg); queueErr != nil {
				// The log write already succeeded; the redundant leg failing
				// degrades delivery but does not fail the publish.
				b.logger.WarnwCtx(ctx, "Redundant queue publish failed",
					"routing_key", routingKey,
					"message_id", msg.ID,
					"error", queueErr,
				)
			}
		}

	default:
		return "", apperrors.ErrValidation.WithDetail("broker_type", string(opts.BrokerType))
	}

	if err != nil {
		return "", err
	}

	b.stats.sent.Add(1)
	return id, nil
}

func (b *Hybrid) publishStream(ctx context.Context, stream string, msg Message) (string, error) {
	start := time.Now()
	id, err := b.stream.Publish(ctx, stream, msg)
	if err != nil {
		b.stats.failed.Add(1)
		metrics.MessagesFailedTotal.WithLabelValues(transportStream).Inc()
		return "", err
	}

	b.stats.streamSent.Add(1)
	metrics.MessagesSentTotal.WithLabelValues(transportStream).Inc()
	metrics.ObservePublishDuration(transportStream, time.Since(start))
	return id, nil
}

func (b *Hybrid) publishQueue(ctx context.Context, routingKey string, msg Message) (string, error) {
	start := time.Now()
	if err := b.queue.Publish(ctx, routingKey, msg); err != nil {
		b.stats.failed.Add(1)
		metrics.MessagesFailedTotal.WithLabelValues(transportQueue).Inc()
		return "", err
	}

	b.stats.queueSent.Add(1)
	metrics.MessagesSentTotal.WithLabelValues(transportQueue).Inc()
	metrics.ObservePublishDuration(transportQueue, time.Since(start))
	return msg.ID, nil
}

// Consume runs the consumption loop for the requested transport. Hybrid runs
// both loops concurrently; the queue loop is skipped when the queue
// transport is not connected.
func (b *Hybrid) Consume(ctx context.Context, stream, group, consumer string, handler HandlerFunc, brokerType BrokerType) error {
	counted := func(transport string) HandlerFunc {
		return func(ctx context.Context, msg Message) error {
			b.stats.received.Add(1)
			metrics.MessagesReceivedTotal.WithLabelValues(transport).Inc()
			return handler(ctx, msg)
		}
	}

	switch brokerType {
	case BrokerRedis:
		return b.stream.Consume(ctx, stream, group, consumer, counted(transportStream))

	case BrokerRabbitMQ:
		if !b.QueueConnected() {
			return apperrors.ErrTransportDown
		}
		return b.queue.Consume(ctx, group, "#", counted(transportQueue))

	case BrokerHybrid:
		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return b.stream.Consume(gCtx, stream, group, consumer, counted(transportStream))
		})
		if b.QueueConnected() {
			g.Go(func() error {
				return b.queue.Consume(gCtx, group, "#", counted(transportQueue))
			})
		}
		return g.Wait()

	default:
		return apperrors.ErrValidation.WithDetail("broker_type", string(brokerType))
	}
}

func (b *Hybrid) Stats() StatsSnapshot {
	return b.stats.snapshot()
}

func (b *Hybrid) Close() error {
	if b.queue != nil {
		return b.queue.Close()
	}
	return nil
}

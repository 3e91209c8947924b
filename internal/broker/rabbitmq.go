package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"backbone/internal/config"
	"backbone/internal/constants"
	"backbone/internal/logger"
	apperrors "backbone/pkg/errors"
)

// AMQPTransport implements QueueTransport on RabbitMQ. All messages go
// through one durable topic exchange; consumers bind their own durable
// priority queues to it.
type AMQPTransport struct {
	cfg    config.RabbitMQConfig
	logger logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPTransport(cfg config.RabbitMQConfig, log logger.Logger) *AMQPTransport {
	return &AMQPTransport{
		cfg:    cfg,
		logger: log,
	}
}

func (t *AMQPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.conn.IsClosed() {
		return nil
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", t.cfg.User, t.cfg.Password, t.cfg.Host, t.cfg.Port)
	conn, err := amqp.Dial(url)
	if err != nil {
		return apperrors.ErrTransportDown.WithCause(fmt.Errorf("amqp dial %s:%d: %w", t.cfg.Host, t.cfg.Port, err))
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return apperrors.ErrTransportDown.WithCause(fmt.Errorf("amqp channel: %w", err))
	}

	if err := ch.ExchangeDeclare(
		t.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return apperrors.ErrTransportDown.WithCause(fmt.Errorf("declare exchange %s: %w", t.cfg.Exchange, err))
	}

	t.conn = conn
	t.ch = ch
	t.logger.Infow("RabbitMQ connected",
		"host", t.cfg.Host,
		"exchange", t.cfg.Exchange,
	)
	return nil
}

func (t *AMQPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.conn.IsClosed()
}

func (t *AMQPTransport) Publish(ctx context.Context, routingKey string, msg Message) error {
	t.mu.Lock()
	ch := t.ch
	connected := t.conn != nil && !t.conn.IsClosed()
	t.mu.Unlock()

	if !connected {
		return apperrors.ErrTransportDown
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return apperrors.ErrPublishFailed.WithCause(err).AsFatal()
	}

	err = ch.PublishWithContext(ctx,
		t.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     uint8(msg.Priority),
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return apperrors.ErrPublishFailed.WithCause(fmt.Errorf("amqp publish %s: %w", routingKey, err))
	}

	return nil
}

// Consume declares a durable priority queue bound to the shared exchange and
// processes deliveries with manual acknowledgment. A handler error requeues
// the delivery.
func (t *AMQPTransport) Consume(ctx context.Context, queue, bindingKey string, handler HandlerFunc) error {
	t.mu.Lock()
	ch := t.ch
	connected := t.conn != nil && !t.conn.IsClosed()
	t.mu.Unlock()

	if !connected {
		return apperrors.ErrTransportDown
	}

	if t.cfg.QueuePrefix != "" {
		queue = t.cfg.QueuePrefix + queue
	}

	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-priority": int32(t.cfg.MaxPriority)},
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	if err := ch.QueueBind(q.Name, bindingKey, t.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", q.Name, t.cfg.Exchange, err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", q.Name, err)
	}

	t.logger.InfowCtx(ctx, "Started consuming queue",
		"queue", q.Name,
		"binding_key", bindingKey,
	)

	for {
		select {
		case <-ctx.Done():
			t.logger.InfowCtx(ctx, "Stopped consuming queue",
				"queue", q.Name,
				"reason", "context canceled",
			)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				t.logger.WarnwCtx(ctx, "Delivery channel closed",
					"queue", q.Name,
				)
				return apperrors.ErrTransportDown
			}
			t.handleDelivery(ctx, q.Name, d, handler)
		}
	}
}

func (t *AMQPTransport) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler HandlerFunc) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		t.logger.WarnwCtx(ctx, "Failed to unmarshal queue delivery, dropping",
			"queue", queue,
			"error", err,
		)
		_ = d.Ack(false)
		return
	}

	err := func() (handlerErr error) {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = apperrors.RecoverPanic(r)
				t.logger.ErrorwCtx(ctx, "Panic recovered in queue handler",
					"error", handlerErr,
					"queue", queue,
				)
			}
		}()
		return handler(ctx, msg)
	}()

	if err != nil {
		t.logger.ErrorwCtx(ctx, "Handler failed, requeueing delivery",
			"queue", queue,
			"message_id", msg.ID,
			"error", err,
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			t.logger.ErrorwCtx(ctx, "Failed to nack delivery",
				"queue", queue,
				"error", nackErr,
			)
		}
		// Give the broker a moment before the redelivery loops back.
		time.Sleep(constants.ConsumeErrorBackoff)
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		t.logger.ErrorwCtx(ctx, "Failed to ack delivery",
			"queue", queue,
			"error", ackErr,
		)
	}
}

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.ch != nil {
		err = t.ch.Close()
		t.ch = nil
	}
	if t.conn != nil {
		if closeErr := t.conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		t.conn = nil
	}
	return err
}

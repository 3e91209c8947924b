package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"backbone/internal/constants"
	"backbone/internal/logger"
	apperrors "backbone/pkg/errors"
	"backbone/pkg/metrics"
)

const payloadField = "payload"

// RedisStreamTransport implements LogTransport on Redis Streams.
type RedisStreamTransport struct {
	client       *redis.Client
	logger       logger.Logger
	batchSize    int
	block        time.Duration
	claimMinIdle time.Duration
}

func NewRedisStreamTransport(client *redis.Client, log logger.Logger) *RedisStreamTransport {
	return &RedisStreamTransport{
		client:       client,
		logger:       log,
		batchSize:    constants.ConsumerBatchSize,
		block:        constants.ConsumerBlock,
		claimMinIdle: constants.ClaimMinIdle,
	}
}

func (t *RedisStreamTransport) SetBatch(size int, block time.Duration) {
	if size > 0 {
		t.batchSize = size
	}
	if block > 0 {
		t.block = block
	}
}

// SetClaimMinIdle tunes how long a pending entry must sit idle before it is
// taken over from another consumer.
func (t *RedisStreamTransport) SetClaimMinIdle(minIdle time.Duration) {
	if minIdle > 0 {
		t.claimMinIdle = minIdle
	}
}

func (t *RedisStreamTransport) Publish(ctx context.Context, stream string, msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", apperrors.ErrPublishFailed.WithCause(err).AsFatal()
	}

	id, err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: body},
	}).Result()
	if err != nil {
		return "", apperrors.ErrPublishFailed.WithCause(fmt.Errorf("XADD to %s: %w", stream, err))
	}

	return id, nil
}

// EnsureGroup creates the consumer group at the start of the stream. A group
// that already exists is not an error.
func (t *RedisStreamTransport) EnsureGroup(ctx context.Context, stream, group string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Consume reads batches for the consumer group and acknowledges each message
// only after the handler returns without error. A handler error leaves the
// message pending; pending entries are redelivered on the next start of the
// same consumer and reclaimed from dead consumers once they sit idle past
// claimMinIdle: at-least-once.
func (t *RedisStreamTransport) Consume(ctx context.Context, stream, group, consumer string, handler HandlerFunc) error {
	if err := t.EnsureGroup(ctx, stream, group); err != nil {
		return err
	}

	t.logger.InfowCtx(ctx, "Started consuming stream",
		"stream", stream,
		"group", group,
		"consumer", consumer,
	)

	t.drainBacklog(ctx, stream, group, consumer, handler)

	for {
		t.claimStale(ctx, stream, group, consumer, handler)

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    int64(t.batchSize),
			Block:    t.block,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				t.logger.InfowCtx(ctx, "Stopped consuming stream",
					"stream", stream,
					"reason", "context canceled",
				)
				return ctx.Err()
			}
			if err == redis.Nil {
				continue
			}
			t.logger.ErrorwCtx(ctx, "Error reading from stream",
				"error", err,
				"stream", stream,
			)
			time.Sleep(constants.ConsumeErrorBackoff)
			continue
		}

		for _, s := range streams {
			for _, raw := range s.Messages {
				t.handleEntry(ctx, stream, group, raw, handler)
			}
		}
	}
}

// drainBacklog reprocesses entries this consumer received in a previous run
// but never acknowledged. Reading the group history from "0" walks the
// consumer's own pending list and returns immediately when it is empty.
func (t *RedisStreamTransport) drainBacklog(ctx context.Context, stream, group, consumer string, handler HandlerFunc) {
	cursor := "0"
	for {
		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    int64(t.batchSize),
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				t.logger.ErrorwCtx(ctx, "Error reading pending backlog",
					"error", err,
					"stream", stream,
				)
			}
			return
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return
		}
		for _, raw := range streams[0].Messages {
			t.handleEntry(ctx, stream, group, raw, handler)
			cursor = raw.ID
		}
	}
}

// claimStale takes over pending entries whose consumer stopped acknowledging
// them. Claiming resets the idle clock, so an entry that keeps failing is
// retried once per claimMinIdle window instead of hot-looping.
func (t *RedisStreamTransport) claimStale(ctx context.Context, stream, group, consumer string, handler HandlerFunc) {
	claimed, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  t.claimMinIdle,
		Start:    "0-0",
		Count:    int64(t.batchSize),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			t.logger.ErrorwCtx(ctx, "Error claiming stale entries",
				"error", err,
				"stream", stream,
			)
		}
		return
	}
	for _, raw := range claimed {
		t.handleEntry(ctx, stream, group, raw, handler)
	}
}

func (t *RedisStreamTransport) handleEntry(ctx context.Context, stream, group string, raw redis.XMessage, handler HandlerFunc) {
	payload, ok := raw.Values[payloadField].(string)
	if !ok {
		t.logger.WarnwCtx(ctx, "Invalid entry in stream, acknowledging and skipping",
			"stream", stream,
			"entry_id", raw.ID,
		)
		t.ack(ctx, stream, group, raw.ID)
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.logger.WarnwCtx(ctx, "Failed to unmarshal stream entry, acknowledging and skipping",
			"stream", stream,
			"entry_id", raw.ID,
			"error", err,
		)
		t.ack(ctx, stream, group, raw.ID)
		return
	}

	start := time.Now()
	err := func() (handlerErr error) {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = apperrors.RecoverPanic(r)
				t.logger.ErrorwCtx(ctx, "Panic recovered in stream handler",
					"error", handlerErr,
					"stream", stream,
				)
			}
		}()
		return handler(ctx, msg)
	}()

	if err != nil {
		metrics.ObserveHandlerDuration(stream, "error", time.Since(start))
		t.logger.ErrorwCtx(ctx, "Handler failed, leaving entry pending for redelivery",
			"stream", stream,
			"entry_id", raw.ID,
			"message_id", msg.ID,
			"error", err,
		)
		return
	}

	metrics.ObserveHandlerDuration(stream, "ok", time.Since(start))
	t.ack(ctx, stream, group, raw.ID)
}

func (t *RedisStreamTransport) ack(ctx context.Context, stream, group, id string) {
	if err := t.client.XAck(ctx, stream, group, id).Err(); err != nil {
		t.logger.ErrorwCtx(ctx, "Failed to acknowledge stream entry",
			"stream", stream,
			"entry_id", id,
			"error", err,
		)
	}
}

func isBusyGroupError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

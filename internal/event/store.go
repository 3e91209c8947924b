package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"backbone/internal/constants"
	apperrors "backbone/pkg/errors"
)

// Store persists events for point lookups and holds the outbox the relay
// drains.
type Store interface {
	SaveEvent(ctx context.Context, ev Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	AppendOutbox(ctx context.Context, ev Event) (string, error)
	EnsureOutboxGroup(ctx context.Context, group string) error
	ReadOutbox(ctx context.Context, group, consumer string, count int, block time.Duration) ([]OutboxEntry, error)
	ClaimOutbox(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]OutboxEntry, error)
	AckOutbox(ctx context.Context, group string, ids ...string) error
}

// OutboxEntry pairs an event with the stream entry id needed to acknowledge
// it once relayed.
type OutboxEntry struct {
	StreamID string
	Event    Event
}

type RedisStore struct {
	client *redis.Client
	stream string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, outboxStream string) *RedisStore {
	if outboxStream == "" {
		outboxStream = constants.OutboxStream
	}
	return &RedisStore{
		client: client,
		stream: outboxStream,
		ttl:    constants.EventTTL,
	}
}

func (s *RedisStore) SaveEvent(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	key := constants.EventKeyPrefix + ev.ID
	if err := s.client.Set(ctx, key, body, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *RedisStore) GetEvent(ctx context.Context, id string) (Event, error) {
	key := constants.EventKeyPrefix + id
	body, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Event{}, apperrors.ErrNotFound.WithDetail("event_id", id)
		}
		return Event{}, fmt.Errorf("load event %s: %w", id, err)
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", id, err)
	}
	return ev, nil
}

func (s *RedisStore) AppendOutbox(ctx context.Context, ev Event) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"event": body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append event %s to outbox: %w", ev.ID, err)
	}
	return id, nil
}

func (s *RedisStore) EnsureOutboxGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create outbox group %s: %w", group, err)
	}
	return nil
}

func (s *RedisStore) ReadOutbox(ctx context.Context, group, consumer string, count int, block time.Duration) ([]OutboxEntry, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read outbox: %w", err)
	}

	var entries []OutboxEntry
	for _, str := range streams {
		entries = append(entries, s.parseOutboxEntries(ctx, group, str.Messages)...)
	}
	return entries, nil
}

// ClaimOutbox takes over outbox entries that have sat unacknowledged longer
// than minIdle, whether left behind by a crashed relay or by an earlier
// failed delivery attempt.
func (s *RedisStore) ClaimOutbox(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]OutboxEntry, error) {
	claimed, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	return s.parseOutboxEntries(ctx, group, claimed), nil
}

func (s *RedisStore) parseOutboxEntries(ctx context.Context, group string, msgs []redis.XMessage) []OutboxEntry {
	var entries []OutboxEntry
	for _, raw := range msgs {
		body, ok := raw.Values["event"].(string)
		if !ok {
			// Malformed entry; acknowledge so it does not wedge the relay.
			_ = s.client.XAck(ctx, s.stream, group, raw.ID).Err()
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			_ = s.client.XAck(ctx, s.stream, group, raw.ID).Err()
			continue
		}

		entries = append(entries, OutboxEntry{StreamID: raw.ID, Event: ev})
	}
	return entries
}

func (s *RedisStore) AckOutbox(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("ack outbox entries: %w", err)
	}
	return nil
}

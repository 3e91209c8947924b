package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backbone/internal/constants"
	apperrors "backbone/pkg/errors"
)

// Store persists sagas as whole-record overwrites. Update is a versioned
// compare-and-set: it fails with a conflict if the stored record has moved
// past the caller's copy, which is what keeps the coordinator and the
// timeout sweep from trampling each other.
type Store interface {
	Create(ctx context.Context, saga *Saga) error
	Update(ctx context.Context, saga *Saga) error
	Get(ctx context.Context, id string) (*Saga, error)
	ActiveIDs(ctx context.Context) ([]string, error)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sagaKey(id string) string {
	return constants.SagaKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, saga *Saga) error {
	saga.Version = 1
	body, err := json.Marshal(saga)
	if err != nil {
		return fmt.Errorf("marshal saga %s: %w", saga.ID, err)
	}

	key := sagaKey(saga.ID)
	ok, err := s.client.SetNX(ctx, key, body, 0).Result()
	if err != nil {
		return fmt.Errorf("create saga %s: %w", saga.ID, err)
	}
	if !ok {
		return apperrors.ErrConflict.WithDetail("saga_id", saga.ID)
	}

	if err := s.client.SAdd(ctx, constants.ActiveSagaSet, saga.ID).Err(); err != nil {
		return fmt.Errorf("index saga %s as active: %w", saga.ID, err)
	}
	return nil
}

// Update overwrites the record if and only if the stored version still
// matches saga.Version. On success the caller's copy carries the new
// version. Terminal sagas get the audit TTL and leave the active index.
func (s *RedisStore) Update(ctx context.Context, saga *Saga) error {
	key := sagaKey(saga.ID)
	expected := saga.Version

	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return apperrors.ErrNotFound.WithDetail("saga_id", saga.ID)
			}
			return err
		}

		var stored Saga
		if err := json.Unmarshal(body, &stored); err != nil {
			return fmt.Errorf("decode saga %s: %w", saga.ID, err)
		}
		if stored.Version != expected {
			return apperrors.ErrConflict.
				WithDetail("saga_id", saga.ID).
				WithDetail("expected_version", expected).
				WithDetail("stored_version", stored.Version)
		}

		next := *saga
		next.Version = expected + 1

		var ttl time.Duration
		if next.Status.Terminal() {
			ttl = constants.TerminalSagaTTL
		}

		updated, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("marshal saga %s: %w", saga.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			if next.Status.Terminal() {
				pipe.SRem(ctx, constants.ActiveSagaSet, saga.ID)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		// Another writer touched the key between read and write.
		return apperrors.ErrConflict.WithDetail("saga_id", saga.ID)
	}
	if err != nil {
		return err
	}

	saga.Version = expected + 1
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Saga, error) {
	body, err := s.client.Get(ctx, sagaKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.ErrNotFound.WithDetail("saga_id", id)
		}
		return nil, fmt.Errorf("load saga %s: %w", id, err)
	}

	var saga Saga
	if err := json.Unmarshal(body, &saga); err != nil {
		return nil, fmt.Errorf("decode saga %s: %w", id, err)
	}
	return &saga, nil
}

func (s *RedisStore) ActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, constants.ActiveSagaSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sagas: %w", err)
	}
	return ids, nil
}

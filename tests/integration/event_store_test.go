package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backbone/internal/event"
	apperrors "backbone/pkg/errors"
)

func TestEventStore_SaveAndGet(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	store := event.NewRedisStore(infra.RedisClient, createTestOutboxConfig().Stream)

	ev := event.New(event.TypeOrderCreated, map[string]interface{}{"order_id": "o-1"}, "order-service", "corr-1", nil)
	require.NoError(t, store.SaveEvent(ctx, ev))

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, event.TypeOrderCreated, got.Type)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, "o-1", got.Payload["order_id"])
}

func TestEventStore_GetMissing(t *testing.T) {
	infra := SetupTestInfra(t)

	store := event.NewRedisStore(infra.RedisClient, createTestOutboxConfig().Stream)

	_, err := store.GetEvent(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEventStore_SavedEventHasTTL(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	store := event.NewRedisStore(infra.RedisClient, createTestOutboxConfig().Stream)

	ev := event.New(event.TypeUserCreated, nil, "user-service", "", nil)
	require.NoError(t, store.SaveEvent(ctx, ev))

	ttl, err := infra.RedisClient.TTL(ctx, "event:"+ev.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour)
	assert.LessOrEqual(t, ttl, 24*time.Hour)
}

func TestEventStore_OutboxRoundTrip(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	store := event.NewRedisStore(infra.RedisClient, createTestOutboxConfig().Stream)
	require.NoError(t, store.EnsureOutboxGroup(ctx, "test-relay"))

	ev := event.New(event.TypePaymentFailed, map[string]interface{}{"amount": 3.5}, "billing", "", nil)
	streamID, err := store.AppendOutbox(ctx, ev)
	require.NoError(t, err)
	assert.NotEmpty(t, streamID)

	entries, err := store.ReadOutbox(ctx, "test-relay", "relay-1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, streamID, entries[0].StreamID)
	assert.Equal(t, ev.ID, entries[0].Event.ID)
	assert.Equal(t, event.TypePaymentFailed, entries[0].Event.Type)

	require.NoError(t, store.AckOutbox(ctx, "test-relay", entries[0].StreamID))

	pending, err := infra.RedisClient.XPending(ctx, createTestOutboxConfig().Stream, "test-relay").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestEventStore_UsesConfiguredOutboxStream(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	store := event.NewRedisStore(infra.RedisClient, "custom_outbox")

	ev := event.New(event.TypeOrderCreated, nil, "order-service", "", nil)
	_, err := store.AppendOutbox(ctx, ev)
	require.NoError(t, err)

	length, err := infra.RedisClient.XLen(ctx, "custom_outbox").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestEventStore_ClaimOutboxRedeliversPending(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	store := event.NewRedisStore(infra.RedisClient, createTestOutboxConfig().Stream)
	require.NoError(t, store.EnsureOutboxGroup(ctx, "test-relay"))

	ev := event.New(event.TypeOrderUpdated, map[string]interface{}{"order_id": "o-9"}, "order-service", "", nil)
	streamID, err := store.AppendOutbox(ctx, ev)
	require.NoError(t, err)

	// First delivery goes unacknowledged, as if the relay died mid-flight.
	entries, err := store.ReadOutbox(ctx, "test-relay", "relay-1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	claimed, err := store.ClaimOutbox(ctx, "test-relay", "relay-2", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, streamID, claimed[0].StreamID)
	assert.Equal(t, ev.ID, claimed[0].Event.ID)

	require.NoError(t, store.AckOutbox(ctx, "test-relay", claimed[0].StreamID))

	pending, err := infra.RedisClient.XPending(ctx, createTestOutboxConfig().Stream, "test-relay").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

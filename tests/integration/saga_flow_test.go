package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backbone/internal/broker"
	"backbone/internal/event"
	"backbone/internal/saga"
)

// newSagaFixture wires a coordinator against the real redis saga store and a
// real dispatcher, so the lifecycle event lands in the real outbox.
func newSagaFixture(t *testing.T, infra *TestInfra) (*saga.Coordinator, *saga.Registry, event.Store) {
	t.Helper()

	log := createTestLogger()
	eventStore := event.NewRedisStore(infra.RedisClient, createTestOutboxConfig().Stream)
	stream := broker.NewRedisStreamTransport(infra.RedisClient, log)
	hybrid := broker.NewHybrid(stream, nil, log)
	dispatcher := event.NewDispatcher(eventStore, hybrid, createTestBrokerConfig(), log)

	registry := saga.NewRegistry()
	coordinator := saga.NewCoordinator(saga.NewRedisStore(infra.RedisClient), registry, dispatcher, createTestSagaConfig(), log)
	return coordinator, registry, eventStore
}

func TestSagaFlow_CompletesAndEmitsLifecycleEvent(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	coordinator, registry, eventStore := newSagaFixture(t, infra)

	registry.Register("inventory", func(ctx context.Context, operation string, payload map[string]interface{}) error {
		return nil
	})
	registry.Register("billing", func(ctx context.Context, operation string, payload map[string]interface{}) error {
		return nil
	})

	id, err := coordinator.StartSaga(ctx, "order_fulfillment", fulfillmentSteps(), map[string]interface{}{"order_id": "o-1"})
	require.NoError(t, err)

	s, err := coordinator.GetSaga(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, s.Status)
	assert.Equal(t, 1, s.CurrentStep)

	// The lifecycle event sits in the outbox awaiting the relay.
	require.NoError(t, eventStore.EnsureOutboxGroup(ctx, "test-relay"))
	entries, err := eventStore.ReadOutbox(ctx, "test-relay", "relay-1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, event.TypeSystemAlert, entries[0].Event.Type)
	assert.Equal(t, string(saga.StatusCompleted), entries[0].Event.Payload["status"])
	assert.Equal(t, s.CorrelationID, entries[0].Event.CorrelationID)
}

func TestSagaFlow_FailureCompensatesAcrossServices(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	coordinator, registry, _ := newSagaFixture(t, infra)

	var inventoryOps, billingOps []string
	registry.Register("inventory", func(ctx context.Context, operation string, payload map[string]interface{}) error {
		inventoryOps = append(inventoryOps, operation)
		return nil
	})
	registry.Register("billing", func(ctx context.Context, operation string, payload map[string]interface{}) error {
		billingOps = append(billingOps, operation)
		if operation == "charge_card" {
			return errors.New("card declined")
		}
		return nil
	})

	id, err := coordinator.StartSaga(ctx, "order_fulfillment", fulfillmentSteps(), nil)
	require.NoError(t, err)

	s, err := coordinator.GetSaga(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, s.Status)
	assert.Equal(t, 1, s.CurrentStep)

	assert.Equal(t, []string{"reserve_stock", "release_stock"}, inventoryOps)
	assert.Equal(t, []string{"charge_card"}, billingOps)

	// Terminal sagas leave the active index.
	ids, err := saga.NewRedisStore(infra.RedisClient).ActiveIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, id)
}

func TestRelayFlow_OutboxToStreamAndEventRecord(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := createTestLogger()
	eventStore := event.NewRedisStore(infra.RedisClient, createTestOutboxConfig().Stream)
	stream := broker.NewRedisStreamTransport(infra.RedisClient, log)
	hybrid := broker.NewHybrid(stream, nil, log)
	dispatcher := event.NewDispatcher(eventStore, hybrid, createTestBrokerConfig(), log)
	relay := event.NewRelay(eventStore, hybrid, createTestOutboxConfig(), "test_events", log)

	id, err := dispatcher.PublishEvent(ctx, event.TypeOrderCreated, map[string]interface{}{"order_id": "o-9"}, "order-service", "corr-9", nil)
	require.NoError(t, err)

	go relay.Run(ctx)

	// The relay persists the event record and pushes it onto the stream.
	ok := waitFor(ctx, 10*time.Second, func() bool {
		length, err := infra.RedisClient.XLen(ctx, "test_events").Result()
		return err == nil && length >= 1
	})
	require.True(t, ok, "expected the relay to publish the event onto the stream")

	got, err := eventStore.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, event.TypeOrderCreated, got.Type)
	assert.Equal(t, "corr-9", got.CorrelationID)
}

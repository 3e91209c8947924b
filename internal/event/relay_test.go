package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backbone/internal/broker"
	"backbone/internal/config"
	"backbone/internal/logger"
	"backbone/pkg/retry"
)

func newTestRelay(store *fakeStore, b *fakeBroker) *Relay {
	cfg := config.OutboxConfig{
		Stream:       "backbone_outbox",
		GroupName:    "outbox-relay",
		ConsumerName: "relay-test",
		BatchSize:    10,
		RelayRPS:     1000,
	}
	r := NewRelay(store, b, cfg, "backbone_events", logger.NopLogger())
	r.policy = retry.Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1.0,
	}
	return r
}

func TestRelayPersistsPublishesAndAcks(t *testing.T) {
	store := newFakeStore()
	b := &fakeBroker{}
	r := newTestRelay(store, b)

	ev := New(TypePaymentFailed, map[string]interface{}{"amount": 3.5}, "billing", "corr-7", nil)
	r.relay(context.Background(), OutboxEntry{StreamID: "1-0", Event: ev})

	// Persisted with the event record.
	_, ok := store.saved[ev.ID]
	assert.True(t, ok)

	// Published over the hybrid path with the type-derived priority.
	require.Len(t, b.published, 1)
	call := b.published[0]
	assert.Equal(t, string(TypePaymentFailed), call.key)
	assert.Equal(t, "backbone_events", call.opts.Stream)
	assert.Equal(t, broker.BrokerHybrid, call.opts.BrokerType)
	assert.Equal(t, broker.PriorityHigh, call.opts.Priority)
	assert.Equal(t, ev.ID, call.data["event_id"])

	// Acked only after both writes succeeded.
	assert.Equal(t, []string{"1-0"}, store.acked)
}

func TestRelayLeavesEntryPendingOnFailure(t *testing.T) {
	store := newFakeStore()
	b := &fakeBroker{publishErr: errors.New("stream unavailable")}
	r := newTestRelay(store, b)

	ev := New(TypeOrderCreated, nil, "order-service", "", nil)
	r.relay(context.Background(), OutboxEntry{StreamID: "2-0", Event: ev})

	assert.Empty(t, store.acked, "a failed relay must leave the entry pending")
}

func TestRelayRunDrainsOutbox(t *testing.T) {
	store := newFakeStore()
	b := &fakeBroker{}
	r := newTestRelay(store, b)

	ev := New(TypeSystemAlert, map[string]interface{}{"severity": "page"}, "backbone-service", "", nil)
	_, err := store.AppendOutbox(context.Background(), ev)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Len(t, b.published, 1)
	assert.Equal(t, broker.PriorityCritical, b.published[0].opts.Priority)
	assert.Equal(t, []string{ev.ID}, store.acked)
}

func TestRelayRunRelaysClaimedEntries(t *testing.T) {
	store := newFakeStore()
	b := &fakeBroker{}
	r := newTestRelay(store, b)

	// An entry stranded pending by an earlier relay is picked up by the
	// claim pass and delivered like any fresh read.
	ev := New(TypeOrderUpdated, map[string]interface{}{"order_id": "o-3"}, "order-service", "", nil)
	store.pending = []OutboxEntry{{StreamID: "3-0", Event: ev}}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Len(t, b.published, 1)
	assert.Equal(t, ev.ID, b.published[0].data["event_id"])
	assert.Equal(t, []string{"3-0"}, store.acked)
}

package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backbone/internal/broker"
	"backbone/internal/config"
	"backbone/internal/logger"
	apperrors "backbone/pkg/errors"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]Event
	outbox  []Event
	pending []OutboxEntry
	acked   []string
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]Event)}
}

func (s *fakeStore) SaveEvent(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[ev.ID] = ev
	return nil
}

func (s *fakeStore) GetEvent(ctx context.Context, id string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.saved[id]
	if !ok {
		return Event{}, apperrors.ErrNotFound.WithDetail("event_id", id)
	}
	return ev, nil
}

func (s *fakeStore) AppendOutbox(ctx context.Context, ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, ev)
	return ev.ID, nil
}

func (s *fakeStore) EnsureOutboxGroup(ctx context.Context, group string) error { return nil }

func (s *fakeStore) ReadOutbox(ctx context.Context, group, consumer string, count int, block time.Duration) ([]OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]OutboxEntry, 0, len(s.outbox))
	for _, ev := range s.outbox {
		entries = append(entries, OutboxEntry{StreamID: ev.ID, Event: ev})
	}
	s.outbox = nil
	return entries, nil
}

func (s *fakeStore) ClaimOutbox(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.pending
	s.pending = nil
	return entries, nil
}

func (s *fakeStore) AckOutbox(ctx context.Context, group string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, ids...)
	return nil
}

type publishedCall struct {
	data map[string]interface{}
	key  string
	opts broker.PublishOptions
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []publishedCall
	publishErr error
}

func (b *fakeBroker) Publish(ctx context.Context, data map[string]interface{}, routingKey string, opts broker.PublishOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return "", b.publishErr
	}
	b.published = append(b.published, publishedCall{data: data, key: routingKey, opts: opts})
	return "1-0", nil
}

func (b *fakeBroker) Consume(ctx context.Context, stream, group, consumer string, handler broker.HandlerFunc, brokerType broker.BrokerType) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestDispatcher() (*Dispatcher, *fakeStore, *fakeBroker) {
	store := newFakeStore()
	b := &fakeBroker{}
	cfg := config.BrokerConfig{EventStream: "backbone_events", GroupName: "event-dispatcher"}
	return NewDispatcher(store, b, cfg, logger.NopLogger()), store, b
}

func TestPublishEventWritesOutboxOnly(t *testing.T) {
	d, store, b := newTestDispatcher()

	id, err := d.PublishEvent(context.Background(), TypeOrderCreated, map[string]interface{}{"order_id": "o-1"}, "order-service", "corr-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// The relay owns persistence and transport delivery.
	require.Len(t, store.outbox, 1)
	assert.Empty(t, store.saved)
	assert.Empty(t, b.published)
	assert.Equal(t, id, store.outbox[0].ID)
	assert.Equal(t, TypeOrderCreated, store.outbox[0].Type)
}

func TestPublishEventValidation(t *testing.T) {
	d, _, _ := newTestDispatcher()

	_, err := d.PublishEvent(context.Background(), Type("order_shipped"), nil, "order-service", "", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnknownEventType(err))

	_, err = d.PublishEvent(context.Background(), TypeOrderCreated, nil, "", "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestDispatchInvokesAllHandlers(t *testing.T) {
	d, _, _ := newTestDispatcher()

	var mu sync.Mutex
	var calls []string
	d.RegisterHandler(TypeUserCreated, func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "first:"+ev.ID)
		return nil
	})
	d.RegisterHandler(TypeUserCreated, func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "second:"+ev.ID)
		return nil
	})
	d.RegisterHandler(TypeUserDeleted, func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "wrong-type")
		return nil
	})

	ev := New(TypeUserCreated, nil, "user-service", "", nil)
	d.Dispatch(context.Background(), ev)

	require.Len(t, calls, 2)
	assert.Equal(t, "first:"+ev.ID, calls[0])
	assert.Equal(t, "second:"+ev.ID, calls[1])
}

func TestDispatchIsolatesHandlerFailures(t *testing.T) {
	d, _, _ := newTestDispatcher()

	var reached bool
	d.RegisterHandler(TypeOrderCompleted, func(ctx context.Context, ev Event) error {
		return errors.New("handler blew up")
	})
	d.RegisterHandler(TypeOrderCompleted, func(ctx context.Context, ev Event) error {
		panic("handler panicked")
	})
	d.RegisterHandler(TypeOrderCompleted, func(ctx context.Context, ev Event) error {
		reached = true
		return nil
	})

	d.Dispatch(context.Background(), New(TypeOrderCompleted, nil, "order-service", "", nil))

	assert.True(t, reached, "later handlers must still run after earlier failures")
}

func TestHandleMessageDropsBadEvents(t *testing.T) {
	d, _, _ := newTestDispatcher()

	var invoked bool
	d.RegisterHandler(TypeOrderCreated, func(ctx context.Context, ev Event) error {
		invoked = true
		return nil
	})

	tests := []struct {
		name string
		data map[string]interface{}
	}{
		{"missing fields", map[string]interface{}{"payload": map[string]interface{}{}}},
		{"unknown type", map[string]interface{}{"event_id": "e-1", "event_type": "order_shipped"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := broker.NewMessage(tt.data, "events", broker.PriorityNormal, broker.BrokerRedis)
			err := d.handleMessage(context.Background(), msg)
			assert.NoError(t, err, "bad events must be acknowledged, not retried")
			assert.False(t, invoked)
		})
	}
}

func TestHandleMessageDispatches(t *testing.T) {
	d, _, _ := newTestDispatcher()

	var got Event
	d.RegisterHandler(TypePaymentProcessed, func(ctx context.Context, ev Event) error {
		got = ev
		return nil
	})

	ev := New(TypePaymentProcessed, map[string]interface{}{"amount": 9.99}, "billing", "corr-2", nil)
	msg := broker.NewMessage(ev.Document(), "events", broker.PriorityNormal, broker.BrokerRedis)

	require.NoError(t, d.handleMessage(context.Background(), msg))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "corr-2", got.CorrelationID)
	assert.Equal(t, 9.99, got.Payload["amount"])
}

func TestGetEvent(t *testing.T) {
	d, store, _ := newTestDispatcher()

	ev := New(TypeDataExported, nil, "export-service", "", nil)
	require.NoError(t, store.SaveEvent(context.Background(), ev))

	got, err := d.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)

	_, err = d.GetEvent(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

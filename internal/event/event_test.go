package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backbone/internal/broker"
	apperrors "backbone/pkg/errors"
)

func TestTypeValid(t *testing.T) {
	known := []Type{
		TypeUserCreated, TypeUserUpdated, TypeUserDeleted,
		TypeOrderCreated, TypeOrderUpdated, TypeOrderCompleted,
		TypePaymentProcessed, TypePaymentFailed,
		TypeInventoryUpdated, TypeNotificationSent,
		TypeSystemAlert, TypeDataExported, TypeReportGenerated,
	}
	for _, typ := range known {
		assert.True(t, typ.Valid(), "expected %q to be a known type", typ)
	}

	assert.False(t, Type("order_shipped").Valid())
	assert.False(t, Type("").Valid())
}

func TestTypePriority(t *testing.T) {
	tests := []struct {
		eventType Type
		want      broker.Priority
	}{
		{TypeSystemAlert, broker.PriorityCritical},
		{TypePaymentFailed, broker.PriorityHigh},
		{TypeOrderCreated, broker.PriorityNormal},
		{TypeUserCreated, broker.PriorityNormal},
		{TypeReportGenerated, broker.PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.Priority())
		})
	}
}

func TestNewEvent(t *testing.T) {
	ev := New(TypeOrderCreated, map[string]interface{}{"order_id": "o-1"}, "order-service", "corr-1", nil)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TypeOrderCreated, ev.Type)
	assert.Equal(t, "order-service", ev.Source)
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.Greater(t, ev.Timestamp, float64(0))

	other := New(TypeOrderCreated, nil, "order-service", "", nil)
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestDocumentRoundTrip(t *testing.T) {
	ev := New(TypePaymentFailed, map[string]interface{}{"amount": 12.5}, "billing", "corr-9", map[string]interface{}{"attempt": "final"})

	got, err := FromDocument(ev.Document())
	require.NoError(t, err)

	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.Source, got.Source)
	assert.Equal(t, ev.CorrelationID, got.CorrelationID)
	assert.Equal(t, ev.Timestamp, got.Timestamp)
	assert.Equal(t, 12.5, got.Payload["amount"])
	assert.Equal(t, "final", got.Metadata["attempt"])
}

func TestDocumentOmitsEmptyOptionalFields(t *testing.T) {
	ev := New(TypeUserDeleted, nil, "user-service", "", nil)
	doc := ev.Document()

	_, hasCorrelation := doc["correlation_id"]
	assert.False(t, hasCorrelation)
	_, hasMetadata := doc["metadata"]
	assert.False(t, hasMetadata)
}

func TestFromDocumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     map[string]interface{}
		wantErr error
	}{
		{
			name:    "missing event_id",
			doc:     map[string]interface{}{"event_type": "order_created"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "missing event_type",
			doc:     map[string]interface{}{"event_id": "e-1"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "unknown event_type",
			doc:     map[string]interface{}{"event_id": "e-1", "event_type": "order_shipped"},
			wantErr: apperrors.ErrUnknownEventType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromDocument(tt.doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

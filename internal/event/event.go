package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"backbone/internal/broker"
	apperrors "backbone/pkg/errors"
)

// Type is the closed set of domain event kinds the backbone carries.
type Type string

const (
	TypeUserCreated      Type = "user_created"
	TypeUserUpdated      Type = "user_updated"
	TypeUserDeleted      Type = "user_deleted"
	TypeOrderCreated     Type = "order_created"
	TypeOrderUpdated     Type = "order_updated"
	TypeOrderCompleted   Type = "order_completed"
	TypePaymentProcessed Type = "payment_processed"
	TypePaymentFailed    Type = "payment_failed"
	TypeInventoryUpdated Type = "inventory_updated"
	TypeNotificationSent Type = "notification_sent"
	TypeSystemAlert      Type = "system_alert"
	TypeDataExported     Type = "data_exported"
	TypeReportGenerated  Type = "report_generated"
)

var knownTypes = map[Type]struct{}{
	TypeUserCreated:      {},
	TypeUserUpdated:      {},
	TypeUserDeleted:      {},
	TypeOrderCreated:     {},
	TypeOrderUpdated:     {},
	TypeOrderCompleted:   {},
	TypePaymentProcessed: {},
	TypePaymentFailed:    {},
	TypeInventoryUpdated: {},
	TypeNotificationSent: {},
	TypeSystemAlert:      {},
	TypeDataExported:     {},
	TypeReportGenerated:  {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Priority decides which transports carry the event: alerts and payment
// failures ride both, everything else stays log-only.
func (t Type) Priority() broker.Priority {
	switch t {
	case TypeSystemAlert:
		return broker.PriorityCritical
	case TypePaymentFailed:
		return broker.PriorityHigh
	default:
		return broker.PriorityNormal
	}
}

// Event is write-once: created at publish time, persisted for 24 hours, and
// never mutated afterwards.
type Event struct {
	ID            string                 `json:"event_id"`
	Type          Type                   `json:"event_type"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     float64                `json:"timestamp"`
	Source        string                 `json:"source_service"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func New(eventType Type, payload map[string]interface{}, source, correlationID string, metadata map[string]interface{}) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Payload:       payload,
		Timestamp:     float64(time.Now().UnixNano()) / float64(time.Second),
		Source:        source,
		CorrelationID: correlationID,
		Metadata:      metadata,
	}
}

// Document renders the event as the map carried in a broker message.
func (e Event) Document() map[string]interface{} {
	doc := map[string]interface{}{
		"event_id":       e.ID,
		"event_type":     string(e.Type),
		"payload":        e.Payload,
		"timestamp":      e.Timestamp,
		"source_service": e.Source,
	}
	if e.CorrelationID != "" {
		doc["correlation_id"] = e.CorrelationID
	}
	if e.Metadata != nil {
		doc["metadata"] = e.Metadata
	}
	return doc
}

// FromDocument parses an event out of a broker message document. An unknown
// event type is reported as such so callers can drop rather than retry.
func FromDocument(doc map[string]interface{}) (Event, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Event{}, fmt.Errorf("encode event document: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event document: %w", err)
	}

	if ev.ID == "" || ev.Type == "" {
		return Event{}, apperrors.ErrValidation.WithDetail("reason", "missing event_id or event_type")
	}
	if !ev.Type.Valid() {
		return Event{}, apperrors.ErrUnknownEventType.WithDetail("event_type", string(ev.Type))
	}

	return ev, nil
}

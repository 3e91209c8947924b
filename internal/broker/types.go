package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Priority maps onto AMQP numeric priorities. Messages at PriorityHigh and
// above are dual-delivered when the broker runs in hybrid mode.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

type BrokerType string

const (
	BrokerRedis    BrokerType = "redis"
	BrokerRabbitMQ BrokerType = "rabbitmq"
	BrokerHybrid   BrokerType = "hybrid"
)

// Message is the wire envelope carried by both transports for one
// publish/consume round trip. It is not persisted beyond transport-native
// retention.
type Message struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Priority   Priority               `json:"priority"`
	RoutingKey string                 `json:"routing_key"`
	BrokerType BrokerType             `json:"broker_type"`
	Data       map[string]interface{} `json:"data"`
	Metadata   MessageMetadata        `json:"metadata"`
}

type MessageMetadata struct {
	Retries int `json:"retries"`
}

func NewMessage(data map[string]interface{}, routingKey string, priority Priority, brokerType BrokerType) Message {
	return Message{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Priority:   priority,
		RoutingKey: routingKey,
		BrokerType: brokerType,
		Data:       data,
	}
}

type HandlerFunc func(ctx context.Context, msg Message) error

// LogTransport is the append-only log with consumer-group semantics.
type LogTransport interface {
	Publish(ctx context.Context, stream string, msg Message) (string, error)
	Consume(ctx context.Context, stream, group, consumer string, handler HandlerFunc) error
}

// QueueTransport is the AMQP-style exchange/queue broker. It is a soft
// dependency: Connect may fail without taking the system down.
type QueueTransport interface {
	Connect(ctx context.Context) error
	Connected() bool
	Publish(ctx context.Context, routingKey string, msg Message) error
	Consume(ctx context.Context, queue, bindingKey string, handler HandlerFunc) error
	Close() error
}

// PublishOptions tune one publish call. The zero value means NORMAL priority
// over the hybrid path with the routing key as the stream name.
type PublishOptions struct {
	Priority   Priority
	BrokerType BrokerType
	Stream     string
}

func (o PublishOptions) withDefaults() PublishOptions {
	if o.Priority == 0 {
		o.Priority = PriorityNormal
	}
	if o.BrokerType == "" {
		o.BrokerType = BrokerHybrid
	}
	return o
}

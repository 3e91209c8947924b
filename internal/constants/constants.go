package constants

import "time"

const (
	EventStream  = "backbone_events"
	OutboxStream = "backbone_outbox"

	EventGroup  = "event-dispatcher"
	OutboxGroup = "outbox-relay"
)

const (
	Exchange = "backbone.events"
)

const (
	EventKeyPrefix = "event:"
	SagaKeyPrefix  = "saga:"
	ActiveSagaSet  = "sagas:active"
)

const (
	EventTTL        = 24 * time.Hour
	TerminalSagaTTL = 24 * time.Hour
)

const (
	ConsumerBatchSize   = 10
	ConsumerBlock       = 2 * time.Second
	ConsumeErrorBackoff = time.Second

	// Pending entries idle longer than this are reclaimed from consumers
	// that stopped acknowledging them.
	ClaimMinIdle = 30 * time.Second
)

const (
	DefaultSweepInterval      = time.Minute
	DefaultStalenessThreshold = 5 * time.Minute
)

const (
	DefaultOutboxBatchSize = 10
	DefaultRelayRPS        = 500
)

const (
	MaxQueuePriority = 4
)

const (
	ShutdownTimeout = 5 * time.Second
)

package broker

import "sync/atomic"

type stats struct {
	sent       atomic.Int64
	received   atomic.Int64
	failed     atomic.Int64
	streamSent atomic.Int64
	queueSent  atomic.Int64
	fallbacks  atomic.Int64
}

// StatsSnapshot is a point-in-time view of the delivery counters.
type StatsSnapshot struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	MessagesFailed   int64 `json:"messages_failed"`
	StreamSent       int64 `json:"stream_sent"`
	QueueSent        int64 `json:"queue_sent"`
	QueueFallbacks   int64 `json:"queue_fallbacks"`
}

func (s *stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		MessagesSent:     s.sent.Load(),
		MessagesReceived: s.received.Load(),
		MessagesFailed:   s.failed.Load(),
		StreamSent:       s.streamSent.Load(),
		QueueSent:        s.queueSent.Load(),
		QueueFallbacks:   s.fallbacks.Load(),
	}
}

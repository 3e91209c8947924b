package event

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"backbone/internal/broker"
	"backbone/internal/config"
	"backbone/internal/constants"
	"backbone/internal/logger"
	"backbone/pkg/metrics"
	"backbone/pkg/retry"
)

// Relay drains the outbox: for each entry it persists the event record and
// publishes it through the hybrid broker onto the shared event stream, then
// acknowledges the outbox entry. Acking only after both writes succeed makes
// the producer-side fan-out at-least-once instead of the partial-failure
// triple write it replaces.
type Relay struct {
	store   Store
	broker  MessageBroker
	cfg     config.OutboxConfig
	stream  string
	logger  logger.Logger
	limiter *rate.Limiter
	policy  retry.Policy
}

func NewRelay(store Store, b MessageBroker, cfg config.OutboxConfig, eventStream string, log logger.Logger) *Relay {
	rps := cfg.RelayRPS
	if rps <= 0 {
		rps = constants.DefaultRelayRPS
	}
	return &Relay{
		store:   store,
		broker:  b,
		cfg:     cfg,
		stream:  eventStream,
		logger:  log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		policy: retry.Policy{
			MaxAttempts:     5,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		},
	}
}

func (r *Relay) Run(ctx context.Context) error {
	if err := r.store.EnsureOutboxGroup(ctx, r.cfg.GroupName); err != nil {
		return err
	}

	r.logger.InfowCtx(ctx, "Outbox relay started",
		"group", r.cfg.GroupName,
		"consumer", r.cfg.ConsumerName,
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, err := r.store.ClaimOutbox(ctx, r.cfg.GroupName, r.cfg.ConsumerName, constants.ClaimMinIdle, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorwCtx(ctx, "Failed to claim stale outbox entries",
				"error", err,
			)
		}
		for _, entry := range claimed {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			r.relay(ctx, entry)
		}

		entries, err := r.store.ReadOutbox(ctx, r.cfg.GroupName, r.cfg.ConsumerName, r.cfg.BatchSize, constants.ConsumerBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorwCtx(ctx, "Failed to read outbox",
				"error", err,
			)
			time.Sleep(constants.ConsumeErrorBackoff)
			continue
		}

		for _, entry := range entries {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			r.relay(ctx, entry)
		}
	}
}

func (r *Relay) relay(ctx context.Context, entry OutboxEntry) {
	ev := entry.Event

	err := retry.RetryWithCallback(ctx, r.policy, func() error {
		if err := r.store.SaveEvent(ctx, ev); err != nil {
			return err
		}

		_, err := r.broker.Publish(ctx, ev.Document(), string(ev.Type), broker.PublishOptions{
			Priority:   ev.Type.Priority(),
			BrokerType: broker.BrokerHybrid,
			Stream:     r.stream,
		})
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("outbox_relay").Inc()
		r.logger.WarnwCtx(ctx, "Retrying outbox relay",
			"event_id", ev.ID,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})

	if err != nil {
		// Leave the entry pending; a claim pass redelivers it once it has
		// been idle past the claim threshold.
		metrics.OutboxRelayErrorsTotal.Inc()
		r.logger.ErrorwCtx(ctx, "Failed to relay outbox entry, leaving pending",
			"event_id", ev.ID,
			"entry_id", entry.StreamID,
			"error", err,
		)
		return
	}

	if err := r.store.AckOutbox(ctx, r.cfg.GroupName, entry.StreamID); err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to ack outbox entry",
			"event_id", ev.ID,
			"entry_id", entry.StreamID,
			"error", err,
		)
		return
	}

	metrics.OutboxRelayedTotal.Inc()
}

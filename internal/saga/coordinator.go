package saga

import (
	"context"
	"time"

	"backbone/internal/config"
	"backbone/internal/event"
	"backbone/internal/logger"
	"backbone/pkg/circuitbreaker"
	apperrors "backbone/pkg/errors"
	"backbone/pkg/logging"
	"backbone/pkg/metrics"
)

// EventPublisher is the slice of the dispatcher the coordinator needs to
// emit lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType event.Type, payload map[string]interface{}, source, correlationID string, metadata map[string]interface{}) (string, error)
}

// Coordinator drives sagas forward step by step and walks compensations
// backward on failure. Sagas it owns live only in the Store; there is no
// in-process saga state shared with other components.
type Coordinator struct {
	store    Store
	executor StepExecutor
	events   EventPublisher
	logger   logger.Logger
	breaker  *circuitbreaker.Wrapper
	cfg      config.SagaConfig
}

func NewCoordinator(store Store, executor StepExecutor, events EventPublisher, cfg config.SagaConfig, log logger.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		executor: executor,
		events:   events,
		logger:   log,
		cfg:      cfg,
	}
}

// SetBreaker wraps collaborator calls in the given circuit breaker.
func (c *Coordinator) SetBreaker(breaker *circuitbreaker.Wrapper) {
	c.breaker = breaker
}

// StartSaga persists a new saga and eagerly runs it from step 0. The saga id
// is returned even when the run ends in compensation; callers observe the
// outcome through GetSaga and the lifecycle events.
func (c *Coordinator) StartSaga(ctx context.Context, sagaType string, steps []Step, payload map[string]interface{}) (string, error) {
	saga, err := NewSaga(sagaType, steps, payload)
	if err != nil {
		return "", err
	}

	if err := c.store.Create(ctx, saga); err != nil {
		return "", err
	}

	metrics.SagasStartedTotal.Inc()
	metrics.ActiveSagas.Inc()

	ctx = logging.WithSagaID(ctx, saga.ID)
	ctx = logging.WithCorrelationID(ctx, saga.CorrelationID)
	c.logger.InfowCtx(ctx, "Saga started",
		"saga_type", saga.Type,
		"steps", len(saga.Steps),
	)

	if err := c.run(ctx, saga, 0); err != nil {
		c.logger.ErrorwCtx(ctx, "Saga run ended with error",
			"error", err,
		)
	}

	return saga.ID, nil
}

// GetSaga returns the saga record for read-only inspection.
func (c *Coordinator) GetSaga(ctx context.Context, id string) (*Saga, error) {
	return c.store.Get(ctx, id)
}

// run executes steps [from, len) in order. It is a plain loop, not
// recursion, so long saga plans cannot grow the call stack. A version
// conflict on any persist means another writer (the sweep) took the saga
// over and this runner stops.
func (c *Coordinator) run(ctx context.Context, saga *Saga, from int) error {
	for i := from; ; i++ {
		if i >= len(saga.Steps) {
			return c.complete(ctx, saga)
		}

		if err := saga.transition(StatusInProgress); err != nil {
			return err
		}
		saga.CurrentStep = i
		if err := c.store.Update(ctx, saga); err != nil {
			return err
		}

		step := saga.Steps[i]
		if err := c.executeStep(ctx, step, saga.Payload); err != nil {
			c.logger.ErrorwCtx(ctx, "Saga step failed",
				"step_index", i,
				"action", step.Action,
				"service", step.Service,
				"error", err,
			)
			return c.compensate(ctx, saga)
		}

		c.logger.InfowCtx(ctx, "Saga step completed",
			"step_index", i,
			"action", step.Action,
			"service", step.Service,
		)
	}
}

func (c *Coordinator) executeStep(ctx context.Context, step Step, payload map[string]interface{}) error {
	start := time.Now()
	var err error
	if c.breaker != nil {
		_, err = c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			return nil, c.executor.Execute(ctx, step.Service, step.Action, payload)
		})
		c.breaker.RecordRequest(err == nil)
	} else {
		err = c.executor.Execute(ctx, step.Service, step.Action, payload)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveSagaStepDuration(step.Service, status, time.Since(start))

	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStepExecution)
	}
	return nil
}

func (c *Coordinator) complete(ctx context.Context, saga *Saga) error {
	if err := saga.transition(StatusCompleted); err != nil {
		return err
	}
	if err := c.store.Update(ctx, saga); err != nil {
		return err
	}

	metrics.SagasCompletedTotal.Inc()
	metrics.ActiveSagas.Dec()
	c.logger.InfowCtx(ctx, "Saga completed",
		"saga_type", saga.Type,
	)

	c.emitLifecycle(ctx, saga, map[string]interface{}{
		"saga_id":   saga.ID,
		"saga_type": saga.Type,
		"status":    string(StatusCompleted),
	})
	return nil
}

// compensate marks the saga FAILED, walks compensations for steps
// [0, current_step) in strictly descending order, then marks it
// COMPENSATED. The failed step's own compensation is never run; steps
// without a declared compensation are skipped.
func (c *Coordinator) compensate(ctx context.Context, saga *Saga) error {
	failedStep := saga.CurrentStep

	// A saga already FAILED is one whose earlier compensation run died
	// partway; the sweep re-enters here and resumes the walk-back.
	if saga.Status != StatusFailed {
		if err := saga.transition(StatusFailed); err != nil {
			return err
		}
		if err := c.store.Update(ctx, saga); err != nil {
			return err
		}
		metrics.ActiveSagas.Dec()
	}

	for i := failedStep - 1; i >= 0; i-- {
		step := saga.Steps[i]
		if step.Compensation == "" {
			continue
		}

		if err := c.executor.Compensate(ctx, step.Service, step.Compensation, saga.Payload); err != nil {
			// A failing compensation cannot stop the walk-back; the step is
			// logged and the remaining compensations still run.
			c.logger.ErrorwCtx(ctx, "Compensation failed",
				"step_index", i,
				"compensation", step.Compensation,
				"service", step.Service,
				"error", err,
			)
			continue
		}

		c.logger.InfowCtx(ctx, "Compensation applied",
			"step_index", i,
			"compensation", step.Compensation,
			"service", step.Service,
		)
	}

	if err := saga.transition(StatusCompensated); err != nil {
		return err
	}
	if err := c.store.Update(ctx, saga); err != nil {
		return err
	}

	metrics.SagasCompensatedTotal.Inc()
	c.logger.WarnwCtx(ctx, "Saga compensated",
		"saga_type", saga.Type,
		"failed_step", failedStep,
	)

	c.emitLifecycle(ctx, saga, map[string]interface{}{
		"saga_id":     saga.ID,
		"saga_type":   saga.Type,
		"status":      string(StatusCompensated),
		"failed_step": failedStep,
	})
	return nil
}

func (c *Coordinator) emitLifecycle(ctx context.Context, saga *Saga, payload map[string]interface{}) {
	if c.events == nil {
		return
	}
	if _, err := c.events.PublishEvent(ctx, event.TypeSystemAlert, payload, c.cfg.SourceService, saga.CorrelationID, nil); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to emit saga lifecycle event",
			"error", err,
		)
	}
}

// RunSweeper periodically force-compensates sagas whose updated_at has gone
// stale. This is the recovery path for sagas whose coordinating process died
// mid-step and never reached the error handler in run.
func (c *Coordinator) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	c.logger.InfowCtx(ctx, "Saga sweeper started",
		"interval", c.cfg.SweepInterval,
		"stale_after", c.cfg.StaleAfter,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the active index. The versioned Update inside
// compensate doubles as the takeover claim: if a live runner advances the
// saga between the staleness read and the FAILED write, the CAS fails with a
// conflict and the sweep leaves that saga alone this round.
func (c *Coordinator) Sweep(ctx context.Context) {
	ids, err := c.store.ActiveIDs(ctx)
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Sweep failed to list active sagas",
			"error", err,
		)
		return
	}

	for _, id := range ids {
		saga, err := c.store.Get(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			c.logger.ErrorwCtx(ctx, "Sweep failed to load saga",
				"saga_id", id,
				"error", err,
			)
			continue
		}

		if saga.Status.Terminal() {
			continue
		}
		if time.Since(saga.UpdatedAt) < c.cfg.StaleAfter {
			continue
		}

		sagaCtx := logging.WithSagaID(ctx, saga.ID)
		sagaCtx = logging.WithCorrelationID(sagaCtx, saga.CorrelationID)
		c.logger.WarnwCtx(sagaCtx, "Saga stale, forcing compensation",
			"saga_type", saga.Type,
			"updated_at", saga.UpdatedAt,
			"current_step", saga.CurrentStep,
		)

		if err := c.compensate(sagaCtx, saga); err != nil {
			if apperrors.IsConflict(err) {
				c.logger.InfowCtx(sagaCtx, "Sweep lost takeover race, skipping saga")
				continue
			}
			c.logger.ErrorwCtx(sagaCtx, "Sweep failed to compensate saga",
				"error", err,
			)
			continue
		}

		metrics.SweepRecoveredTotal.Inc()
	}
}

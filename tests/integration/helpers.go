package integration

import (
	"context"
	"time"

	"backbone/internal/config"
	"backbone/internal/logger"
	"backbone/internal/saga"
)

const (
	containerStartupTimeout = 60
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		EventStream: "test_events",
		GroupName:   "test-dispatcher",
		BatchSize:   10,
	}
}

func createTestOutboxConfig() config.OutboxConfig {
	return config.OutboxConfig{
		Stream:       "test_outbox",
		GroupName:    "test-relay",
		ConsumerName: "relay-1",
		BatchSize:    10,
		RelayRPS:     1000,
	}
}

func createTestSagaConfig() config.SagaConfig {
	return config.SagaConfig{
		SweepInterval: time.Minute,
		StaleAfter:    5 * time.Minute,
		SourceService: "integration-test",
	}
}

func waitFor(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return cond()
}

func fulfillmentSteps() []saga.Step {
	return []saga.Step{
		{Action: "reserve_stock", Service: "inventory", Compensation: "release_stock"},
		{Action: "charge_card", Service: "billing", Compensation: "refund_card"},
	}
}

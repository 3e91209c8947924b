package config

import (
	"fmt"
)

// ValidateStatic checks invariants that must hold before the process starts.
// RabbitMQ settings are deliberately not required: the queue transport is a
// soft dependency and the broker degrades to log-only operation without it.
func ValidateStatic(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", cfg.Server.Port)
	}

	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis.host is required")
	}
	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("redis.port must be in (0, 65535], got %d", cfg.Redis.Port)
	}

	if cfg.Broker.EventStream == cfg.Outbox.Stream {
		return fmt.Errorf("broker.event_stream and outbox.stream must differ, both are %q", cfg.Broker.EventStream)
	}

	if cfg.Broker.RabbitMQ.Host != "" {
		if cfg.Broker.RabbitMQ.Port <= 0 || cfg.Broker.RabbitMQ.Port > 65535 {
			return fmt.Errorf("broker.rabbitmq.port must be in (0, 65535], got %d", cfg.Broker.RabbitMQ.Port)
		}
		if cfg.Broker.RabbitMQ.MaxPriority < 1 || cfg.Broker.RabbitMQ.MaxPriority > 255 {
			return fmt.Errorf("broker.rabbitmq.max_priority must be in [1, 255], got %d", cfg.Broker.RabbitMQ.MaxPriority)
		}
	}

	if cfg.Saga.StaleAfter <= cfg.Saga.SweepInterval {
		return fmt.Errorf("saga.stale_after (%s) must exceed saga.sweep_interval (%s)",
			cfg.Saga.StaleAfter, cfg.Saga.SweepInterval)
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}

	if cfg.CircuitBreaker.Enabled {
		if cfg.CircuitBreaker.FailureRatio < 0 || cfg.CircuitBreaker.FailureRatio > 1 {
			return fmt.Errorf("circuitbreaker.failure_ratio must be in [0, 1], got %f", cfg.CircuitBreaker.FailureRatio)
		}
	}

	return nil
}

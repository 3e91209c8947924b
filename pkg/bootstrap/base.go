package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"backbone/internal/broker"
	"backbone/internal/config"
	"backbone/internal/logger"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger
	Broker *broker.Hybrid
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker builds the hybrid broker on the given Redis client. The queue
// transport is only wired when RabbitMQ is configured, and its connection is
// soft either way.
func (b *Base) InitBroker(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return fmt.Errorf("redis client is required for the log transport")
	}

	stream := broker.NewRedisStreamTransport(client, b.Logger)
	stream.SetBatch(b.Config.Broker.BatchSize, b.Config.Broker.Block)

	var queue broker.QueueTransport
	if b.Config.Broker.RabbitMQ.Host != "" {
		queue = broker.NewAMQPTransport(b.Config.Broker.RabbitMQ, b.Logger)
	}

	b.Broker = broker.NewHybrid(stream, queue, b.Logger)
	b.Broker.Connect(ctx)
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Broker != nil {
		if err := b.Broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}

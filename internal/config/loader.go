package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"backbone/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("broker.event_stream", "BROKER_EVENT_STREAM")
	viper.BindEnv("broker.group_name", "BROKER_GROUP_NAME")
	viper.BindEnv("broker.consumer_name", "BROKER_CONSUMER_NAME")

	viper.BindEnv("broker.rabbitmq.host", "BROKER_RABBITMQ_HOST")
	viper.BindEnv("broker.rabbitmq.port", "BROKER_RABBITMQ_PORT")
	viper.BindEnv("broker.rabbitmq.user", "BROKER_RABBITMQ_USER")
	viper.BindEnv("broker.rabbitmq.password", "BROKER_RABBITMQ_PASSWORD")
	viper.BindEnv("broker.rabbitmq.exchange", "BROKER_RABBITMQ_EXCHANGE")

	viper.BindEnv("outbox.stream", "OUTBOX_STREAM")
	viper.BindEnv("outbox.group_name", "OUTBOX_GROUP_NAME")
	viper.BindEnv("outbox.consumer_name", "OUTBOX_CONSUMER_NAME")

	viper.BindEnv("saga.sweep_interval", "SAGA_SWEEP_INTERVAL")
	viper.BindEnv("saga.stale_after", "SAGA_STALE_AFTER")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func applyDefaults(cfg *Config) {
	if cfg.Broker.EventStream == "" {
		cfg.Broker.EventStream = constants.EventStream
	}
	if cfg.Broker.GroupName == "" {
		cfg.Broker.GroupName = constants.EventGroup
	}
	if cfg.Broker.BatchSize <= 0 {
		cfg.Broker.BatchSize = constants.ConsumerBatchSize
	}
	if cfg.Broker.Block <= 0 {
		cfg.Broker.Block = constants.ConsumerBlock
	}
	if cfg.Broker.RabbitMQ.Exchange == "" {
		cfg.Broker.RabbitMQ.Exchange = constants.Exchange
	}
	if cfg.Broker.RabbitMQ.MaxPriority <= 0 {
		cfg.Broker.RabbitMQ.MaxPriority = constants.MaxQueuePriority
	}
	if cfg.Outbox.Stream == "" {
		cfg.Outbox.Stream = constants.OutboxStream
	}
	if cfg.Outbox.GroupName == "" {
		cfg.Outbox.GroupName = constants.OutboxGroup
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = constants.DefaultOutboxBatchSize
	}
	if cfg.Outbox.RelayRPS <= 0 {
		cfg.Outbox.RelayRPS = constants.DefaultRelayRPS
	}
	if cfg.Saga.SweepInterval <= 0 {
		cfg.Saga.SweepInterval = constants.DefaultSweepInterval
	}
	if cfg.Saga.StaleAfter <= 0 {
		cfg.Saga.StaleAfter = constants.DefaultStalenessThreshold
	}
	if cfg.Saga.SourceService == "" {
		cfg.Saga.SourceService = "saga-coordinator"
	}
}

package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Redis          RedisConfig
	Broker         BrokerConfig
	Outbox         OutboxConfig
	Saga           SagaConfig
	Logging        LoggingConfig
	CircuitBreaker CircuitBreakerConfig
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	EventStream  string         `mapstructure:"event_stream"`
	GroupName    string         `mapstructure:"group_name"`
	ConsumerName string         `mapstructure:"consumer_name"`
	BatchSize    int            `mapstructure:"batch_size"`
	Block        time.Duration  `mapstructure:"block"`
	RabbitMQ     RabbitMQConfig `mapstructure:"rabbitmq"`
	Retry        RetryConfig    `mapstructure:"retry"`
}

type RabbitMQConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Exchange    string `mapstructure:"exchange"`
	QueuePrefix string `mapstructure:"queue_prefix"`
	MaxPriority int    `mapstructure:"max_priority"`
}

type OutboxConfig struct {
	Stream       string `mapstructure:"stream"`
	GroupName    string `mapstructure:"group_name"`
	ConsumerName string `mapstructure:"consumer_name"`
	BatchSize    int    `mapstructure:"batch_size"`
	RelayRPS     int    `mapstructure:"relay_rps"`
}

type SagaConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SourceService string        `mapstructure:"source_service"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

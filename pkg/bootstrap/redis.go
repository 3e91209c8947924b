package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"backbone/internal/config"
	"backbone/internal/logger"
)

type RedisConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewRedisConnector(cfg *config.Config, log logger.Logger) *RedisConnector {
	return &RedisConnector{
		Config: cfg,
		Logger: log,
	}
}

func (rc *RedisConnector) Init(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", rc.Config.Redis.Host, rc.Config.Redis.Port),
		Password: rc.Config.Redis.Password,
		DB:       rc.Config.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	rc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

func (rc *RedisConnector) Shutdown(client *redis.Client) []error {
	var errs []error

	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	return errs
}

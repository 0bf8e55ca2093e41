package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kopakash/loanbot/core/logger"
	"log/slog"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
}

// ConnectRedis builds a Redis client and verifies connectivity with PING.
func ConnectRedis(cfg RedisConfig) (*redis.Client, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.DB.Error("redis ping failed",
			slog.String("event", "db.connect"),
			slog.String("driver", "redis"),
			slog.String("host", cfg.Addr),
			slog.String("err", err.Error()),
		)
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.DB.Info("redis connected",
		slog.String("event", "db.connect"),
		slog.String("driver", "redis"),
		slog.String("host", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return client, nil
}

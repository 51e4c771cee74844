package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLimiterKeyPrefix = "ratelimit:"

type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(connectionString string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLimiter{client: client}, nil
}

func (l *RedisLimiter) Hit(ctx context.Context, key string, limit Limit) (Result, error) {
	redisKey := redisLimiterKeyPrefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, limit.Window).Err(); err != nil {
			return Result{}, err
		}
	}

	resetIn, err := l.client.TTL(ctx, redisKey).Result()
	if err != nil {
		return Result{}, err
	}
	if resetIn < 0 {
		// Key lost its TTL (e.g. expire failed mid-crash); re-arm the window
		// instead of leaving an immortal counter.
		if err := l.client.Expire(ctx, redisKey, limit.Window).Err(); err != nil {
			return Result{}, err
		}
		resetIn = limit.Window
	}

	remaining := limit.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit.Limit),
		Remaining: remaining,
		ResetIn:   resetIn,
	}, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

package ratelimit

// Package ratelimit provides fixed-window request counters and temporary
// IP bans. Windows and bans expire lazily at read time; nothing sweeps
// stale state in the background.

import (
	"context"
	"fmt"
	"time"
)

// Limit is a fixed-window budget: at most Limit hits per Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

type Limiter interface {
	// Hit records one request against key and reports whether it fits the
	// budget. The first hit after a window elapses restarts the counter at
	// one regardless of prior count.
	Hit(ctx context.Context, key string, limit Limit) (Result, error)
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewLimiter(cfg Config) (Limiter, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryLimiter()
	case "redis":
		return NewRedisLimiter(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported rate limit provider: %s", cfg.Provider)
	}
}

// UserKey and IPKey build the canonical action:scope:identity keys.
func UserKey(action, userID string) string {
	return fmt.Sprintf("%s:user:%s", action, userID)
}

func IPKey(action, ip string) string {
	return fmt.Sprintf("%s:ip:%s", action, ip)
}

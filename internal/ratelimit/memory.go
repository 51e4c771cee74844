package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryLimiterSize = 100_000

// MemoryLimiter keeps fixed-window counters in a bounded in-process map.
// Suitable for single-instance deployments; use the redis limiter when
// counters must be shared.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *window]
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter() (*MemoryLimiter, error) {
	windows, err := lru.New[string, *window](defaultMemoryLimiterSize)
	if err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		windows: windows,
		now:     time.Now,
	}, nil
}

func (l *MemoryLimiter) Hit(ctx context.Context, key string, limit Limit) (Result, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows.Get(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(limit.Window)}
		l.windows.Add(key, w)
	} else {
		w.count++
	}

	remaining := limit.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= limit.Limit,
		Remaining: remaining,
		ResetIn:   w.resetAt.Sub(now),
	}, nil
}

func (l *MemoryLimiter) Close() error {
	return nil
}

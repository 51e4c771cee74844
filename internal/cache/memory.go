package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryCacheSize = 10_000

// MemoryProvider is a bounded in-process cache. Entries expire lazily:
// an expired entry is evicted on the read that finds it.
type MemoryProvider struct {
	entries *lru.Cache[string, entry]
	now     func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryProvider() (*MemoryProvider, error) {
	entries, err := lru.New[string, entry](defaultMemoryCacheSize)
	if err != nil {
		return nil, err
	}
	return &MemoryProvider{
		entries: entries,
		now:     time.Now,
	}, nil
}

func (m *MemoryProvider) Get(ctx context.Context, key string) (string, error) {
	_ = ctx
	cached, ok := m.entries.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	if m.now().After(cached.expiresAt) {
		m.entries.Remove(key)
		return "", ErrNotFound
	}
	return cached.value, nil
}

func (m *MemoryProvider) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	_ = ctx
	m.entries.Add(key, entry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	})
	return nil
}

func (m *MemoryProvider) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.entries.Remove(key)
	return nil
}

func (m *MemoryProvider) Close() error {
	return nil
}

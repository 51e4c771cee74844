package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Named ban durations. Repeated cancellation-request abuse earns a longer
// ban than a generic rate-limit breach.
const (
	GenericBanDuration       = time.Hour
	CancelRequestBanDuration = 24 * time.Hour
)

type Ban struct {
	IP          string    `json:"ip"`
	Reason      string    `json:"reason"`
	BannedUntil time.Time `json:"banned_until"`
}

// Active reports whether the ban still holds at now. An expired ban is
// inert; nothing deletes it explicitly.
func (b Ban) Active(now time.Time) bool {
	return now.Before(b.BannedUntil)
}

func (b Ban) Remaining(now time.Time) time.Duration {
	if !b.Active(now) {
		return 0
	}
	return b.BannedUntil.Sub(now)
}

type BanStore interface {
	// Get returns the stored ban for ip, or nil when none is recorded.
	// Callers decide activity by comparing BannedUntil against now.
	Get(ctx context.Context, ip string) (*Ban, error)
	// Ban unconditionally (re)creates a ban expiring after duration.
	Ban(ctx context.Context, ip string, duration time.Duration, reason string) error
	Close() error
}

func NewBanStore(cfg Config) (BanStore, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryBanStore()
	case "redis":
		return NewRedisBanStore(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported ban store provider: %s", cfg.Provider)
	}
}

const defaultMemoryBanStoreSize = 10_000

type MemoryBanStore struct {
	mu   sync.Mutex
	bans *lru.Cache[string, Ban]
	now  func() time.Time
}

func NewMemoryBanStore() (*MemoryBanStore, error) {
	bans, err := lru.New[string, Ban](defaultMemoryBanStoreSize)
	if err != nil {
		return nil, err
	}
	return &MemoryBanStore{
		bans: bans,
		now:  time.Now,
	}, nil
}

func (s *MemoryBanStore) Get(ctx context.Context, ip string) (*Ban, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	ban, ok := s.bans.Get(ip)
	if !ok {
		return nil, nil
	}
	return &ban, nil
}

func (s *MemoryBanStore) Ban(ctx context.Context, ip string, duration time.Duration, reason string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bans.Add(ip, Ban{
		IP:          ip,
		Reason:      reason,
		BannedUntil: s.now().Add(duration),
	})
	return nil
}

func (s *MemoryBanStore) Close() error {
	return nil
}

const redisBanKeyPrefix = "ban:"

type RedisBanStore struct {
	client *redis.Client
}

func NewRedisBanStore(connectionString string) (*RedisBanStore, error) {
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

	return &RedisBanStore{client: client}, nil
}

func (s *RedisBanStore) Get(ctx context.Context, ip string) (*Ban, error) {
	payload, err := s.client.Get(ctx, redisBanKeyPrefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ban Ban
	if err := json.Unmarshal(payload, &ban); err != nil {
		return nil, fmt.Errorf("failed to decode ban record: %w", err)
	}
	return &ban, nil
}

func (s *RedisBanStore) Ban(ctx context.Context, ip string, duration time.Duration, reason string) error {
	ban := Ban{
		IP:          ip,
		Reason:      reason,
		BannedUntil: time.Now().Add(duration),
	}
	payload, err := json.Marshal(ban)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisBanKeyPrefix+ip, payload, duration).Err()
}

func (s *RedisBanStore) Close() error {
	return s.client.Close()
}

// FormatRemaining renders a ban's remaining time for user-facing errors.
func FormatRemaining(d time.Duration) string {
	switch {
	case d <= 0:
		return "0 minutes"
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}

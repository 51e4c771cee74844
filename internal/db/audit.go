package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitEvent is one admission decision on a guarded action, kept for
// later abuse analysis.
type RateLimitEvent struct {
	ID        int64
	Action    string
	Scope     string
	Key       string
	IP        string
	UserID    uuid.UUID
	Allowed   bool
	CreatedAt time.Time
}

type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) RecordRateLimitEvent(ctx context.Context, event RateLimitEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rate_limit_events (action, scope, key, ip, user_id, allowed)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.Action, event.Scope, event.Key, event.IP, event.UserID, event.Allowed)
	return err
}

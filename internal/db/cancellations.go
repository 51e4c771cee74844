package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CancellationStore struct {
	pool *pgxpool.Pool
}

func NewCancellationStore(pool *pgxpool.Pool) *CancellationStore {
	return &CancellationStore{pool: pool}
}

func (s *CancellationStore) ExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cancellation_requests WHERE order_id = $1)`, orderID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *CancellationStore) Create(ctx context.Context, request *CancellationRequest) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO cancellation_requests (order_id, user_id, ip, reason, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, request.OrderID, request.UserID, request.IP, request.Reason, request.Status,
	).Scan(&request.ID, &request.CreatedAt)
}

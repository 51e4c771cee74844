package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftshopapp/craftshop/internal/models"
)

var ErrInvalidStatusTransition = errors.New("invalid order status transition")

// statusTimestampColumns maps each reachable status to the timestamp
// column stamped when an order enters it. Pending is never a target.
var statusTimestampColumns = map[OrderStatus]string{
	StatusProcessing: "processing_at",
	StatusShipped:    "shipped_at",
	StatusDelivered:  "delivered_at",
	StatusCancelled:  "cancelled_at",
	StatusRefunded:   "refunded_at",
}

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type OrderStore struct {
	pool    querier
	catalog *CatalogStore
}

func NewOrderStore(pool *pgxpool.Pool, catalog *CatalogStore) *OrderStore {
	return &OrderStore{
		pool:    pool,
		catalog: catalog,
	}
}

const orderColumns = `id, order_number, user_id, status, payment_status, payment_method,
	tracking_number, carrier, created_at, paid_at, processing_at, shipped_at,
	delivered_at, cancelled_at, refunded_at`

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, map[uuid.UUID]*Order{order.ID: order}); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetByIDs fetches the referenced orders with their items in one pass.
// Missing ids are simply absent from the result; callers decide whether
// that is an error.
func (s *OrderStore) GetByIDs(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID]*Order, error) {
	if len(orderIDs) == 0 {
		return map[uuid.UUID]*Order{}, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ANY($1)`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make(map[uuid.UUID]*Order)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders[order.ID] = order
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

type TransitionUpdate struct {
	TrackingNumber string
	Carrier        string
	Actor          string
}

// ApplyTransition moves an order from its current status to target as one
// transaction: a conditional status update guarded on the previously read
// status, the status timestamp, one history entry, and stock restoration
// when the order lands on a terminal status. If another caller changed the
// order in between, the conditional update matches no row and the whole
// transaction is abandoned with ErrInvalidStatusTransition, which is what
// makes stock restoration exactly-once.
func (s *OrderStore) ApplyTransition(ctx context.Context, order *Order, target OrderStatus, update TransitionUpdate) (*Order, error) {
	column, ok := statusTimestampColumns[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a reachable status", ErrInvalidStatusTransition, target)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	var tag pgconn.CommandTag
	if target == StatusShipped && update.TrackingNumber != "" {
		tag, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE orders SET status = $1, %s = $2, tracking_number = $3, carrier = $4 WHERE id = $5 AND status = $6`, column),
			target, now, update.TrackingNumber, update.Carrier, order.ID, order.Status)
	} else {
		tag, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE orders SET status = $1, %s = $2 WHERE id = $3 AND status = $4`, column),
			target, now, order.ID, order.Status)
	}
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: expected %s", ErrInvalidStatusTransition, order.Status)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, previous_status, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		order.ID, target, order.Status, update.Actor, now,
	); err != nil {
		return nil, fmt.Errorf("failed to append status history: %w", err)
	}

	if target.Terminal() && !order.Status.Terminal() {
		if err := s.catalog.RestoreStock(ctx, tx, order.Items); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	updated := *order
	updated.Status = target
	switch target {
	case StatusProcessing:
		updated.ProcessingAt = now
	case StatusShipped:
		updated.ShippedAt = now
		if update.TrackingNumber != "" {
			updated.TrackingNumber = update.TrackingNumber
			updated.Carrier = update.Carrier
		}
	case StatusDelivered:
		updated.DeliveredAt = now
	case StatusCancelled:
		updated.CancelledAt = now
	case StatusRefunded:
		updated.RefundedAt = now
	}
	updated.StatusHistory = append(append([]models.StatusHistoryEntry{}, order.StatusHistory...), models.StatusHistoryEntry{
		Status:         target,
		PreviousStatus: order.Status,
		Actor:          update.Actor,
		CreatedAt:      now,
	})
	return &updated, nil
}

// UpdatePaymentStatus sets the payment axis independently of the order
// state machine. Entering paid stamps paid_at once; later payment status
// changes leave the original timestamp alone.
func (s *OrderStore) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status PaymentStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1,
		    paid_at = CASE WHEN $1 = 'paid' AND paid_at IS NULL THEN NOW() ELSE paid_at END
		WHERE id = $2
	`, status, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes an order after restoring stock for non-terminal orders.
// The status driving the restoration decision is read back from the DELETE
// itself so a concurrent cancellation cannot cause a double restore.
func (s *OrderStore) Delete(ctx context.Context, orderID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, order_id, product_id, variant_id, quantity, unit_price_cents
		 FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return err
	}
	items, err := scanItems(rows)
	if err != nil {
		return err
	}

	var status OrderStatus
	if err := tx.QueryRow(ctx, `DELETE FROM orders WHERE id = $1 RETURNING status`, orderID).Scan(&status); err != nil {
		return err
	}

	if !status.Terminal() {
		if err := s.catalog.RestoreStock(ctx, tx, items); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *OrderStore) loadItems(ctx context.Context, orders map[uuid.UUID]*Order) error {
	if len(orders) == 0 {
		return nil
	}

	orderIDs := make([]uuid.UUID, 0, len(orders))
	for id := range orders {
		orderIDs = append(orderIDs, id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, product_id, variant_id, quantity, unit_price_cents
		 FROM order_items WHERE order_id = ANY($1)`, orderIDs)
	if err != nil {
		return err
	}
	items, err := scanItems(rows)
	if err != nil {
		return err
	}

	for _, item := range items {
		if order, ok := orders[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	return nil
}

func (s *OrderStore) loadHistory(ctx context.Context, order *Order) error {
	rows, err := s.pool.Query(ctx,
		`SELECT status, previous_status, actor, created_at
		 FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.StatusHistoryEntry
		var actor pgtype.Text
		if err := rows.Scan(&entry.Status, &entry.PreviousStatus, &actor, &entry.CreatedAt); err != nil {
			return err
		}
		if actor.Valid {
			entry.Actor = actor.String
		}
		order.StatusHistory = append(order.StatusHistory, entry)
	}
	return rows.Err()
}

func scanItems(rows pgx.Rows) ([]OrderItem, error) {
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		var variantID pgtype.UUID
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &variantID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		if variantID.Valid {
			id := uuid.UUID(variantID.Bytes)
			item.VariantID = &id
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var order Order
	var trackingNumber, carrier pgtype.Text
	var paidAt, processingAt, shippedAt, deliveredAt, cancelledAt, refundedAt pgtype.Timestamptz

	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.Status,
		&order.PaymentStatus, &order.PaymentMethod, &trackingNumber, &carrier,
		&order.CreatedAt, &paidAt, &processingAt, &shippedAt, &deliveredAt,
		&cancelledAt, &refundedAt,
	); err != nil {
		return nil, err
	}

	if trackingNumber.Valid {
		order.TrackingNumber = trackingNumber.String
	}
	if carrier.Valid {
		order.Carrier = carrier.String
	}
	if paidAt.Valid {
		order.PaidAt = paidAt.Time
	}
	if processingAt.Valid {
		order.ProcessingAt = processingAt.Time
	}
	if shippedAt.Valid {
		order.ShippedAt = shippedAt.Time
	}
	if deliveredAt.Valid {
		order.DeliveredAt = deliveredAt.Time
	}
	if cancelledAt.Valid {
		order.CancelledAt = cancelledAt.Time
	}
	if refundedAt.Valid {
		order.RefundedAt = refundedAt.Time
	}

	return &order, nil
}

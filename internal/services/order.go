package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/craftshopapp/craftshop/internal/db"
	"github.com/craftshopapp/craftshop/internal/logging"
	"github.com/craftshopapp/craftshop/internal/models"
	"github.com/craftshopapp/craftshop/internal/observability"
)

type orderStore interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error)
	GetByIDs(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID]*db.Order, error)
	ApplyTransition(ctx context.Context, order *db.Order, target db.OrderStatus, update db.TransitionUpdate) (*db.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status db.PaymentStatus) error
	Delete(ctx context.Context, orderID uuid.UUID) error
}

// OrderService drives the order state machine. All status changes, single
// or bulk, go through TransitionOrder so the adjacency rules and the
// terminal-state stock restoration behave the same everywhere.
type OrderService struct {
	store  orderStore
	logger *slog.Logger
}

func NewOrderService(store orderStore, logger *slog.Logger) *OrderService {
	return &OrderService{
		store:  store,
		logger: logger,
	}
}

func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID) (*db.Order, error) {
	order, err := s.store.GetByID(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

// Transition loads the order and applies a single status change.
func (s *OrderService) Transition(ctx context.Context, orderID uuid.UUID, target db.OrderStatus, update db.TransitionUpdate) (*db.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.transition",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Transition"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.TransitionOrder(ctx, order, target, update)
}

// TransitionOrder applies a status change to an already-loaded order.
// Requesting the status the order is already in is an idempotent no-op:
// no timestamp, no history entry, no stock restoration.
func (s *OrderService) TransitionOrder(ctx context.Context, order *db.Order, target db.OrderStatus, update db.TransitionUpdate) (*db.Order, error) {
	logger := logging.FromContext(ctx, s.logger)
	meter := observability.MeterFromContext(ctx)
	meter.Count("order.transition.received", 1, sentry.WithAttributes(
		attribute.String("target", string(target)),
	))
	recordFailed := func(reason string) {
		meter.Count("order.transition.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	if !target.Valid() {
		recordFailed("unknown_status")
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, target)
	}

	if order.Status == target {
		meter.Count("order.transition.noop", 1)
		return order, nil
	}

	if !models.CanTransition(order.Status, target) {
		recordFailed("illegal_transition")
		return nil, TransitionError{From: order.Status, To: target}
	}

	updated, err := s.store.ApplyTransition(ctx, order, target, update)
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			// Lost the race against a concurrent mutation; the guard in the
			// conditional update matched no row.
			recordFailed("concurrent_mutation")
			return nil, TransitionError{From: order.Status, To: target}
		}
		recordFailed("datastore_error")
		return nil, fmt.Errorf("failed to apply status transition: %w", err)
	}

	logger.Info("order status changed",
		"order_id", order.ID,
		"from", order.Status,
		"to", target,
		"actor", update.Actor,
	)
	meter.Count("order.transition.processed", 1, sentry.WithAttributes(
		attribute.String("from", string(order.Status)),
		attribute.String("to", string(target)),
	))
	return updated, nil
}

// SetPaymentStatus updates the payment axis. It is independent of the
// order state machine, so no adjacency check applies.
func (s *OrderService) SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status db.PaymentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}

	err := s.store.UpdatePaymentStatus(ctx, orderID, status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return nil
}

// Delete removes the order. Stock restoration for non-terminal orders
// happens inside the store's transaction.
func (s *OrderService) Delete(ctx context.Context, orderID uuid.UUID) error {
	err := s.store.Delete(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

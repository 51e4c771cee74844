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

	"github.com/craftshopapp/craftshop/internal/cache"
	"github.com/craftshopapp/craftshop/internal/db"
	"github.com/craftshopapp/craftshop/internal/logging"
	"github.com/craftshopapp/craftshop/internal/observability"
)

type BulkAction string

const (
	BulkUpdateStatus        BulkAction = "updateStatus"
	BulkUpdatePaymentStatus BulkAction = "updatePaymentStatus"
	BulkDelete              BulkAction = "delete"
)

type BulkParams struct {
	Status         db.OrderStatus
	PaymentStatus  db.PaymentStatus
	TrackingNumber string
	Carrier        string
	Actor          string
}

type BulkFailure struct {
	OrderID uuid.UUID
	Reason  string
}

type BulkResult struct {
	SuccessIDs []uuid.UUID
	Failures   []BulkFailure
}

type cacheInvalidator interface {
	Delete(ctx context.Context, key string) error
}

// BulkExecutor applies one action to many orders with per-order failure
// isolation: a rejected or missing order becomes a recorded failure and
// the loop moves on. The batch is never atomic as a whole.
type BulkExecutor struct {
	store  orderStore
	orders *OrderService
	cache  cacheInvalidator
	logger *slog.Logger
}

func NewBulkExecutor(store orderStore, orders *OrderService, invalidator cacheInvalidator, logger *slog.Logger) *BulkExecutor {
	return &BulkExecutor{
		store:  store,
		orders: orders,
		cache:  invalidator,
		logger: logger,
	}
}

// Execute runs action over orderIDs in input order. It returns an error
// only when the request itself is malformed or the initial lookup fails;
// everything per-order lands in the result.
func (e *BulkExecutor) Execute(ctx context.Context, orderIDs []uuid.UUID, action BulkAction, params BulkParams) (*BulkResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.bulk.execute",
		sentry.WithOpName("service.bulk"),
		sentry.WithDescription("Execute"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, e.logger)
	meter := observability.MeterFromContext(ctx)
	meter.Count("bulk.batch.received", 1, sentry.WithAttributes(
		attribute.String("action", string(action)),
		attribute.Int("orders", len(orderIDs)),
	))

	switch action {
	case BulkUpdateStatus:
		if !params.Status.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, params.Status)
		}
	case BulkUpdatePaymentStatus:
		if !params.PaymentStatus.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, params.PaymentStatus)
		}
	case BulkDelete:
	default:
		return nil, fmt.Errorf("unsupported bulk action: %s", action)
	}

	orders, err := e.store.GetByIDs(ctx, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	result := &BulkResult{}
	for _, orderID := range orderIDs {
		order, ok := orders[orderID]
		if !ok {
			result.Failures = append(result.Failures, BulkFailure{OrderID: orderID, Reason: "not found"})
			continue
		}

		if err := e.applyOne(ctx, order, action, params); err != nil {
			result.Failures = append(result.Failures, BulkFailure{OrderID: orderID, Reason: e.failureReason(ctx, orderID, err)})
			continue
		}
		result.SuccessIDs = append(result.SuccessIDs, orderID)
	}

	e.invalidate(ctx, result.SuccessIDs)

	logger.Info("bulk operation finished",
		"action", action,
		"succeeded", len(result.SuccessIDs),
		"failed", len(result.Failures),
	)
	meter.Count("bulk.order.processed", int64(len(result.SuccessIDs)), sentry.WithAttributes(
		attribute.String("action", string(action)),
	))
	meter.Count("bulk.order.failed", int64(len(result.Failures)), sentry.WithAttributes(
		attribute.String("action", string(action)),
	))
	return result, nil
}

func (e *BulkExecutor) applyOne(ctx context.Context, order *db.Order, action BulkAction, params BulkParams) error {
	switch action {
	case BulkUpdateStatus:
		_, err := e.orders.TransitionOrder(ctx, order, params.Status, db.TransitionUpdate{
			TrackingNumber: params.TrackingNumber,
			Carrier:        params.Carrier,
			Actor:          params.Actor,
		})
		return err
	case BulkUpdatePaymentStatus:
		err := e.store.UpdatePaymentStatus(ctx, order.ID, params.PaymentStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return err
	case BulkDelete:
		err := e.store.Delete(ctx, order.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return err
	default:
		return fmt.Errorf("unsupported bulk action: %s", action)
	}
}

// failureReason keeps business-rule rejections verbatim and hides the
// detail of unexpected datastore errors behind a generic reason.
func (e *BulkExecutor) failureReason(ctx context.Context, orderID uuid.UUID, err error) string {
	var transitionErr TransitionError
	switch {
	case errors.As(err, &transitionErr):
		return transitionErr.Error()
	case errors.Is(err, ErrOrderNotFound):
		return "not found"
	case errors.Is(err, ErrUnknownStatus):
		return err.Error()
	default:
		logging.FromContext(ctx, e.logger).Error("bulk operation failed for order", "error", err, "order_id", orderID)
		return "internal error"
	}
}

// invalidate drops cached reads for the mutated orders. Failures are
// logged and swallowed; the mutation already committed.
func (e *BulkExecutor) invalidate(ctx context.Context, orderIDs []uuid.UUID) {
	if e.cache == nil || len(orderIDs) == 0 {
		return
	}

	logger := logging.FromContext(ctx, e.logger)
	for _, orderID := range orderIDs {
		if err := e.cache.Delete(ctx, cache.OrderKey(orderID.String())); err != nil {
			logger.Warn("failed to invalidate cached order", "error", err, "order_id", orderID)
		}
	}
	if err := e.cache.Delete(ctx, cache.OrderListKey()); err != nil {
		logger.Warn("failed to invalidate cached order list", "error", err)
	}
}

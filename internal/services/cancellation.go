package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/craftshopapp/craftshop/internal/db"
	"github.com/craftshopapp/craftshop/internal/email"
	"github.com/craftshopapp/craftshop/internal/logging"
	"github.com/craftshopapp/craftshop/internal/models"
	"github.com/craftshopapp/craftshop/internal/observability"
	"github.com/craftshopapp/craftshop/internal/ratelimit"
)

const cancelRequestAction = "cancel-request"

type cancellationStore interface {
	ExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	Create(ctx context.Context, request *db.CancellationRequest) error
}

type auditStore interface {
	RecordRateLimitEvent(ctx context.Context, event db.RateLimitEvent) error
}

type CancellationInput struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
	Email   string
	IP      string
	Reason  string
}

type CancellationOutcome struct {
	Request *db.CancellationRequest
	Message string
}

// CancellationService runs the customer-initiated cancellation-request
// workflow. It never touches the order state machine: an approved request
// is what later drives the cancelled transition, through admin tooling.
type CancellationService struct {
	orders         *OrderService
	cancellations  cancellationStore
	audit          auditStore
	limiter        ratelimit.Limiter
	bans           ratelimit.BanStore
	policy         ratelimit.ActionPolicy
	emailer        email.Provider
	supportAddress string
	logger         *slog.Logger
	now            func() time.Time
}

func NewCancellationService(
	orders *OrderService,
	cancellations cancellationStore,
	audit auditStore,
	limiter ratelimit.Limiter,
	bans ratelimit.BanStore,
	policy ratelimit.ActionPolicy,
	emailer email.Provider,
	supportAddress string,
	logger *slog.Logger,
) *CancellationService {
	return &CancellationService{
		orders:         orders,
		cancellations:  cancellations,
		audit:          audit,
		limiter:        limiter,
		bans:           bans,
		policy:         policy,
		emailer:        emailer,
		supportAddress: supportAddress,
		logger:         logger,
		now:            time.Now,
	}
}

// Request runs the admission pipeline in order: ban check, ownership and
// eligibility, duplicate check, user-scoped limit, then IP-scoped limit
// with ban escalation. Only after all of them pass is the request created.
func (s *CancellationService) Request(ctx context.Context, input CancellationInput) (*CancellationOutcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.cancellation.request",
		sentry.WithOpName("service.cancellation"),
		sentry.WithDescription("Request"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, s.logger)
	meter := observability.MeterFromContext(ctx)
	meter.Count("cancellation.request.received", 1)
	recordRejected := func(reason string) {
		meter.Count("cancellation.request.rejected", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	now := s.now()

	ban, err := s.bans.Get(ctx, input.IP)
	if err != nil {
		return nil, fmt.Errorf("failed to check ban state: %w", err)
	}
	if ban != nil && ban.Active(now) {
		recordRejected("banned")
		return nil, BannedError{Remaining: ban.Remaining(now), Reason: ban.Reason}
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		recordRejected("order_not_found")
		return nil, err
	}
	// An order belonging to someone else looks identical to a missing one.
	if order.UserID != input.UserID {
		recordRejected("order_not_found")
		return nil, ErrOrderNotFound
	}

	exists, err := s.cancellations.ExistsForOrder(ctx, input.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing cancellation request: %w", err)
	}
	if exists {
		recordRejected("already_requested")
		return nil, ErrAlreadyRequested
	}

	if order.Status.Terminal() || order.Status == db.StatusShipped || order.Status == db.StatusDelivered {
		recordRejected("not_cancellable")
		return nil, ErrNotCancellable
	}

	userResult, err := s.limiter.Hit(ctx, ratelimit.UserKey(cancelRequestAction, input.UserID.String()), s.policy.UserLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to check user rate limit: %w", err)
	}
	s.recordAudit(ctx, "user", input, userResult.Allowed)
	if !userResult.Allowed {
		recordRejected("user_rate_limited")
		return nil, RateLimitedError{ResetIn: userResult.ResetIn}
	}

	ipResult, err := s.limiter.Hit(ctx, ratelimit.IPKey(cancelRequestAction, input.IP), s.policy.IPLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to check ip rate limit: %w", err)
	}
	s.recordAudit(ctx, "ip", input, ipResult.Allowed)
	if !ipResult.Allowed {
		if err := s.bans.Ban(ctx, input.IP, s.policy.BanDuration, "too many cancellation requests"); err != nil {
			logger.Error("failed to ban ip after rate limit breach", "error", err, "ip", input.IP)
		}
		recordRejected("ip_rate_limited")
		return nil, RateLimitedError{ResetIn: ipResult.ResetIn}
	}

	request := &db.CancellationRequest{
		OrderID: input.OrderID,
		UserID:  input.UserID,
		IP:      input.IP,
		Reason:  input.Reason,
		Status:  models.CancellationPendingApproval,
	}
	if err := s.cancellations.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create cancellation request: %w", err)
	}

	s.sendAck(ctx, order, input.Email)

	logger.Info("cancellation request created",
		"order_id", input.OrderID,
		"user_id", input.UserID,
		"request_id", request.ID,
	)
	meter.Count("cancellation.request.created", 1)

	return &CancellationOutcome{
		Request: request,
		Message: refundMessage(order.PaymentMethod),
	}, nil
}

func (s *CancellationService) recordAudit(ctx context.Context, scope string, input CancellationInput, allowed bool) {
	key := ratelimit.UserKey(cancelRequestAction, input.UserID.String())
	if scope == "ip" {
		key = ratelimit.IPKey(cancelRequestAction, input.IP)
	}
	event := db.RateLimitEvent{
		Action:  cancelRequestAction,
		Scope:   scope,
		Key:     key,
		IP:      input.IP,
		UserID:  input.UserID,
		Allowed: allowed,
	}
	if err := s.audit.RecordRateLimitEvent(ctx, event); err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to record rate limit event", "error", err, "scope", scope)
	}
}

// sendAck emails the customer a receipt for the request. Best effort;
// the request already exists either way.
func (s *CancellationService) sendAck(ctx context.Context, order *db.Order, to string) {
	if s.emailer == nil || to == "" {
		return
	}

	body := fmt.Sprintf("We received your cancellation request for order %s.\n\n%s\n",
		order.OrderNumber, refundMessage(order.PaymentMethod))
	if s.supportAddress != "" {
		body += fmt.Sprintf("\nIf you have any questions, reach us at %s.\n", s.supportAddress)
	}

	message := &email.Email{
		To:      to,
		Subject: fmt.Sprintf("Cancellation request received for order %s", order.OrderNumber),
		Text:    body,
	}
	if err := s.emailer.SendEmail(ctx, message); err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to send cancellation acknowledgement", "error", err, "order_id", order.ID)
	}
}

// refundMessage is the customer-facing explanation of what happens next.
// Card refunds go back automatically once an admin approves; bank
// transfers are paid out manually within three business days.
func refundMessage(method models.PaymentMethod) string {
	switch method {
	case models.PaymentMethodBankTransfer:
		return "Your cancellation request has been received. Once it is approved, your refund will be transferred to your bank account within 3 business days."
	default:
		return "Your cancellation request has been received. Once it is approved, your refund will be issued to your original payment method."
	}
}

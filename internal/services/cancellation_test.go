package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/craftshopapp/craftshop/internal/db"
	"github.com/craftshopapp/craftshop/internal/email"
	"github.com/craftshopapp/craftshop/internal/models"
	"github.com/craftshopapp/craftshop/internal/ratelimit"
)

type fakeCancellationStore struct {
	existing map[uuid.UUID]bool
	created  []*db.CancellationRequest
}

func newFakeCancellationStore() *fakeCancellationStore {
	return &fakeCancellationStore{existing: map[uuid.UUID]bool{}}
}

func (f *fakeCancellationStore) ExistsForOrder(_ context.Context, orderID uuid.UUID) (bool, error) {
	return f.existing[orderID], nil
}

func (f *fakeCancellationStore) Create(_ context.Context, request *db.CancellationRequest) error {
	request.ID = uuid.New()
	request.CreatedAt = time.Now()
	f.existing[request.OrderID] = true
	f.created = append(f.created, request)
	return nil
}

type fakeAuditStore struct {
	events []db.RateLimitEvent
}

func (f *fakeAuditStore) RecordRateLimitEvent(_ context.Context, event db.RateLimitEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeEmailProvider struct {
	sent []*email.Email
	err  error
}

func (f *fakeEmailProvider) SendEmail(_ context.Context, message *email.Email) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeEmailProvider) ValidateAPIKey(context.Context) error {
	return nil
}

type cancellationFixture struct {
	store         *fakeOrderStore
	cancellations *fakeCancellationStore
	audit         *fakeAuditStore
	bans          ratelimit.BanStore
	emailer       *fakeEmailProvider
	service       *CancellationService
}

func newCancellationFixture(t *testing.T, policy ratelimit.ActionPolicy) *cancellationFixture {
	t.Helper()

	limiter, err := ratelimit.NewMemoryLimiter()
	if err != nil {
		t.Fatalf("NewMemoryLimiter() error = %v", err)
	}
	bans, err := ratelimit.NewMemoryBanStore()
	if err != nil {
		t.Fatalf("NewMemoryBanStore() error = %v", err)
	}

	logger := testLogger()
	store := &fakeOrderStore{orders: map[uuid.UUID]*db.Order{}}
	cancellations := newFakeCancellationStore()
	audit := &fakeAuditStore{}
	emailer := &fakeEmailProvider{}
	service := NewCancellationService(
		NewOrderService(store, logger),
		cancellations,
		audit,
		limiter,
		bans,
		policy,
		emailer,
		"support@craftshop.example",
		logger,
	)

	return &cancellationFixture{
		store:         store,
		cancellations: cancellations,
		audit:         audit,
		bans:          bans,
		emailer:       emailer,
		service:       service,
	}
}

func defaultTestPolicy() ratelimit.ActionPolicy {
	return ratelimit.ActionPolicy{
		UserLimit:   ratelimit.Limit{Limit: 10, Window: time.Hour},
		IPLimit:     ratelimit.Limit{Limit: 10, Window: time.Hour},
		BanDuration: 24 * time.Hour,
	}
}

func (f *cancellationFixture) addOrder(status db.OrderStatus, method models.PaymentMethod) *db.Order {
	order := testOrder(status)
	order.PaymentMethod = method
	f.store.orders[order.ID] = order
	return order
}

func cancellationInput(order *db.Order) CancellationInput {
	return CancellationInput{
		OrderID: order.ID,
		UserID:  order.UserID,
		Email:   "customer@example.com",
		IP:      "203.0.113.7",
		Reason:  "changed my mind",
	}
}

func TestRequestCreatesPendingRequest(t *testing.T) {
	t.Parallel()

	fixture := newCancellationFixture(t, defaultTestPolicy())
	order := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)

	outcome, err := fixture.service.Request(context.Background(), cancellationInput(order))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if outcome.Request.Status != models.CancellationPendingApproval {
		t.Fatalf("request status = %s, want %s", outcome.Request.Status, models.CancellationPendingApproval)
	}
	if outcome.Request.ID == uuid.Nil {
		t.Fatalf("request was not persisted")
	}
	if !strings.Contains(outcome.Message, "original payment method") {
		t.Fatalf("card message = %q, want a card refund note", outcome.Message)
	}
	if len(fixture.audit.events) != 2 {
		t.Fatalf("audit events = %d, want one per limiter scope", len(fixture.audit.events))
	}
	for _, event := range fixture.audit.events {
		if !event.Allowed {
			t.Fatalf("audit event %+v recorded as denied for an admitted request", event)
		}
	}
	if len(fixture.emailer.sent) != 1 {
		t.Fatalf("acknowledgement emails sent = %d, want 1", len(fixture.emailer.sent))
	}
	if !strings.Contains(fixture.emailer.sent[0].Text, "support@craftshop.example") {
		t.Fatalf("acknowledgement email = %q, want the support address", fixture.emailer.sent[0].Text)
	}
}

func TestRequestBankTransferMessage(t *testing.T) {
	t.Parallel()

	fixture := newCancellationFixture(t, defaultTestPolicy())
	order := fixture.addOrder(db.StatusProcessing, models.PaymentMethodBankTransfer)

	outcome, err := fixture.service.Request(context.Background(), cancellationInput(order))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if !strings.Contains(outcome.Message, "3 business days") {
		t.Fatalf("bank transfer message = %q, want the 3-business-day note", outcome.Message)
	}
}

func TestRequestRejectsBannedIP(t *testing.T) {
	t.Parallel()

	fixture := newCancellationFixture(t, defaultTestPolicy())
	order := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)
	input := cancellationInput(order)

	if err := fixture.bans.Ban(context.Background(), input.IP, time.Hour, "too many cancellation requests"); err != nil {
		t.Fatalf("Ban() error = %v", err)
	}

	_, err := fixture.service.Request(context.Background(), input)
	var bannedErr BannedError
	if !errors.As(err, &bannedErr) {
		t.Fatalf("Request() error = %v, want BannedError", err)
	}
	if bannedErr.Remaining <= 0 {
		t.Fatalf("BannedError.Remaining = %s, want a positive duration", bannedErr.Remaining)
	}
}

func TestRequestRejectsDuplicate(t *testing.T) {
	t.Parallel()

	fixture := newCancellationFixture(t, defaultTestPolicy())
	order := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)
	input := cancellationInput(order)

	if _, err := fixture.service.Request(context.Background(), input); err != nil {
		t.Fatalf("first Request() error = %v", err)
	}
	_, err := fixture.service.Request(context.Background(), input)
	if !errors.Is(err, ErrAlreadyRequested) {
		t.Fatalf("second Request() error = %v, want ErrAlreadyRequested", err)
	}
}

func TestRequestEligibilityByStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status      db.OrderStatus
		cancellable bool
	}{
		{status: db.StatusPending, cancellable: true},
		{status: db.StatusProcessing, cancellable: true},
		{status: db.StatusShipped, cancellable: false},
		{status: db.StatusDelivered, cancellable: false},
		{status: db.StatusCancelled, cancellable: false},
		{status: db.StatusRefunded, cancellable: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()

			fixture := newCancellationFixture(t, defaultTestPolicy())
			order := fixture.addOrder(tt.status, models.PaymentMethodCard)

			_, err := fixture.service.Request(context.Background(), cancellationInput(order))
			if tt.cancellable && err != nil {
				t.Fatalf("Request() error = %v, want success", err)
			}
			if !tt.cancellable && !errors.Is(err, ErrNotCancellable) {
				t.Fatalf("Request() error = %v, want ErrNotCancellable", err)
			}
		})
	}
}

func TestRequestHidesForeignOrders(t *testing.T) {
	t.Parallel()

	fixture := newCancellationFixture(t, defaultTestPolicy())
	order := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)

	input := cancellationInput(order)
	input.UserID = uuid.New()

	_, err := fixture.service.Request(context.Background(), input)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("Request() error = %v, want ErrOrderNotFound", err)
	}
}

func TestRequestUserLimitDoesNotBan(t *testing.T) {
	t.Parallel()

	policy := defaultTestPolicy()
	policy.UserLimit = ratelimit.Limit{Limit: 1, Window: time.Hour}
	fixture := newCancellationFixture(t, policy)

	first := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)
	second := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)
	second.UserID = first.UserID

	input := cancellationInput(first)
	if _, err := fixture.service.Request(context.Background(), input); err != nil {
		t.Fatalf("first Request() error = %v", err)
	}

	input.OrderID = second.ID
	_, err := fixture.service.Request(context.Background(), input)
	var limitedErr RateLimitedError
	if !errors.As(err, &limitedErr) {
		t.Fatalf("second Request() error = %v, want RateLimitedError", err)
	}
	if limitedErr.ResetIn <= 0 {
		t.Fatalf("RateLimitedError.ResetIn = %s, want a positive duration", limitedErr.ResetIn)
	}

	ban, err := fixture.bans.Get(context.Background(), input.IP)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ban != nil && ban.Active(time.Now()) {
		t.Fatalf("user-scoped limit escalated to an ip ban")
	}
}

func TestRequestIPLimitEscalatesToBan(t *testing.T) {
	t.Parallel()

	policy := defaultTestPolicy()
	policy.IPLimit = ratelimit.Limit{Limit: 1, Window: time.Hour}
	fixture := newCancellationFixture(t, policy)

	first := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)
	second := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)

	if _, err := fixture.service.Request(context.Background(), cancellationInput(first)); err != nil {
		t.Fatalf("first Request() error = %v", err)
	}

	_, err := fixture.service.Request(context.Background(), cancellationInput(second))
	var limitedErr RateLimitedError
	if !errors.As(err, &limitedErr) {
		t.Fatalf("second Request() error = %v, want RateLimitedError", err)
	}

	ban, err := fixture.bans.Get(context.Background(), cancellationInput(second).IP)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ban == nil || !ban.Active(time.Now()) {
		t.Fatalf("ip limit breach did not create an active ban")
	}
	if ban.Reason != "too many cancellation requests" {
		t.Fatalf("ban reason = %q, want the cancellation abuse reason", ban.Reason)
	}

	third := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)
	_, err = fixture.service.Request(context.Background(), cancellationInput(third))
	var bannedErr BannedError
	if !errors.As(err, &bannedErr) {
		t.Fatalf("third Request() error = %v, want BannedError", err)
	}
}

func TestRequestSurvivesEmailFailure(t *testing.T) {
	t.Parallel()

	fixture := newCancellationFixture(t, defaultTestPolicy())
	fixture.emailer.err = errors.New("smtp unavailable")
	order := fixture.addOrder(db.StatusPending, models.PaymentMethodCard)

	outcome, err := fixture.service.Request(context.Background(), cancellationInput(order))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if outcome.Request.ID == uuid.Nil {
		t.Fatalf("request was not persisted despite email failure")
	}
}

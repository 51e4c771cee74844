package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/craftshopapp/craftshop/internal/auth"
	"github.com/craftshopapp/craftshop/internal/db"
)

const testAuthSecret = "test-secret-key-that-is-long-enough!!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeOrderStore backs the services with in-memory orders.
type fakeOrderStore struct {
	orders   map[uuid.UUID]*db.Order
	getCalls int
}

func newFakeOrderStore(orders ...*db.Order) *fakeOrderStore {
	store := &fakeOrderStore{orders: map[uuid.UUID]*db.Order{}}
	for _, order := range orders {
		store.orders[order.ID] = order
	}
	return store
}

func (f *fakeOrderStore) GetByID(_ context.Context, orderID uuid.UUID) (*db.Order, error) {
	f.getCalls++
	order, ok := f.orders[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrderStore) GetByIDs(_ context.Context, orderIDs []uuid.UUID) (map[uuid.UUID]*db.Order, error) {
	found := make(map[uuid.UUID]*db.Order)
	for _, id := range orderIDs {
		if order, ok := f.orders[id]; ok {
			copied := *order
			found[id] = &copied
		}
	}
	return found, nil
}

func (f *fakeOrderStore) ApplyTransition(_ context.Context, order *db.Order, target db.OrderStatus, _ db.TransitionUpdate) (*db.Order, error) {
	updated := *order
	updated.Status = target
	if stored, ok := f.orders[order.ID]; ok {
		stored.Status = target
	}
	return &updated, nil
}

func (f *fakeOrderStore) UpdatePaymentStatus(_ context.Context, orderID uuid.UUID, status db.PaymentStatus) error {
	order, ok := f.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	order.PaymentStatus = status
	return nil
}

func (f *fakeOrderStore) Delete(_ context.Context, orderID uuid.UUID) error {
	if _, ok := f.orders[orderID]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.orders, orderID)
	return nil
}

type fakeCancellationStore struct {
	existing map[uuid.UUID]bool
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
	return nil
}

type fakeAuditStore struct{}

func (fakeAuditStore) RecordRateLimitEvent(context.Context, db.RateLimitEvent) error {
	return nil
}

func customerToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAuthSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func testVerifier() *auth.Verifier {
	return auth.NewVerifier(testAuthSecret)
}

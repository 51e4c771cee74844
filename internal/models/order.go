package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// statusTransitions holds the legal outgoing transitions per status.
// Cancelled and refunded are terminal and have no outgoing edges.
var statusTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {StatusRefunded: true},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func (s OrderStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// CanTransition reports whether to is directly reachable from from.
// A same-status transition is not part of the adjacency set; callers
// that want idempotent no-ops must handle it explicitly.
func CanTransition(from, to OrderStatus) bool {
	return statusTransitions[from][to]
}

type Order struct {
	ID            uuid.UUID     `json:"id"`
	OrderNumber   string        `json:"order_number"`
	UserID        uuid.UUID     `json:"user_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod PaymentMethod `json:"payment_method"`

	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`

	Items         []OrderItem          `json:"items"`
	StatusHistory []StatusHistoryEntry `json:"status_history"`

	CreatedAt    time.Time `json:"created_at"`
	PaidAt       time.Time `json:"paid_at"`
	ProcessingAt time.Time `json:"processing_at"`
	ShippedAt    time.Time `json:"shipped_at"`
	DeliveredAt  time.Time `json:"delivered_at"`
	CancelledAt  time.Time `json:"cancelled_at"`
	RefundedAt   time.Time `json:"refunded_at"`
}

// OrderItem is immutable once created. VariantID, when set, points stock
// restoration at the variant counter instead of the base product.
type OrderItem struct {
	ID             uuid.UUID  `json:"id"`
	OrderID        uuid.UUID  `json:"order_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	Quantity       int        `json:"quantity"`
	UnitPriceCents int        `json:"unit_price_cents"`
}

type StatusHistoryEntry struct {
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Actor          string      `json:"actor"`
	CreatedAt      time.Time   `json:"created_at"`
}

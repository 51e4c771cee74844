package models

import (
	"time"

	"github.com/google/uuid"
)

type CancellationStatus string

const (
	CancellationPendingApproval CancellationStatus = "pending_admin_approval"
	CancellationApproved        CancellationStatus = "approved"
	CancellationRejected        CancellationStatus = "rejected"
)

// CancellationRequest is a customer-initiated precursor to an actual
// cancelled transition. Approval or rejection happens in a separate admin
// flow that drives the order state machine.
type CancellationRequest struct {
	ID        uuid.UUID          `json:"id"`
	OrderID   uuid.UUID          `json:"order_id"`
	UserID    uuid.UUID          `json:"user_id"`
	IP        string             `json:"ip"`
	Reason    string             `json:"reason"`
	Status    CancellationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

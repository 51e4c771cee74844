package db

import "github.com/craftshopapp/craftshop/internal/models"

type Order = models.Order
type OrderItem = models.OrderItem
type OrderStatus = models.OrderStatus
type PaymentStatus = models.PaymentStatus
type CancellationRequest = models.CancellationRequest

const (
	StatusPending    = models.StatusPending
	StatusProcessing = models.StatusProcessing
	StatusShipped    = models.StatusShipped
	StatusDelivered  = models.StatusDelivered
	StatusCancelled  = models.StatusCancelled
	StatusRefunded   = models.StatusRefunded
)

const (
	PaymentPending = models.PaymentPending
	PaymentPaid    = models.PaymentPaid
	PaymentFailed  = models.PaymentFailed
)

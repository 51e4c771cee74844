package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/craftshopapp/craftshop/internal/auth"
	"github.com/craftshopapp/craftshop/internal/cache"
	"github.com/craftshopapp/craftshop/internal/db"
	"github.com/craftshopapp/craftshop/internal/services"
)

const orderCacheTTL = time.Minute

var payloadValidator = validator.New()

type bulkOrdersRequest struct {
	OrderIDs       []string `json:"orderIds" validate:"required,min=1,max=100,dive,uuid"`
	Action         string   `json:"action" validate:"required,oneof=updateStatus updatePaymentStatus delete"`
	Status         string   `json:"status"`
	PaymentStatus  string   `json:"paymentStatus"`
	TrackingNumber string   `json:"trackingNumber"`
	CarrierName    string   `json:"carrierName"`
}

type bulkFailureResponse struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type bulkResultsResponse struct {
	Success []string              `json:"success"`
	Failed  []bulkFailureResponse `json:"failed"`
}

type bulkOrdersResponse struct {
	SuccessCount int                 `json:"successCount"`
	FailedCount  int                 `json:"failedCount"`
	Results      bulkResultsResponse `json:"results"`
}

// BulkOrders applies one admin action to a batch of orders. Per-order
// failures are reported in the response body, not as an HTTP error.
func (h *Handlers) BulkOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	var payload bulkOrdersRequest
	if err := decodeJSONBody(w, r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payloadValidator.Struct(payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid bulk request: "+err.Error())
		return
	}

	orderIDs := make([]uuid.UUID, 0, len(payload.OrderIDs))
	for _, raw := range payload.OrderIDs {
		orderID, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid order id: "+raw)
			return
		}
		orderIDs = append(orderIDs, orderID)
	}

	result, err := h.bulk.Execute(ctx, orderIDs, services.BulkAction(payload.Action), services.BulkParams{
		Status:         db.OrderStatus(payload.Status),
		PaymentStatus:  db.PaymentStatus(payload.PaymentStatus),
		TrackingNumber: payload.TrackingNumber,
		Carrier:        payload.CarrierName,
		Actor:          "admin",
	})
	if err != nil {
		if errors.Is(err, services.ErrUnknownStatus) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("bulk operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "bulk operation failed")
		return
	}

	response := bulkOrdersResponse{
		SuccessCount: len(result.SuccessIDs),
		FailedCount:  len(result.Failures),
		Results: bulkResultsResponse{
			Success: make([]string, 0, len(result.SuccessIDs)),
			Failed:  make([]bulkFailureResponse, 0, len(result.Failures)),
		},
	}
	for _, orderID := range result.SuccessIDs {
		response.Results.Success = append(response.Results.Success, orderID.String())
	}
	for _, failure := range result.Failures {
		response.Results.Failed = append(response.Results.Failed, bulkFailureResponse{
			ID:     failure.OrderID.String(),
			Reason: failure.Reason,
		})
	}

	respondJSON(ctx, w, http.StatusOK, response)
}

// GetOrder returns one of the caller's orders, served from cache when a
// previous read populated it.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	identity, err := h.identityFromRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	cacheKey := cache.OrderKey(orderID.String())
	if cached, err := h.cacheProvider.Get(ctx, cacheKey); err == nil {
		var order db.Order
		if err := json.Unmarshal([]byte(cached), &order); err == nil {
			if order.UserID != identity.UserID {
				respondError(w, http.StatusNotFound, "order not found")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(cached)) //nolint
			return
		}
		logger.Warn("discarding undecodable cached order", "error", err, "order_id", orderID)
	}

	order, err := h.orders.Get(ctx, orderID)
	if errors.Is(err, services.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		logger.Error("failed to load order", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	if order.UserID != identity.UserID {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	payload, err := json.Marshal(order)
	if err != nil {
		logger.Error("failed to encode order", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to encode order")
		return
	}
	if err := h.cacheProvider.Set(ctx, cacheKey, string(payload), orderCacheTTL); err != nil {
		logger.Warn("failed to cache order", "error", err, "order_id", orderID)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload) //nolint
}

func (h *Handlers) identityFromRequest(r *http.Request) (*auth.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return h.verifier.Verify(token)
}

package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/craftshopapp/craftshop/internal/ratelimit"
	"github.com/craftshopapp/craftshop/internal/services"
)

type cancellationRequestPayload struct {
	Reason string `json:"reason"`
}

type cancellationResponse struct {
	Message   string    `json:"message"`
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// RequestCancellation files a customer cancellation request for one order.
func (h *Handlers) RequestCancellation(w http.ResponseWriter, r *http.Request) {
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

	// The body is optional; an empty or absent one means no reason given.
	var payload cancellationRequestPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &payload); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	outcome, err := h.cancellations.Request(ctx, services.CancellationInput{
		OrderID: orderID,
		UserID:  identity.UserID,
		Email:   identity.Email,
		IP:      clientIP(r),
		Reason:  payload.Reason,
	})
	if err != nil {
		h.respondCancellationError(w, r, err)
		return
	}

	logger.Info("cancellation request accepted", "order_id", orderID, "request_id", outcome.Request.ID)
	respondJSON(ctx, w, http.StatusCreated, cancellationResponse{
		Message:   outcome.Message,
		ID:        outcome.Request.ID.String(),
		Status:    string(outcome.Request.Status),
		CreatedAt: outcome.Request.CreatedAt,
	})
}

func (h *Handlers) respondCancellationError(w http.ResponseWriter, r *http.Request, err error) {
	var limitedErr services.RateLimitedError
	var bannedErr services.BannedError

	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrAlreadyRequested):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotCancellable):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &limitedErr):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(limitedErr.ResetIn)))
		respondError(w, http.StatusTooManyRequests, limitedErr.Error())
	case errors.As(err, &bannedErr):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(bannedErr.Remaining)))
		respondError(w, http.StatusTooManyRequests,
			fmt.Sprintf("access suspended, try again in %s", ratelimit.FormatRemaining(bannedErr.Remaining)))
	default:
		h.loggerFromContext(r.Context()).Error("cancellation request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "cancellation request failed")
	}
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

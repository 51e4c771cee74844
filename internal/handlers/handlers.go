package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftshopapp/craftshop/internal/auth"
	"github.com/craftshopapp/craftshop/internal/cache"
	"github.com/craftshopapp/craftshop/internal/config"
	"github.com/craftshopapp/craftshop/internal/logging"
	"github.com/craftshopapp/craftshop/internal/services"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Handlers provides the HTTP request handlers for the order API.
type Handlers struct {
	config        *config.Config
	db            *pgxpool.Pool
	cacheProvider cache.Provider
	verifier      *auth.Verifier
	orders        *services.OrderService
	bulk          *services.BulkExecutor
	cancellations *services.CancellationService
	logger        *slog.Logger
}

type Dependencies struct {
	Config        *config.Config
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Verifier      *auth.Verifier
	Orders        *services.OrderService
	Bulk          *services.BulkExecutor
	Cancellations *services.CancellationService
	Logger        *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("handlers dependencies: verifier is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("handlers dependencies: orders is required")
	}
	if deps.Bulk == nil {
		return nil, fmt.Errorf("handlers dependencies: bulk is required")
	}
	if deps.Cancellations == nil {
		return nil, fmt.Errorf("handlers dependencies: cancellations is required")
	}

	return &Handlers{
		config:        deps.Config,
		db:            deps.DB,
		cacheProvider: deps.CacheProvider,
		verifier:      deps.Verifier,
		orders:        deps.Orders,
		bulk:          deps.Bulk,
		cancellations: deps.Cancellations,
		logger:        logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "database unhealthy")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx, nil).Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

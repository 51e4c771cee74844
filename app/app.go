package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftshopapp/craftshop/internal/auth"
	"github.com/craftshopapp/craftshop/internal/cache"
	"github.com/craftshopapp/craftshop/internal/config"
	"github.com/craftshopapp/craftshop/internal/db"
	"github.com/craftshopapp/craftshop/internal/email"
	"github.com/craftshopapp/craftshop/internal/handlers"
	"github.com/craftshopapp/craftshop/internal/ratelimit"
	"github.com/craftshopapp/craftshop/internal/services"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Limiter       ratelimit.Limiter
	BanStore      ratelimit.BanStore
	Handlers      *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	limiterConfig := ratelimit.Config{
		Provider:              cfg.RateLimitProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	}
	limiter, err := ratelimit.NewLimiter(limiterConfig)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	banStore, err := ratelimit.NewBanStore(limiterConfig)
	if err != nil {
		closeLimiter(logger, limiter)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize ban store: %w", err)
	}

	policy, err := ratelimit.LoadPolicy(cfg.RateLimitPolicyPath)
	if err != nil {
		closeBanStore(logger, banStore)
		closeLimiter(logger, limiter)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, err
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		closeBanStore(logger, banStore)
		closeLimiter(logger, limiter)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	if emailProvider != nil {
		if err := emailProvider.ValidateAPIKey(startupCtx); err != nil {
			closeBanStore(logger, banStore)
			closeLimiter(logger, limiter)
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, fmt.Errorf("email provider API key check failed: %w", err)
		}
	}

	catalogStore := db.NewCatalogStore()
	orderStore := db.NewOrderStore(database, catalogStore)
	cancellationStore := db.NewCancellationStore(database)
	auditStore := db.NewAuditStore(database)

	orderService := services.NewOrderService(orderStore, logger.With("component", "order_service"))
	bulkExecutor := services.NewBulkExecutor(orderStore, orderService, cacheProvider, logger.With("component", "bulk_executor"))
	cancellationService := services.NewCancellationService(
		orderService,
		cancellationStore,
		auditStore,
		limiter,
		banStore,
		policy.CancelRequest,
		emailProvider,
		cfg.SupportAddress,
		logger.With("component", "cancellation_service"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:        cfg,
		DB:            database,
		CacheProvider: cacheProvider,
		Verifier:      auth.NewVerifier(cfg.AuthSecret),
		Orders:        orderService,
		Bulk:          bulkExecutor,
		Cancellations: cancellationService,
		Logger:        logger,
	})
	if err != nil {
		closeBanStore(logger, banStore)
		closeLimiter(logger, limiter)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Limiter:       limiter,
		BanStore:      banStore,
		Handlers:      h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.BanStore != nil {
		closeBanStore(a.Logger, a.BanStore)
	}
	if a.Limiter != nil {
		closeLimiter(a.Logger, a.Limiter)
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: cfg.LogLevel,
	}))
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}

func closeLimiter(logger *slog.Logger, limiter ratelimit.Limiter) {
	if limiter == nil {
		return
	}
	if err := limiter.Close(); err != nil && logger != nil {
		logger.Warn("failed to close rate limiter", "error", err)
	}
}

func closeBanStore(logger *slog.Logger, bans ratelimit.BanStore) {
	if bans == nil {
		return
	}
	if err := bans.Close(); err != nil && logger != nil {
		logger.Warn("failed to close ban store", "error", err)
	}
}

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/trailpay/platform/internal/auth"
	"github.com/trailpay/platform/internal/guard"
	"github.com/trailpay/platform/internal/handler"
	"github.com/trailpay/platform/internal/infra"
	"github.com/trailpay/platform/internal/projection"
	"github.com/trailpay/platform/internal/repository"
	"github.com/trailpay/platform/internal/service"
	"github.com/trailpay/platform/internal/validation"
)

const webhookIdempotencyTTL = 72 * time.Hour

// ServiceDeps holds what NewServices needs. Redis is optional; without it the
// projection store and webhook idempotency stay in process.
type ServiceDeps struct {
	Config *infra.Config
	DB     repository.TxRunner
	Redis  *redis.Client
	Gate   service.CheckoutGate
	Hub    *infra.Hub
	Logger *slog.Logger
}

// Services is the assembled application layer.
type Services struct {
	Sessions *service.SessionService
	Payments *service.PaymentService
	Trails   *service.TrailService
}

// NewServices builds repositories and services.
func NewServices(deps ServiceDeps) *Services {
	cfg := deps.Config
	logger := deps.Logger

	// Repositories
	trailRepo := repository.NewTrailRepository()
	progressRepo := repository.NewProgressRepository()
	paymentRepo := repository.NewPaymentRepository()
	outboxRepo := repository.NewOutboxRepository()

	var store projection.Store = projection.NewInMemoryStore()
	idempotency := guard.NewIdempotencyGuard()
	if deps.Redis != nil {
		store = projection.NewRedisStore(deps.Redis, cfg.RedisPrefix)
		idempotency = guard.NewRedisIdempotencyGuard(deps.Redis, cfg.RedisPrefix+"webhook:", webhookIdempotencyTTL)
	}

	var broadcaster service.Broadcaster
	if deps.Hub != nil {
		broadcaster = deps.Hub
	}

	sessions := service.NewSessionService(service.SessionDeps{
		DB:          deps.DB,
		Trails:      trailRepo,
		Progress:    progressRepo,
		Payments:    paymentRepo,
		Outbox:      outboxRepo,
		Projections: store,
		Broadcaster: broadcaster,
		Logger:      logger,
	}, service.SessionConfig{
		TrailCacheFresh:      cfg.TrailCacheFresh,
		TrailCacheStale:      cfg.TrailCacheStale,
		WatchSampleInterval:  cfg.WatchSampleInterval,
		WatchCompletePercent: cfg.WatchCompletePercent,
		PlayerEventRateLimit: cfg.PlayerEventRateLimit,
	})

	payments := service.NewPaymentService(deps.DB, deps.Gate, paymentRepo, sessions, idempotency, service.PaymentConfig{
		SuccessURL: cfg.StripeSuccessURL,
		CancelURL:  cfg.StripeCancelURL,
	}, logger)

	return &Services{
		Sessions: sessions,
		Payments: payments,
		Trails:   service.NewTrailService(deps.DB, trailRepo, sessions, logger),
	}
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Services     *Services
	Hub          *infra.Hub
	JWTMgr       *auth.JWTManager
	Logger       *slog.Logger
	CORSOrigins  string
	HealthChecks []handler.HealthCheck
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	jwtMgr := deps.JWTMgr
	logger := deps.Logger
	svc := deps.Services
	validate := validation.New()

	// Handlers
	trailHandler := handler.NewTrailHandler(svc.Sessions, svc.Trails)
	sessionHandler := handler.NewSessionHandler(svc.Sessions, validate)
	skipHandler := handler.NewSkipHandler(svc.Sessions, svc.Payments, validate)
	tipHandler := handler.NewTipHandler(svc.Sessions, svc.Payments, validate)
	paymentHandler := handler.NewPaymentHandler(svc.Payments)
	webhookHandler := handler.NewWebhookHandler(svc.Payments, logger)
	eventsHandler := handler.NewEventsHandler(deps.Hub, svc.Sessions)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(deps.CORSOrigins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(deps.HealthChecks...))

	// Webhooks (no auth, raw body required for signature verification)
	r.Post("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	// Learner-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.AuthenticateLearner(jwtMgr))

		r.Get("/payments", paymentHandler.GetPaymentHistory)

		r.Route("/trails/{trailID}", func(r chi.Router) {
			r.Get("/", trailHandler.Get)

			r.Route("/session", func(r chi.Router) {
				r.Post("/", sessionHandler.Open)
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Close)
				r.Get("/events", eventsHandler.Stream)

				r.Post("/player", sessionHandler.PlayerEvent)
				r.Post("/advance", sessionHandler.Advance)
				r.Post("/navigate", sessionHandler.Navigate)
				r.Post("/restart", sessionHandler.Restart)

				r.Post("/skip", skipHandler.Request)
				r.Post("/skip/{quoteID}/pay", skipHandler.Pay)
				r.Delete("/skip/{quoteID}", skipHandler.Cancel)

				r.Post("/tip", tipHandler.Tip)
				r.Post("/tip/skip", tipHandler.SkipTip)
			})
		})
	})

	// Creator-authenticated routes
	r.Route("/creator", func(r chi.Router) {
		r.Use(auth.AuthenticateCreator(jwtMgr))

		r.Put("/trails/{trailID}", trailHandler.Publish)
	})

	return r
}

// RedisHealthCheck pings the shared Redis.
func RedisHealthCheck(client *redis.Client) handler.HealthCheck {
	return handler.HealthCheck{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

package bot

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/perfumeclub/subscription-bot/internal/config"
	"github.com/perfumeclub/subscription-bot/internal/http/handlers/health"
	"github.com/perfumeclub/subscription-bot/internal/http/handlers/payment/paymentwebhook"
	"github.com/perfumeclub/subscription-bot/internal/http/middlewarectx"
	settlementservice "github.com/perfumeclub/subscription-bot/internal/services/settlement"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// NewRouter регистрирует все маршруты приложения.
func NewRouter(logger *slog.Logger, cfg *config.Config, db *repository.Storage, settlement *settlementservice.Service) chi.Router {
	router := chi.NewRouter()

	router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger, rate.NewLimiter(10, 20)))
		r.Post("/payments/webhook", paymentwebhook.New(logger, settlement, cfg.YooKassa.WebhookSecret).ServeHTTP)
	})

	router.Get("/healthz", health.New(logger, db.DB).ServeHTTP)
	router.Handle("/metrics", promhttp.Handler())

	return router
}

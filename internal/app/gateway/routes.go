package gateway

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/http/handlers/access/check"
	"github.com/bussulac/access-gateway/internal/http/handlers/access/modules"
	"github.com/bussulac/access-gateway/internal/http/handlers/allowance/consume"
	"github.com/bussulac/access-gateway/internal/http/handlers/auth/login"
	"github.com/bussulac/access-gateway/internal/http/handlers/auth/register"
	eventcreate "github.com/bussulac/access-gateway/internal/http/handlers/events/create"
	"github.com/bussulac/access-gateway/internal/http/handlers/health"
	submissioncreate "github.com/bussulac/access-gateway/internal/http/handlers/submission/create"
	"github.com/bussulac/access-gateway/internal/http/middlewarectx"
)

// RegisterRoutes регистрирует все маршруты шлюза.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, svc *Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	throttle := rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/register", register.New(logger, svc.Auth).ServeHTTP)
		r.Post("/login", login.New(logger, svc.Auth).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(svc.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, throttle))

			r.Get("/access", check.New(logger, svc.Resolver).ServeHTTP)
			r.Get("/modules", modules.New(logger, svc.Resolver).ServeHTTP)
			r.Post("/allowance/consume", consume.New(logger, svc.Ledger, cfg.DefaultTokenCost).ServeHTTP)
			r.Post("/modules/{module}/submissions",
				submissioncreate.New(logger, svc.Limiter, svc.Gate, svc.Auditor, svc.Metrics, cfg.RateLimit).ServeHTTP)
			r.Post("/events", eventcreate.New(logger, svc.Limiter, svc.Auditor, svc.Metrics, cfg.RateLimit).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, svc.Checks).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

package middlewarectx

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/bussulac/access-gateway/internal/http/response"
)

// RateLimitMiddleware общий для всех клиентов token bucket поверх
// пользовательских скользящих окон.
func RateLimitMiddleware(log *slog.Logger, limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.Warn("global rate limit exceeded", slog.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				response.JSON(w, r, http.StatusTooManyRequests, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

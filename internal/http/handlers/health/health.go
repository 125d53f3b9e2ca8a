// Package health отвечает на проверку готовности сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/bussulac/access-gateway/internal/http/response"
	"github.com/bussulac/access-gateway/internal/lib/sl"
)

const checkTimeout = 2 * time.Second

// Check проверка одной зависимости.
type Check func(ctx context.Context) error

type Handler struct {
	log    *slog.Logger
	checks map[string]Check
}

func New(log *slog.Logger, checks map[string]Check) *Handler {
	return &Handler{
		log:    log,
		checks: checks,
	}
}

// ServeHTTP godoc
// @Summary Проверка готовности
// @Tags Health
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.ErrorResponse
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.log.Warn("dependency not ready", slog.String("op", op), slog.String("dependency", name), sl.Err(err))
			result[name] = "unavailable"
			healthy = false
			continue
		}
		result[name] = "ok"
	}

	if !healthy {
		response.JSON(w, r, http.StatusServiceUnavailable, response.ErrorWithData("service not ready", result))
		return
	}
	response.JSON(w, r, http.StatusOK, response.OKWithData(map[string]any{
		"status": "ok",
		"checks": result,
	}))
}

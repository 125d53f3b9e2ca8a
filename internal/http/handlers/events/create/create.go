// Package create принимает события безопасности, о которых сообщает клиент.
package create

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/http/middlewarectx"
	"github.com/bussulac/access-gateway/internal/http/response"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/ratelimit"
	"github.com/bussulac/access-gateway/internal/sanitizer"
)

const (
	maxBodyBytes = 64 << 10
	action       = "event"

	// clientTypeKey заполняется сервером, клиентские данные его не перезаписывают.
	clientTypeKey = "client_event_type"
)

type Limiter interface {
	AllowFor(ctx context.Context, key, userUID string, maxRequests int, window time.Duration) (bool, error)
}

type Auditor interface {
	Record(ctx context.Context, eventType, userUID string, data map[string]any)
}

type Request struct {
	EventType string         `json:"event_type" validate:"required,max=64"`
	Data      map[string]any `json:"data,omitempty" validate:"max=32"`
}

type Handler struct {
	log      *slog.Logger
	limiter  Limiter
	auditor  Auditor
	metrics  *metrics.Metrics
	limits   config.RateLimit
	validate *validator.Validate
}

func New(log *slog.Logger, limiter Limiter, auditor Auditor, m *metrics.Metrics, limits config.RateLimit) *Handler {
	if m == nil {
		m = metrics.Noop()
	}
	return &Handler{
		log:      log,
		limiter:  limiter,
		auditor:  auditor,
		metrics:  m,
		limits:   limits,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Событие от клиента
// @Description Записывает событие безопасности, замеченное на стороне клиента.
// @Tags Events
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Тип и данные события"
// @Success 202 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /events [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.events.create"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFromContext(r.Context())
	if !ok {
		response.JSON(w, r, http.StatusUnauthorized, response.Error("user identification missing"))
		return
	}

	allowed, err := h.limiter.AllowFor(r.Context(), ratelimit.Key(action, userUID), userUID, h.limits.EventMax, h.limits.EventWindow)
	if err != nil {
		log.Error("rate limiter failed", sl.Err(err))
		response.JSON(w, r, http.StatusServiceUnavailable, response.Error("request could not be processed right now"))
		return
	}
	if !allowed {
		h.metrics.RateLimitDenied.WithLabelValues(action).Inc()
		response.JSON(w, r, http.StatusTooManyRequests, response.Error("too many events, slow down"))
		return
	}

	var req Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		if errors.Is(err, io.EOF) {
			response.JSON(w, r, http.StatusBadRequest, response.Error("empty request body"))
			return
		}
		response.JSON(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.JSON(w, r, http.StatusUnprocessableEntity, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	eventType := sanitizer.Sanitize(req.EventType).Sanitized
	data := map[string]any{clientTypeKey: eventType}
	for k, v := range req.Data {
		key := sanitizer.Sanitize(k).Sanitized
		if key == "" || key == clientTypeKey {
			continue
		}
		// Вложенные значения не сохраняются, строки очищаются.
		switch v.(type) {
		case string:
			data[key] = sanitizer.SanitizeValue(v).Sanitized
		case float64, bool, nil:
			data[key] = v
		}
	}

	if h.auditor != nil {
		h.auditor.Record(r.Context(), models.EventClientReported, userUID, data)
	}
	log.Debug("client event recorded", sl.User(userUID), slog.String(clientTypeKey, eventType))

	response.JSON(w, r, http.StatusAccepted, response.OKWithData(map[string]string{"event_type": models.EventClientReported}))
}

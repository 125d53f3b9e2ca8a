// Package create принимает ответ пользователя в модуле: ограничивает
// частоту, очищает текст и проверяет доступ со списанием ресурса.
package create

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/http/middlewarectx"
	"github.com/bussulac/access-gateway/internal/http/response"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/modules"
	"github.com/bussulac/access-gateway/internal/ratelimit"
	"github.com/bussulac/access-gateway/internal/sanitizer"
	"github.com/bussulac/access-gateway/internal/services/gate"
)

const (
	maxBodyBytes = 1 << 20
	action       = "submission"
)

type Limiter interface {
	AllowFor(ctx context.Context, key, userUID string, maxRequests int, window time.Duration) (bool, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, userUID string, m modules.Module) gate.Verdict
}

type Auditor interface {
	Record(ctx context.Context, eventType, userUID string, data map[string]any)
}

// Result ответ обработчика: вердикт, очищенный ответ и предупреждения по полям.
type Result struct {
	Verdict    gate.Verdict        `json:"verdict"`
	Submission modules.Submission  `json:"submission,omitempty"`
	Warnings   map[string][]string `json:"sanitizer_warnings,omitempty"`
}

type Handler struct {
	log        *slog.Logger
	limiter    Limiter
	authorizer Authorizer
	auditor    Auditor
	metrics    *metrics.Metrics
	limits     config.RateLimit
	validate   *validator.Validate
}

func New(log *slog.Logger, limiter Limiter, authorizer Authorizer, auditor Auditor, m *metrics.Metrics, limits config.RateLimit) *Handler {
	if m == nil {
		m = metrics.Noop()
	}
	return &Handler{
		log:        log,
		limiter:    limiter,
		authorizer: authorizer,
		auditor:    auditor,
		metrics:    m,
		limits:     limits,
		validate:   validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Ответ в модуле
// @Description Проверяет доступ к модулю, списывает ресурс и возвращает очищенный ответ.
// @Tags Modules
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param module path string true "Идентификатор модуля"
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse
// @Failure 402 {object} response.ErrorResponse "Нужна подписка или ресурс исчерпан"
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /modules/{module}/submissions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.submission.create"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFromContext(r.Context())
	if !ok {
		response.JSON(w, r, http.StatusUnauthorized, response.Error("user identification missing"))
		return
	}
	log = log.With(sl.User(userUID))

	module, err := modules.Lookup(modules.Kind(chi.URLParam(r, "module")))
	if err != nil {
		response.JSON(w, r, http.StatusNotFound, response.Error("unknown module"))
		return
	}

	allowed, err := h.limiter.AllowFor(r.Context(), ratelimit.Key(action, userUID), userUID, h.limits.SubmissionMax, h.limits.SubmissionWindow)
	if err != nil {
		log.Error("rate limiter failed", sl.Err(err))
		response.JSON(w, r, http.StatusServiceUnavailable, response.Error("request could not be processed right now"))
		return
	}
	if !allowed {
		h.metrics.RateLimitDenied.WithLabelValues(action).Inc()
		response.JSON(w, r, http.StatusTooManyRequests, response.Error("too many submissions, slow down"))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.JSON(w, r, http.StatusRequestEntityTooLarge, response.Error("request body too large"))
			return
		}
		response.JSON(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}
	sub, err := modules.Decode(module.Kind, raw)
	if err != nil {
		log.Info("failed to decode submission", sl.Err(err))
		response.JSON(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}

	warnings := h.sanitize(r.Context(), log, userUID, module, sub)

	if err := h.validate.Struct(sub); err != nil {
		response.JSON(w, r, http.StatusUnprocessableEntity, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	verdict := h.authorizer.Authorize(r.Context(), userUID, module)
	switch verdict.Reason {
	case gate.ReasonGranted:
		response.JSON(w, r, http.StatusOK, response.OKWithData(Result{Verdict: verdict, Submission: sub, Warnings: warnings}))
	case gate.ReasonUnavailable:
		response.JSON(w, r, http.StatusServiceUnavailable, response.ErrorWithData(verdict.Message, Result{Verdict: verdict}))
	default:
		response.JSON(w, r, http.StatusPaymentRequired, response.ErrorWithData(verdict.Message, Result{Verdict: verdict}))
	}
}

// sanitize очищает все текстовые поля на месте. Подозрительный ввод
// записывается в журнал, но не блокирует запрос.
func (h *Handler) sanitize(ctx context.Context, log *slog.Logger, userUID string, module modules.Module, sub modules.Submission) map[string][]string {
	warnings := make(map[string][]string)
	suspicious := make(map[string][]string)

	for _, f := range sub.TextFields() {
		res := sanitizer.Sanitize(*f.Value)
		*f.Value = res.Sanitized
		if res.IsClean {
			continue
		}
		warnings[f.Name] = res.Warnings
		for _, w := range res.Warnings {
			h.metrics.SanitizerFlags.WithLabelValues(string(module.Kind), w).Inc()
		}
		if res.Suspicious() {
			suspicious[f.Name] = res.Warnings
		}
	}

	if len(suspicious) > 0 {
		log.Warn("suspicious input flagged", slog.Int("fields", len(suspicious)))
		if h.auditor != nil {
			h.auditor.Record(ctx, models.EventSuspiciousInput, userUID, map[string]any{
				"module": string(module.Kind),
				"fields": suspicious,
			})
		}
	}
	if len(warnings) == 0 {
		return nil
	}
	return warnings
}

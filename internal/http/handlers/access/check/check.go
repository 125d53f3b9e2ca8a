// Package check отдаёт текущий статус доступа пользователя.
package check

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/bussulac/access-gateway/internal/http/middlewarectx"
	"github.com/bussulac/access-gateway/internal/http/response"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/services/entitlement"
	"github.com/bussulac/access-gateway/internal/storage"
)

type Service interface {
	Resolve(ctx context.Context, userUID string) (*entitlement.Resolution, error)
}

// Response статус доступа и остатки ресурсов.
type Response struct {
	Status                models.AccessStatus       `json:"status"`
	IsAdmin               bool                      `json:"is_admin"`
	SubscriptionStatus    models.SubscriptionStatus `json:"subscription_status,omitempty"`
	TrialEndDate          *time.Time                `json:"trial_end_date,omitempty"`
	FreeSessionsUsed      int                       `json:"free_sessions_used"`
	FreeSessionsLimit     int                       `json:"free_sessions_limit"`
	FreeSessionsRemaining int                       `json:"free_sessions_remaining"`
	TokenBalance          int64                     `json:"token_balance"`
	ResolvedAt            time.Time                 `json:"resolved_at"`
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Статус доступа
// @Description Вычисляет текущий статус доступа пользователя. Ничего не списывает.
// @Tags Access
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=Response}
// @Failure 401 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.check"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFromContext(r.Context())
	if !ok {
		response.JSON(w, r, http.StatusUnauthorized, response.Error("user identification missing"))
		return
	}

	res, err := h.service.Resolve(r.Context(), userUID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			response.JSON(w, r, http.StatusNotFound, response.Error("user not found"))
			return
		}
		log.Error("failed to resolve access", sl.User(userUID), sl.Err(err))
		response.JSON(w, r, http.StatusServiceUnavailable, response.Error("access could not be verified right now"))
		return
	}

	e := res.Entitlement
	response.JSON(w, r, http.StatusOK, response.OKWithData(Response{
		Status:                res.Status,
		IsAdmin:               e.IsAdmin,
		SubscriptionStatus:    e.SubscriptionStatus,
		TrialEndDate:          e.TrialEndDate,
		FreeSessionsUsed:      e.FreeSessionsUsed,
		FreeSessionsLimit:     e.FreeSessionsLimit,
		FreeSessionsRemaining: e.FreeSessionsRemaining(),
		TokenBalance:          e.TokenBalance,
		ResolvedAt:            res.ResolvedAt,
	}))
}

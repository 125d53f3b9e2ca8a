// Package modules отдаёт каталог модулей с признаком доступности для пользователя.
package modules

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/bussulac/access-gateway/internal/http/middlewarectx"
	"github.com/bussulac/access-gateway/internal/http/response"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	catalog "github.com/bussulac/access-gateway/internal/modules"
	"github.com/bussulac/access-gateway/internal/services/entitlement"
	"github.com/bussulac/access-gateway/internal/storage"
)

type Service interface {
	Resolve(ctx context.Context, userUID string) (*entitlement.Resolution, error)
}

// Item модуль каталога. CanAccess не учитывает остаток сессий или токенов:
// он проверяется только при запуске модуля.
type Item struct {
	catalog.Module
	CanAccess bool `json:"can_access"`
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Каталог модулей
// @Tags Access
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]Item}
// @Failure 401 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /modules [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.modules"

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

	mods := catalog.Catalog()
	items := make([]Item, 0, len(mods))
	for _, m := range mods {
		items = append(items, Item{Module: m, CanAccess: entitlement.CanAccess(res, m.RequiresPaid)})
	}
	response.JSON(w, r, http.StatusOK, response.OKWithData(map[string]any{
		"status":  res.Status,
		"modules": items,
	}))
}

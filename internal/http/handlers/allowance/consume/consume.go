// Package consume списывает расходуемый ресурс пользователя вне модулей.
package consume

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/bussulac/access-gateway/internal/http/middlewarectx"
	"github.com/bussulac/access-gateway/internal/http/response"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/services/ledger"
	"github.com/bussulac/access-gateway/internal/storage"
)

type Service interface {
	Consume(ctx context.Context, userUID string, cost int64) (ledger.Decision, error)
	Mode() ledger.Mode
}

// Request тело запроса. Пустое тело или отсутствующий cost означает
// стоимость по умолчанию.
type Request struct {
	Cost *int64 `json:"cost" validate:"omitempty,min=0"`
}

// Result решение о списании.
type Result struct {
	Allowed      bool          `json:"allowed"`
	Reason       ledger.Reason `json:"reason"`
	Mode         ledger.Mode   `json:"mode"`
	Remaining    *int64        `json:"remaining,omitempty"`
	Unlimited    bool          `json:"unlimited"`
	LowAllowance bool          `json:"low_allowance"`
}

type Handler struct {
	log         *slog.Logger
	service     Service
	defaultCost int64
	validate    *validator.Validate
}

func New(log *slog.Logger, service Service, defaultCost int64) *Handler {
	return &Handler{
		log:         log,
		service:     service,
		defaultCost: defaultCost,
		validate:    validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Списание ресурса
// @Description Списывает одну бесплатную сессию или cost токенов в зависимости от режима.
// @Tags Access
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request false "Стоимость"
// @Success 200 {object} response.Response{data=Result}
// @Failure 402 {object} response.ErrorResponse "Ресурс исчерпан"
// @Failure 422 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /allowance/consume [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.allowance.consume"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFromContext(r.Context())
	if !ok {
		response.JSON(w, r, http.StatusUnauthorized, response.Error("user identification missing"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request body", sl.Err(err))
		response.JSON(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.JSON(w, r, http.StatusUnprocessableEntity, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	cost := h.defaultCost
	if req.Cost != nil {
		cost = *req.Cost
	}

	d, err := h.service.Consume(r.Context(), userUID, cost)
	switch {
	case errors.Is(err, ledger.ErrInvalidCost):
		response.JSON(w, r, http.StatusUnprocessableEntity, response.Error("cost must not be negative"))
		return
	case errors.Is(err, storage.ErrUserNotFound):
		response.JSON(w, r, http.StatusNotFound, response.Error("user not found"))
		return
	case err != nil:
		log.Error("failed to consume allowance", sl.User(userUID), sl.Err(err))
		response.JSON(w, r, http.StatusServiceUnavailable, response.Error("allowance could not be charged right now"))
		return
	}

	res := Result{
		Allowed:      d.Allowed,
		Reason:       d.Reason,
		Mode:         h.service.Mode(),
		Unlimited:    d.Unlimited,
		LowAllowance: d.LowAllowance,
	}
	if !d.Unlimited {
		rem := d.Remaining
		res.Remaining = &rem
	}
	if !d.Allowed {
		response.JSON(w, r, http.StatusPaymentRequired, response.ErrorWithData("allowance exhausted", res))
		return
	}
	response.JSON(w, r, http.StatusOK, response.OKWithData(res))
}

// Package gate решает, может ли пользователь выполнить действие в модуле:
// сначала проверка статуса, затем списание ресурса для расходуемых модулей.
package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/modules"
	"github.com/bussulac/access-gateway/internal/services/entitlement"
	"github.com/bussulac/access-gateway/internal/services/ledger"
	"github.com/bussulac/access-gateway/internal/storage"
)

// Reason причина вердикта.
type Reason string

const (
	ReasonGranted            Reason = "granted"
	ReasonUpgradeRequired    Reason = "upgrade_required"
	ReasonAllowanceExhausted Reason = "allowance_exhausted"
	ReasonInsufficientTokens Reason = "insufficient_tokens"
	ReasonUnavailable        Reason = "unavailable"
)

// Тексты для пользователя.
const (
	MessageGranted      = "access granted"
	MessageUpgrade      = "this module requires an active subscription, please upgrade your plan"
	MessageExhausted    = "you have used all free sessions, upgrade to continue"
	MessageInsufficient = "not enough tokens for this module, top up your balance to continue"
	MessageUnavailable  = "access could not be verified right now, please try again later"
	WarningLowSessions  = "only one free session left"
	WarningNoSessions   = "that was your last free session"
	WarningLowTokens    = "token balance is too low for another run of this module"
)

// Verdict итог проверки. Gate всегда возвращает вердикт и никогда ошибку.
type Verdict struct {
	Allowed   bool                `json:"allowed"`
	Reason    Reason              `json:"reason"`
	Message   string              `json:"message"`
	Status    models.AccessStatus `json:"status,omitempty"`
	Remaining *int64              `json:"remaining,omitempty"`
	Warning   string              `json:"warning,omitempty"`
}

// Resolver вычисляет статус доступа.
type Resolver interface {
	Resolve(ctx context.Context, userUID string) (*entitlement.Resolution, error)
}

// Charger списывает ресурс по статусу.
type Charger interface {
	Charge(ctx context.Context, res *entitlement.Resolution, cost int64) (ledger.Decision, error)
}

type Gate struct {
	log      *slog.Logger
	resolver Resolver
	charger  Charger
	metrics  *metrics.Metrics
}

func New(log *slog.Logger, resolver Resolver, charger Charger, m *metrics.Metrics) *Gate {
	if m == nil {
		m = metrics.Noop()
	}
	return &Gate{log: log, resolver: resolver, charger: charger, metrics: m}
}

// Authorize проверяет доступ к модулю и при необходимости списывает ресурс.
// Отказ по политике не вызывает списания.
func (g *Gate) Authorize(ctx context.Context, userUID string, m modules.Module) Verdict {
	v := g.authorize(ctx, userUID, m)
	g.metrics.GateDecisions.WithLabelValues(string(m.Kind), string(v.Reason)).Inc()
	return v
}

func (g *Gate) authorize(ctx context.Context, userUID string, m modules.Module) Verdict {
	const op = "gate.Authorize"
	log := g.log.With(slog.String("op", op), sl.User(userUID), slog.String("module", string(m.Kind)))

	res, err := g.resolver.Resolve(ctx, userUID)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			log.Error("access check failed, denying", sl.Err(err))
		}
		return unavailable()
	}

	if !entitlement.CanAccess(res, m.RequiresPaid) {
		return Verdict{Reason: ReasonUpgradeRequired, Message: MessageUpgrade, Status: res.Status}
	}
	if !m.Consumable {
		return Verdict{Allowed: true, Reason: ReasonGranted, Message: MessageGranted, Status: res.Status}
	}

	d, err := g.charger.Charge(ctx, res, m.Cost)
	if err != nil {
		log.Error("allowance charge failed, denying", sl.Err(err))
		return unavailable()
	}

	v := Verdict{Status: res.Status}
	if !d.Unlimited {
		rem := d.Remaining
		v.Remaining = &rem
	}
	if !d.Allowed {
		switch d.Reason {
		case ledger.ReasonInsufficientTokens:
			v.Reason, v.Message = ReasonInsufficientTokens, MessageInsufficient
		case ledger.ReasonExpired:
			v.Reason, v.Message = ReasonUpgradeRequired, MessageUpgrade
		default:
			v.Reason, v.Message = ReasonAllowanceExhausted, MessageExhausted
		}
		return v
	}

	v.Allowed, v.Reason, v.Message = true, ReasonGranted, MessageGranted
	if d.LowAllowance {
		v.Warning = lowAllowanceWarning(d)
	}
	return v
}

func lowAllowanceWarning(d ledger.Decision) string {
	switch {
	case d.Reason == ledger.ReasonTokensDeducted:
		return WarningLowTokens
	case d.Remaining == 0:
		return WarningNoSessions
	default:
		return WarningLowSessions
	}
}

func unavailable() Verdict {
	return Verdict{Reason: ReasonUnavailable, Message: MessageUnavailable}
}

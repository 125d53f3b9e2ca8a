// Package ledger списывает расходуемый ресурс: бесплатные сессии или
// токены. Проверка остатка и списание выполняются одним условным
// обновлением в хранилище.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/services/entitlement"
)

// ErrInvalidCost отрицательная стоимость действия.
var ErrInvalidCost = errors.New("cost must not be negative")

// Mode вид расходуемого ресурса, единый для всех модулей.
type Mode string

const (
	ModeSessions Mode = "sessions"
	ModeTokens   Mode = "tokens"
)

// Reason причина решения.
type Reason string

const (
	ReasonAdmin              Reason = "admin"
	ReasonPremium            Reason = "premium"
	ReasonFree               Reason = "no_cost"
	ReasonSessionConsumed    Reason = "session_consumed"
	ReasonTokensDeducted     Reason = "tokens_deducted"
	ReasonSessionsExhausted  Reason = "sessions_exhausted"
	ReasonInsufficientTokens Reason = "insufficient_tokens"
	ReasonExpired            Reason = "expired"
)

// Decision итог списания. Remaining хранит остаток сессий или токенов
// в зависимости от режима и не имеет смысла при Unlimited.
type Decision struct {
	Allowed      bool
	Reason       Reason
	Remaining    int64
	Unlimited    bool
	LowAllowance bool
}

// Store атомарные операции над счётчиками.
type Store interface {
	IncrementFreeSessions(ctx context.Context, userUID string) (*models.SessionUsage, bool, error)
	DeductTokens(ctx context.Context, userUID string, cost int64) (*models.TokenBalance, bool, error)
}

// Resolver источник текущего статуса доступа.
type Resolver interface {
	Resolve(ctx context.Context, userUID string) (*entitlement.Resolution, error)
	Invalidate(ctx context.Context, userUID string)
}

// Auditor журнал событий безопасности.
type Auditor interface {
	Record(ctx context.Context, eventType, userUID string, data map[string]any)
}

type Ledger struct {
	log      *slog.Logger
	store    Store
	resolver Resolver
	auditor  Auditor
	mode     Mode
	timeout  time.Duration
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, string, map[string]any) {}

// New собирает Ledger. Каждое обращение к счётчикам ограничено timeout,
// истечение считается отказом хранилища.
func New(log *slog.Logger, store Store, resolver Resolver, auditor Auditor, mode Mode, timeout time.Duration) *Ledger {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &Ledger{log: log, store: store, resolver: resolver, auditor: auditor, mode: mode, timeout: timeout}
}

func (l *Ledger) Mode() Mode {
	return l.mode
}

// ConsumeSession списывает одну бесплатную сессию пользователя.
func (l *Ledger) ConsumeSession(ctx context.Context, userUID string) (Decision, error) {
	const op = "ledger.ConsumeSession"
	res, err := l.resolver.Resolve(ctx, userUID)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	return l.consumeSession(ctx, res)
}

// DeductTokens списывает cost токенов пользователя.
func (l *Ledger) DeductTokens(ctx context.Context, userUID string, cost int64) (Decision, error) {
	const op = "ledger.DeductTokens"
	if cost < 0 {
		return Decision{}, fmt.Errorf("%s: %w", op, ErrInvalidCost)
	}
	res, err := l.resolver.Resolve(ctx, userUID)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	return l.deductTokens(ctx, res, cost)
}

// Consume списывает ресурс в настроенном режиме. cost учитывается только
// в режиме tokens.
func (l *Ledger) Consume(ctx context.Context, userUID string, cost int64) (Decision, error) {
	const op = "ledger.Consume"
	if cost < 0 {
		return Decision{}, fmt.Errorf("%s: %w", op, ErrInvalidCost)
	}
	res, err := l.resolver.Resolve(ctx, userUID)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	return l.Charge(ctx, res, cost)
}

// Charge списывает ресурс по уже полученному разрешению статуса.
func (l *Ledger) Charge(ctx context.Context, res *entitlement.Resolution, cost int64) (Decision, error) {
	const op = "ledger.Charge"
	if cost < 0 {
		return Decision{}, fmt.Errorf("%s: %w", op, ErrInvalidCost)
	}
	if l.mode == ModeTokens {
		if !res.Entitlement.IsAdmin && res.Status == models.StatusExpired {
			return Decision{Reason: ReasonExpired}, nil
		}
		return l.deductTokens(ctx, res, cost)
	}
	return l.consumeSession(ctx, res)
}

func (l *Ledger) consumeSession(ctx context.Context, res *entitlement.Resolution) (Decision, error) {
	const op = "ledger.consumeSession"
	uid := res.Entitlement.UserUID

	switch {
	case res.Entitlement.IsAdmin || res.Status.Premium():
		reason := ReasonPremium
		if res.Entitlement.IsAdmin {
			reason = ReasonAdmin
		}
		l.auditor.Record(ctx, models.EventSessionAccess, uid, map[string]any{
			"status": string(res.Status),
		})
		return Decision{Allowed: true, Reason: reason, Unlimited: true}, nil

	case res.Status == models.StatusFree:
		sctx, cancel := l.withTimeout(ctx)
		usage, ok, err := l.store.IncrementFreeSessions(sctx, uid)
		cancel()
		if err != nil {
			l.log.Error("failed to consume free session", slog.String("op", op), sl.User(uid), sl.Err(err))
			return Decision{}, fmt.Errorf("%s: %w: %w", op, entitlement.ErrStorageUnavailable, err)
		}
		if !ok {
			return Decision{Reason: ReasonSessionsExhausted}, nil
		}
		l.invalidate(ctx, uid)
		remaining := usage.Limit - usage.Used
		l.auditor.Record(ctx, models.EventFreeSessionUsed, uid, map[string]any{
			"remaining": remaining,
		})
		return Decision{
			Allowed:      true,
			Reason:       ReasonSessionConsumed,
			Remaining:    int64(remaining),
			LowAllowance: remaining <= 1,
		}, nil

	default:
		return Decision{Reason: ReasonExpired}, nil
	}
}

func (l *Ledger) deductTokens(ctx context.Context, res *entitlement.Resolution, cost int64) (Decision, error) {
	const op = "ledger.deductTokens"
	uid := res.Entitlement.UserUID

	if res.Entitlement.IsAdmin {
		return Decision{Allowed: true, Reason: ReasonAdmin, Unlimited: true}, nil
	}
	if cost == 0 {
		return Decision{Allowed: true, Reason: ReasonFree, Remaining: res.Entitlement.TokenBalance}, nil
	}

	sctx, cancel := l.withTimeout(ctx)
	balance, ok, err := l.store.DeductTokens(sctx, uid, cost)
	cancel()
	if err != nil {
		l.log.Error("failed to deduct tokens", slog.String("op", op), sl.User(uid), sl.Err(err))
		return Decision{}, fmt.Errorf("%s: %w: %w", op, entitlement.ErrStorageUnavailable, err)
	}
	if !ok {
		return Decision{Reason: ReasonInsufficientTokens, Remaining: res.Entitlement.TokenBalance}, nil
	}
	l.invalidate(ctx, uid)
	l.auditor.Record(ctx, models.EventTokenDeducted, uid, map[string]any{
		"cost":    cost,
		"balance": balance.Balance,
	})
	return Decision{
		Allowed:      true,
		Reason:       ReasonTokensDeducted,
		Remaining:    balance.Balance,
		LowAllowance: balance.Balance < cost,
	}, nil
}

func (l *Ledger) invalidate(ctx context.Context, userUID string) {
	if l.resolver != nil {
		l.resolver.Invalidate(ctx, userUID)
	}
}

func (l *Ledger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

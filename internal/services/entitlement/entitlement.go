// Package entitlement вычисляет уровень доступа пользователя по его
// профилю и текущему времени.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bussulac/access-gateway/internal/cache"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/storage"
)

// ErrStorageUnavailable хранилище профилей недоступно или не ответило
// вовремя. Вызывающий код обязан отказать в доступе.
var ErrStorageUnavailable = errors.New("entitlement storage unavailable")

// Store хранилище профилей доступа.
type Store interface {
	GetEntitlement(ctx context.Context, userUID string) (*models.Entitlement, error)
	MarkTrialExpired(ctx context.Context, userUID string) (bool, error)
}

// Cache короткоживущий кэш профилей.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Auditor журнал событий безопасности.
type Auditor interface {
	Record(ctx context.Context, eventType, userUID string, data map[string]any)
}

// Resolution результат одной проверки доступа.
type Resolution struct {
	Entitlement models.Entitlement
	Status      models.AccessStatus
	ResolvedAt  time.Time
}

// Evaluate применяет правила по порядку, первое совпавшее побеждает.
// Второй результат true, если истечение пробного периода нужно записать
// в профиль.
func Evaluate(e *models.Entitlement, now time.Time) (models.AccessStatus, bool) {
	switch {
	case e.IsAdmin:
		return models.StatusActive, false
	case e.SubscriptionStatus == models.SubscriptionActive:
		return models.StatusActive, false
	case e.SubscriptionStatus == models.SubscriptionTrial && e.TrialEndDate != nil && e.TrialEndDate.After(now):
		return models.StatusTrial, false
	case e.TrialEndDate != nil && e.TrialEndDate.Before(now):
		return models.StatusExpired, e.SubscriptionStatus != models.SubscriptionExpired
	case e.FreeSessionsUsed < e.FreeSessionsLimit:
		return models.StatusFree, false
	default:
		return models.StatusExpired, false
	}
}

// CanAccess решает, можно ли выполнить действие. Действия без платного
// доступа разрешены всегда.
func CanAccess(res *Resolution, requiresPaid bool) bool {
	if res == nil {
		return false
	}
	if res.Entitlement.IsAdmin || !requiresPaid {
		return true
	}
	switch res.Status {
	case models.StatusActive, models.StatusTrial, models.StatusFree:
		return true
	default:
		return false
	}
}

type Resolver struct {
	log      *slog.Logger
	store    Store
	cache    Cache
	cacheTTL time.Duration
	clock    clockwork.Clock
	auditor  Auditor
	timeout  time.Duration
}

// Option настройка Resolver.
type Option func(*Resolver)

// WithCache включает кэш профилей на ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		if c != nil && ttl > 0 {
			r.cache = c
			r.cacheTTL = ttl
		}
	}
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, string, map[string]any) {}

// New собирает Resolver. Каждый вызов хранилища ограничен timeout.
func New(log *slog.Logger, store Store, clock clockwork.Clock, auditor Auditor, timeout time.Duration, opts ...Option) *Resolver {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	r := &Resolver{
		log:     log,
		store:   store,
		clock:   clock,
		auditor: auditor,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve читает профиль и вычисляет статус. При первом обнаружении
// истёкшего пробного периода записывает expired в профиль. Каждое
// разрешение попадает в журнал событием access_check.
func (r *Resolver) Resolve(ctx context.Context, userUID string) (*Resolution, error) {
	const op = "entitlement.Resolve"
	log := r.log.With(slog.String("op", op), sl.User(userUID))

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	e, err := r.load(ctx, log, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := r.clock.Now()
	status, writeBack := Evaluate(e, now)
	if writeBack {
		r.expire(ctx, log, e)
	}

	r.auditor.Record(ctx, models.EventAccessCheck, userUID, map[string]any{
		"status":   string(status),
		"is_admin": e.IsAdmin,
	})

	return &Resolution{Entitlement: *e, Status: status, ResolvedAt: now}, nil
}

// CheckAccess возвращает только вычисленный статус.
func (r *Resolver) CheckAccess(ctx context.Context, userUID string) (models.AccessStatus, error) {
	res, err := r.Resolve(ctx, userUID)
	if err != nil {
		return models.StatusExpired, err
	}
	return res.Status, nil
}

// Invalidate удаляет профиль из кэша после изменения счётчиков.
func (r *Resolver) Invalidate(ctx context.Context, userUID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, cache.EntitlementKey(userUID)); err != nil {
		r.log.Warn("failed to invalidate entitlement cache",
			slog.String("op", "entitlement.Invalidate"), sl.User(userUID), sl.Err(err))
	}
}

func (r *Resolver) load(ctx context.Context, log *slog.Logger, userUID string) (*models.Entitlement, error) {
	key := cache.EntitlementKey(userUID)
	if r.cache != nil {
		var cached models.Entitlement
		found, err := r.cache.Get(ctx, key, &cached)
		if err != nil {
			log.Warn("entitlement cache read failed", sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	e, err := r.store.GetEntitlement(ctx, userUID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}
	if err != nil {
		log.Error("failed to read entitlement", sl.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, e, r.cacheTTL); err != nil {
			log.Warn("entitlement cache write failed", sl.Err(err))
		}
	}
	return e, nil
}

// expire записывает истечение пробного периода. Ошибка записи не меняет
// результат: статус уже Expired, повтор случится при следующей проверке.
func (r *Resolver) expire(ctx context.Context, log *slog.Logger, e *models.Entitlement) {
	changed, err := r.store.MarkTrialExpired(ctx, e.UserUID)
	if err != nil {
		log.Error("failed to persist trial expiry", sl.Err(err))
		return
	}
	e.SubscriptionStatus = models.SubscriptionExpired
	r.Invalidate(ctx, e.UserUID)
	if changed {
		r.auditor.Record(ctx, models.EventTrialExpired, e.UserUID, map[string]any{
			"source": "resolver",
		})
	}
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

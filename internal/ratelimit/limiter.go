// Package ratelimit реализует ограничитель со скользящим окном по
// произвольному строковому ключу.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/models"
)

// ErrInvalidLimit неположительные maxRequests или window.
var ErrInvalidLimit = errors.New("rate limit parameters must be positive")

// Store хранит последовательности отметок времени по ключам. Hit удаляет
// отметки старше now-window, отказывает при count >= max и иначе добавляет now.
// Возвращает решение и количество отметок в окне после операции.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, int, error)
}

// Auditor журнал событий безопасности.
type Auditor interface {
	Record(ctx context.Context, eventType, userUID string, data map[string]any)
}

type Limiter struct {
	log     *slog.Logger
	store   Store
	clock   clockwork.Clock
	auditor Auditor
}

func New(log *slog.Logger, store Store, clock clockwork.Clock, auditor Auditor) *Limiter {
	return &Limiter{log: log, store: store, clock: clock, auditor: auditor}
}

// Key собирает ключ вида "<action>_<identifier>".
func Key(action, identifier string) string {
	return action + "_" + identifier
}

// Allow регистрирует попытку по ключу key. Ошибка хранилища означает отказ.
func (l *Limiter) Allow(ctx context.Context, key string, maxRequests int, window time.Duration) (bool, error) {
	return l.AllowFor(ctx, key, "", maxRequests, window)
}

// AllowFor то же, что Allow, но привязывает событие отказа к пользователю.
func (l *Limiter) AllowFor(ctx context.Context, key, userUID string, maxRequests int, window time.Duration) (bool, error) {
	const op = "ratelimit.Allow"
	if maxRequests <= 0 || window <= 0 {
		return false, fmt.Errorf("%s: %w", op, ErrInvalidLimit)
	}

	allowed, count, err := l.store.Hit(ctx, key, l.clock.Now(), window, maxRequests)
	if err != nil {
		l.log.Error("rate limit store failed, denying",
			slog.String("op", op), slog.String("key", key), sl.Err(err))
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !allowed {
		l.log.Info("rate limit exceeded",
			slog.String("op", op), slog.String("key", key), slog.Int("count", count))
		if l.auditor != nil {
			l.auditor.Record(ctx, models.EventRateLimitExceeded, userUID, map[string]any{
				"key":          key,
				"max_requests": maxRequests,
				"window_ms":    window.Milliseconds(),
			})
		}
	}
	return allowed, nil
}

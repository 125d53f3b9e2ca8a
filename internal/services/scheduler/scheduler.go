// Package scheduler периодически переводит истёкшие пробные периоды в expired
// и рассылает уведомления через брокер.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bussulac/access-gateway/internal/cache"
	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/lib/rabbitmq"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/models"
)

type Repository interface {
	ExpireLapsedTrials(ctx context.Context, now time.Time) ([]models.TrialNotice, error)
	FindTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]models.TrialNotice, error)
}

type Publisher interface {
	Publish(routingKey string, message any) error
}

type Auditor interface {
	Record(ctx context.Context, eventType, userUID string, data map[string]any)
}

// Invalidator сбрасывает закэшированный профиль доступа.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

type Service struct {
	log       *slog.Logger
	repo      Repository
	publisher Publisher
	auditor   Auditor
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	cache     Invalidator
	interval  time.Duration
	headsUp   time.Duration
}

type Option func(*Service)

// WithCache сбрасывает кэш профиля каждого пользователя, чей пробный период истёк.
func WithCache(c Invalidator) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func New(log *slog.Logger, repo Repository, publisher Publisher, auditor Auditor, clock clockwork.Clock,
	m *metrics.Metrics, cfg config.Scheduler, opts ...Option) *Service {
	if m == nil {
		m = metrics.Noop()
	}
	s := &Service{
		log:       log,
		repo:      repo,
		publisher: publisher,
		auditor:   auditor,
		clock:     clock,
		metrics:   m,
		interval:  cfg.Interval,
		headsUp:   cfg.HeadsUpWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExpireLapsedTrials переводит истёкшие пробные периоды в expired одним
// условным UPDATE и публикует уведомление по каждому затронутому пользователю.
func (s *Service) ExpireLapsedTrials(ctx context.Context) (int, error) {
	const op = "scheduler.ExpireLapsedTrials"
	log := s.log.With(slog.String("op", op))

	notices, err := s.repo.ExpireLapsedTrials(ctx, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(notices) == 0 {
		log.Debug("no lapsed trials found")
		return 0, nil
	}
	log.Info("trials expired", slog.Int("count", len(notices)))

	for _, n := range notices {
		s.metrics.TrialsExpired.Inc()
		if s.auditor != nil {
			s.auditor.Record(ctx, models.EventTrialExpired, n.UserUID, map[string]any{
				"trial_end_date": n.TrialEndDate,
				"source":         "scheduler",
			})
		}
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, cache.EntitlementKey(n.UserUID)); err != nil {
				log.Warn("failed to invalidate cached entitlement", sl.User(n.UserUID), sl.Err(err))
			}
		}
		s.publish(log, rabbitmq.RoutingTrialExpired, n)
	}
	return len(notices), nil
}

// NotifyTrialsEnding публикует предупреждения для пробных периодов, которые
// закончатся в окне [now+headsUp, now+headsUp+interval). Соседние запуски
// покрывают соседние окна, поэтому каждый пользователь получает одно письмо.
func (s *Service) NotifyTrialsEnding(ctx context.Context) (int, error) {
	const op = "scheduler.NotifyTrialsEnding"
	log := s.log.With(slog.String("op", op))

	from := s.clock.Now().UTC().Add(s.headsUp)
	notices, err := s.repo.FindTrialsEndingBetween(ctx, from, from.Add(s.interval))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	for _, n := range notices {
		s.publish(log, rabbitmq.RoutingTrialEnding, n)
	}
	if len(notices) > 0 {
		log.Info("trial ending notices sent", slog.Int("count", len(notices)))
	}
	return len(notices), nil
}

// RunOnce выполняет оба прохода. Ошибки только логируются.
func (s *Service) RunOnce(ctx context.Context) {
	if _, err := s.ExpireLapsedTrials(ctx); err != nil {
		s.log.Error("failed to expire lapsed trials", sl.Err(err))
	}
	if _, err := s.NotifyTrialsEnding(ctx); err != nil {
		s.log.Error("failed to notify ending trials", sl.Err(err))
	}
}

// Run выполняет проход сразу и затем каждые interval, пока не отменён ctx.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("scheduler started", slog.Duration("interval", s.interval))
	s.RunOnce(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.Chan():
			s.RunOnce(ctx)
		}
	}
}

func (s *Service) publish(log *slog.Logger, routingKey string, n models.TrialNotice) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(routingKey, n); err != nil {
		log.Error("failed to publish notice", slog.String("routing_key", routingKey), sl.User(n.UserUID), sl.Err(err))
	}
}

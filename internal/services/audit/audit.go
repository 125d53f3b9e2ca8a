// Package audit пишет журнал событий безопасности. Журнал только
// пополняется, читают его внешние инструменты администратора.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bussulac/access-gateway/internal/lib/rabbitmq"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/models"
)

// Sink приёмник событий безопасности.
type Sink interface {
	Record(ctx context.Context, ev models.SecurityEvent) error
}

// EventRepository хранилище событий.
type EventRepository interface {
	SaveSecurityEvent(ctx context.Context, ev models.SecurityEvent) error
}

// StorageSink сохраняет события в таблицу security_events.
type StorageSink struct {
	repo EventRepository
}

func NewStorageSink(repo EventRepository) *StorageSink {
	return &StorageSink{repo: repo}
}

func (s *StorageSink) Record(ctx context.Context, ev models.SecurityEvent) error {
	const op = "audit.StorageSink.Record"
	if err := s.repo.SaveSecurityEvent(ctx, ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Publisher публикует сообщение с ключом маршрутизации.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// BrokerSink отправляет события в обменник security.
type BrokerSink struct {
	pub Publisher
}

func NewBrokerSink(pub Publisher) *BrokerSink {
	return &BrokerSink{pub: pub}
}

func (s *BrokerSink) Record(_ context.Context, ev models.SecurityEvent) error {
	const op = "audit.BrokerSink.Record"
	if err := s.pub.Publish(rabbitmq.RoutingSecurityEvent, ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MultiSink передаёт событие во все приёмники, даже если часть из них
// вернула ошибку.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, ev models.SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultTimeout предел одной записи, если таймаут не задан.
const DefaultTimeout = 2 * time.Second

// Recorder проставляет время события и пишет его в приёмник. Ошибки
// приёмника логируются и не меняют принятых решений о доступе. Запись
// ограничена timeout: зависший приёмник не задерживает действие дольше.
type Recorder struct {
	log     *slog.Logger
	sink    Sink
	clock   clockwork.Clock
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewRecorder(log *slog.Logger, sink Sink, clock clockwork.Clock, m *metrics.Metrics, timeout time.Duration) *Recorder {
	if m == nil {
		m = metrics.Noop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Recorder{log: log, sink: sink, clock: clock, metrics: m, timeout: timeout}
}

// Record записывает событие eventType. userUID может быть пустым.
func (r *Recorder) Record(ctx context.Context, eventType, userUID string, data map[string]any) {
	const op = "audit.Record"
	if r == nil || r.sink == nil {
		return
	}
	ev := models.SecurityEvent{
		EventType: eventType,
		EventData: data,
		UserUID:   userUID,
		CreatedAt: r.clock.Now().UTC(),
	}

	// Событие пишется даже после отмены запроса: решение уже принято.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	// Публикация в amqp не принимает контекст, поэтому ожидание
	// ограничивается здесь, а не только внутри приёмника.
	done := make(chan error, 1)
	go func() { done <- r.sink.Record(wctx, ev) }()

	var err error
	select {
	case err = <-done:
	case <-wctx.Done():
		err = fmt.Errorf("%s: %w", op, wctx.Err())
	}
	if err != nil {
		r.metrics.AuditFailures.Inc()
		r.log.Error("failed to record security event",
			slog.String("op", op),
			slog.String("event_type", eventType),
			sl.User(userUID),
			sl.Err(err),
		)
	}
}

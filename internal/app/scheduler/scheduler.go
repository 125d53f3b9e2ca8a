// Package scheduler собирает фоновый процесс, который переводит истёкшие
// пробные периоды в expired и публикует уведомления.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/bussulac/access-gateway/internal/cache"
	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/lib/rabbitmq"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/services/audit"
	schedulerservice "github.com/bussulac/access-gateway/internal/services/scheduler"
	"github.com/bussulac/access-gateway/internal/storage/repository"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.Service
	db               *repository.Storage
	redis            *cache.Cache
	conn             *amqp.Connection
	ch               *amqp.Channel
	logger           *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range dbReadyAttempts {
		if err = db.CheckDatabaseReady(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.db = db
	if err := waitForDB(ctx, db); err != nil {
		a.closeResources()
		return nil, err
	}

	var publisher schedulerservice.Publisher
	if cfg.RabbitMQURL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		a.conn = conn
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.ExchangeNotifications, rabbitmq.GetNotificationQueues())
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		a.ch = ch
		publisher = rabbitmq.NewPublisher(ch, rabbitmq.ExchangeNotifications)
	} else {
		logger.Warn("rabbitmq url not set, trial notifications disabled")
	}

	var opts []schedulerservice.Option
	if cfg.AddressRedis != "" {
		redisCache, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		a.redis = redisCache
		opts = append(opts, schedulerservice.WithCache(redisCache))
	}

	clock := clockwork.NewRealClock()
	m := metrics.New(prometheus.DefaultRegisterer)
	auditor := audit.NewRecorder(logger, audit.NewStorageSink(db), clock, m, cfg.AuditTimeout)

	a.schedulerService = schedulerservice.New(logger, db, publisher, auditor, clock, m, cfg.Scheduler, opts...)
	return a, nil
}

func (a *App) closeResources() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.schedulerService.Run(ctx)

	a.logger.Info("shutting down scheduler service")
	a.closeResources()
	return nil
}

// Package gateway собирает HTTP-шлюз доступа: хранилище, кэш, журнал
// безопасности, сервисы и маршруты.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/bussulac/access-gateway/internal/cache"
	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/http/handlers/health"
	"github.com/bussulac/access-gateway/internal/lib/jwt"
	"github.com/bussulac/access-gateway/internal/lib/rabbitmq"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/migrations"
	"github.com/bussulac/access-gateway/internal/ratelimit"
	"github.com/bussulac/access-gateway/internal/services/audit"
	"github.com/bussulac/access-gateway/internal/services/auth"
	"github.com/bussulac/access-gateway/internal/services/entitlement"
	"github.com/bussulac/access-gateway/internal/services/gate"
	"github.com/bussulac/access-gateway/internal/services/ledger"
	"github.com/bussulac/access-gateway/internal/storage/memory"
	"github.com/bussulac/access-gateway/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// Store всё, что шлюзу нужно от хранилища. Реализуется repository.Storage
// и memory.Storage.
type Store interface {
	entitlement.Store
	ledger.Store
	auth.UserRepository
	audit.EventRepository
	CheckDatabaseReady(ctx context.Context) error
}

// Services собранные зависимости маршрутов.
type Services struct {
	Auth     *auth.Service
	Resolver *entitlement.Resolver
	Ledger   *ledger.Ledger
	Gate     *gate.Gate
	Limiter  *ratelimit.Limiter
	Auditor  *audit.Recorder
	Tokens   *jwt.Maker
	Metrics  *metrics.Metrics
	Checks   map[string]health.Check
}

type App struct {
	server  *http.Server
	logger  *slog.Logger
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	clock := clockwork.NewRealClock()
	checks := make(map[string]health.Check)

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	checks["storage"] = store.CheckDatabaseReady

	var redisCache *cache.Cache
	if cfg.AddressRedis != "" {
		redisCache, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		a.closers = append(a.closers, redisCache.Close)
		checks["cache"] = redisCache.Ping
	} else {
		logger.Warn("redis address not set, entitlement cache disabled and rate limits kept in memory")
	}

	sink := audit.MultiSink{audit.NewStorageSink(store)}
	if cfg.RabbitMQURL != "" {
		ch, err := a.openSecurityChannel(cfg)
		if err != nil {
			a.close()
			return nil, err
		}
		sink = append(sink, audit.NewBrokerSink(rabbitmq.NewPublisher(ch, rabbitmq.ExchangeSecurity)))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := buildServices(logger, cfg, store, redisCache, sink, clock, m)
	svc.Checks = checks

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, svc)

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// buildServices связывает сервисы поверх готовых хранилищ. redisCache может
// быть nil.
func buildServices(logger *slog.Logger, cfg *config.Config, store Store, redisCache *cache.Cache,
	sink audit.Sink, clock clockwork.Clock, m *metrics.Metrics) *Services {
	auditor := audit.NewRecorder(logger, sink, clock, m, cfg.AuditTimeout)

	var opts []entitlement.Option
	var rlStore ratelimit.Store = ratelimit.NewMemoryStore()
	if redisCache != nil {
		opts = append(opts, entitlement.WithCache(redisCache, cfg.CacheTTL))
		rlStore = ratelimit.NewRedisStore(redisCache.Db, "rl:")
	}

	resolver := entitlement.New(logger, store, clock, auditor, cfg.CheckTimeout, opts...)
	ldg := ledger.New(logger, store, resolver, auditor, ledger.Mode(cfg.LedgerMode), cfg.CheckTimeout)
	tokens := jwt.NewMaker(cfg.JWTSecretKey, cfg.TokenTTL, clock)

	return &Services{
		Auth:     auth.New(logger, store, tokens, cfg.Access),
		Resolver: resolver,
		Ledger:   ldg,
		Gate:     gate.New(logger, resolver, ldg, m),
		Limiter:  ratelimit.New(logger, rlStore, clock, auditor),
		Auditor:  auditor,
		Tokens:   tokens,
		Metrics:  m,
	}
}

// openStore подключается к PostgreSQL и применяет миграции. Без строки
// подключения используется хранилище в памяти.
func (a *App) openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.StorageConnectionString == "" {
		a.logger.Warn("storage connection string not set, using in-memory storage")
		return memory.New(), nil
	}

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := db.CheckDatabaseReady(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (a *App) openSecurityChannel(cfg *config.Config) (*amqp.Channel, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, conn.Close)

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.ExchangeSecurity, rabbitmq.GetSecurityQueues())
	if err != nil {
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.closers = append(a.closers, ch.Close)
	return ch, nil
}

// close освобождает ресурсы в обратном порядке открытия.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}

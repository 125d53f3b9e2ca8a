// Package sender собирает потребителя уведомлений о пробном периоде,
// который рассылает письма через SMTP.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/lib/rabbitmq"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/lib/smtp"
	senderservice "github.com/bussulac/access-gateway/internal/services/sender"
)

const (
	queueTrialExpired = "notifications.trial_expired"
	queueTrialEnding  = "notifications.trial_ending"
)

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.Service
	logger        *slog.Logger
}

// Queues очереди, которые слушает рассыльщик.
var Queues = []string{queueTrialExpired, queueTrialEnding}

// checkConfig проверяет, что рассыльщику есть откуда читать и куда писать.
func checkConfig(cfg *config.Config) error {
	if cfg.SMTPHost == "" {
		return fmt.Errorf("smtp host is not set")
	}
	if cfg.RabbitMQURL == "" {
		return fmt.Errorf("rabbitmq url is not set, trial notifications have no source")
	}
	return nil
}

func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.ExchangeNotifications, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderservice.New(logger, transport),
		logger:        logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, queueTrialExpired, a.senderService.HandleTrialExpired)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", queueTrialExpired), sl.Err(err))
		return err
	}

	err = rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, queueTrialEnding, a.senderService.HandleTrialEnding)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", queueTrialEnding), sl.Err(err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("trial mailer draining consumers")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}

	return nil
}

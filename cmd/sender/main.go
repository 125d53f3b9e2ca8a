package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bussulac/access-gateway/internal/app/sender"
	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/lib/sl"
)

// Рассыльщик писем о пробном периоде: читает уведомления планировщика
// из RabbitMQ и отправляет их через SMTP.
func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger = logger.With(slog.String("component", "trial-mailer"))

	logger.Info("starting trial mailer",
		slog.String("env", cfg.Env),
		slog.String("smtp_host", cfg.SMTPHost),
		slog.String("smtp_port", cfg.SMTPPort),
		slog.Any("queues", sender.Queues),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := sender.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("trial mailer cannot start", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("trial mailer lost its consumers", sl.Err(err))
		os.Exit(1)
	}
	logger.Info("trial mailer stopped gracefully")
}

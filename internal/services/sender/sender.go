// Package sender превращает уведомления о пробных периодах из брокера в письма.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/lib/smtp"
	"github.com/bussulac/access-gateway/internal/models"
)

const sendTimeout = 30 * time.Second

type Transport interface {
	Connect(ctx context.Context) (smtp.Client, error)
	From() string
}

type Service struct {
	log       *slog.Logger
	transport Transport
}

func New(log *slog.Logger, transport Transport) *Service {
	return &Service{log: log, transport: transport}
}

// HandleTrialExpired обрабатывает сообщение из notifications.trial_expired.
func (s *Service) HandleTrialExpired(body []byte) error {
	return s.handle(body, "Your BussulaC trial has ended", func(n models.TrialNotice) string {
		return fmt.Sprintf("Hello, %s!\r\n\r\n"+
			"Your free trial ended on %s. Premium modules are now locked,\r\n"+
			"but the career assessment stays available.\r\n\r\n"+
			"Subscribe to continue practising interviews, resume analysis and case studies.",
			n.Username, n.TrialEndDate.UTC().Format("2 January 2006"))
	})
}

// HandleTrialEnding обрабатывает сообщение из notifications.trial_ending.
func (s *Service) HandleTrialEnding(body []byte) error {
	return s.handle(body, "Your BussulaC trial ends soon", func(n models.TrialNotice) string {
		return fmt.Sprintf("Hello, %s!\r\n\r\n"+
			"Your free trial ends on %s UTC.\r\n"+
			"Subscribe before then to keep access to every module.",
			n.Username, n.TrialEndDate.UTC().Format("2 January 2006 15:04"))
	})
}

// handle разбирает уведомление и отправляет письмо. Нечитаемое сообщение
// подтверждается с записью в лог: повторная доставка его не исправит.
func (s *Service) handle(body []byte, subject string, render func(models.TrialNotice) string) error {
	const op = "sender.handle"
	log := s.log.With(slog.String("op", op))

	var n models.TrialNotice
	if err := json.Unmarshal(body, &n); err != nil {
		log.Error("dropping malformed notice", sl.Err(err))
		return nil
	}
	addr, err := mail.ParseAddress(n.Email)
	if err != nil {
		log.Error("dropping notice with invalid recipient", sl.User(n.UserUID), sl.Err(err))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.send(ctx, addr.Address, subject, render(n)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("email sent", sl.User(n.UserUID))
	return nil
}

func (s *Service) send(ctx context.Context, to, subject, text string) error {
	from := s.transport.From()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		text,
	}, "\r\n")

	client, err := s.transport.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

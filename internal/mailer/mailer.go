package mailer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/models"
)

// Sender delivers a plaintext one-time code out of band. The auth core
// hands the code over exactly once and never transmits it itself.
type Sender interface {
	SendCode(ctx context.Context, recipient, channel, code string, expiresAt time.Time) error
}

// SMTPSender delivers email codes over SMTP
type SMTPSender struct {
	cfg *config.SMTPConfig
}

// NewSMTPSender creates an SMTP-backed sender
func NewSMTPSender(cfg *config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// SendCode sends the login code to an email recipient
func (s *SMTPSender) SendCode(ctx context.Context, recipient, channel, code string, expiresAt time.Time) error {
	if channel != models.ChannelEmail {
		return fmt.Errorf("smtp sender cannot deliver %s codes", channel)
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject("Your login code")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Your login code is %s.\n\nIt expires at %s. If you did not request this code you can ignore this message.\n",
		code, expiresAt.Format(time.RFC1123)))

	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send code email: %w", err)
	}

	return nil
}

// LogSender is a development fallback that records deliveries without
// revealing the code.
type LogSender struct{}

// SendCode logs the delivery. The code itself is never logged.
func (LogSender) SendCode(ctx context.Context, recipient, channel, code string, expiresAt time.Time) error {
	log.Printf("Mailer: no SMTP configured, dropping %s code for delivery to a recipient (expires %s)", channel, expiresAt.Format(time.RFC3339))
	return nil
}

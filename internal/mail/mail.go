// Package mail delivers transactional email. The Resend sender is used in
// production; the log sender stands in when no API key is configured so the
// rest of the system keeps working in development.
package mail

import (
	"context"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender delivers through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
	logger *slog.Logger
}

// NewResendSender constructs a sender with the given API key and from address.
func NewResendSender(apiKey, from string, logger *slog.Logger) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
		logger: logger,
	}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		s.logger.Error("mail.send.fail", "to", msg.To, "error", err)
		return err
	}
	s.logger.Info("mail.send.ok", "to", msg.To, "id", sent.Id)
	return nil
}

// LogSender logs instead of sending. Development fallback.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender constructs a sender that only logs.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("mail.send.dev", "to", msg.To, "subject", msg.Subject)
	return nil
}

package service

import (
	"context"

	"replyloop/internal/platform/logger"
)

// LogMailer stands in for the email provider, which lives outside this
// system. It accepts every send and records it
type LogMailer struct {
	log logger.Logger
}

// NewLogMailer constructs the stand-in mailer
func NewLogMailer() *LogMailer {
	return &LogMailer{log: *logger.Named("mailer")}
}

// Send records the outbound email and reports success
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.log.Info().Str("to", to).Str("subject", subject).Int("body_bytes", len(body)).Msg("email handed off")
	return nil
}

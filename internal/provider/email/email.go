// Package email provides outbound email transports.
//
// Import Path: clientportal.io/portal/internal/provider/email
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
)

// ErrNoRecipient is returned when a message has no destination address.
var ErrNoRecipient = errors.New("email: recipient address is required")

// Message is one rendered email.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Validate checks the fields every transport needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("email: subject is required")
	}
	if m.HTML == "" && m.Text == "" {
		return errors.New("email: body is required")
	}
	return nil
}

// Transport sends rendered email. Implementations must honor ctx.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// NewTransport builds the transport selected by cfg.Provider.
func NewTransport(cfg config.EmailConfig) (Transport, error) {
	switch cfg.Provider {
	case config.EmailProviderResend:
		return NewResendTransport(cfg.ResendAPIKey, cfg.From, cfg.FromName, WithResendBaseURL(cfg.ResendBaseURL))
	case config.EmailProviderSMTP:
		return NewSMTPTransport(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			FromName: cfg.FromName,
		})
	case config.EmailProviderLog, "":
		return NewLogTransport(), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// LogTransport writes messages to the structured log instead of sending.
type LogTransport struct{}

// NewLogTransport creates a log-only transport.
func NewLogTransport() *LogTransport {
	return &LogTransport{}
}

// Name implements Transport.
func (*LogTransport) Name() string { return config.EmailProviderLog }

// Send implements Transport.
func (*LogTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	logger.Info("Email captured by log transport",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}

var _ Transport = (*LogTransport)(nil)

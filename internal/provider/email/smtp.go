package email

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
)

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPTransport sends email through an SMTP relay.
type SMTPTransport struct {
	cfg  SMTPConfig
	send func(*gomail.Message) error
}

// NewSMTPTransport creates an SMTP transport. A new connection is dialed
// per message.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("email from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPTransport{
		cfg:  cfg,
		send: func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}, nil
}

// Name implements Transport.
func (*SMTPTransport) Name() string { return config.EmailProviderSMTP }

// Send implements Transport. gomail has no context support: ctx is checked
// before dialing and the send then runs to completion on the caller's
// goroutine, bounded by gomail's dial timeout. A send that finishes after
// ctx ended is reported by its own result, since the relay already has it.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}

	if err := t.send(t.buildMessage(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	logger.Debug("Email sent via smtp",
		zap.String("to", msg.To),
		zap.String("host", t.cfg.Host),
	)
	return nil
}

func (t *SMTPTransport) buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", t.cfg.From, t.cfg.FromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}
	return m
}

var _ Transport = (*SMTPTransport)(nil)

package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
)

// ResendTransport sends email through the Resend HTTP API.
type ResendTransport struct {
	client *resend.Client
	from   string
}

// ResendOption customizes a ResendTransport.
type ResendOption func(*resend.Client) error

// WithResendBaseURL points the client at another API endpoint. Empty keeps
// the default.
func WithResendBaseURL(raw string) ResendOption {
	return func(c *resend.Client) error {
		if raw == "" {
			return nil
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse resend base url: %w", err)
		}
		c.BaseURL = u
		return nil
	}
}

// NewResendTransport creates a Resend transport.
func NewResendTransport(apiKey, from, fromName string, opts ...ResendOption) (*ResendTransport, error) {
	if apiKey == "" {
		return nil, errors.New("resend api key is required")
	}
	if from == "" {
		return nil, errors.New("email from address is required")
	}

	client := resend.NewClient(apiKey)
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return &ResendTransport{client: client, from: formatAddress(from, fromName)}, nil
}

// Name implements Transport.
func (*ResendTransport) Name() string { return config.EmailProviderResend }

// Send implements Transport.
func (t *ResendTransport) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	sent, err := t.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    t.from,
		To:      []string{formatAddress(msg.To, msg.ToName)},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("resend send to %s: %w", msg.To, err)
	}

	logger.Debug("Email accepted by resend",
		zap.String("to", msg.To),
		zap.String("message_id", sent.Id),
	)
	return nil
}

func formatAddress(address, name string) string {
	if name == "" {
		return address
	}
	return (&mail.Address{Name: name, Address: address}).String()
}

var _ Transport = (*ResendTransport)(nil)

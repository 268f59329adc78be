package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"clientportal.io/portal/internal/config"
)

func sampleMessage() Message {
	return Message{
		To:      "ada@example.com",
		ToName:  "Ada",
		Subject: "New message",
		HTML:    "<p>hello</p>",
		Text:    "hello",
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr bool
	}{
		{name: "complete", mutate: func(*Message) {}},
		{name: "text only", mutate: func(m *Message) { m.HTML = "" }},
		{name: "no recipient", mutate: func(m *Message) { m.To = " " }, wantErr: true},
		{name: "no subject", mutate: func(m *Message) { m.Subject = "" }, wantErr: true},
		{name: "no body", mutate: func(m *Message) { m.HTML, m.Text = "", "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sampleMessage()
			tt.mutate(&msg)
			err := msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(config.EmailConfig{Provider: config.EmailProviderLog})
	require.NoError(t, err)
	assert.Equal(t, "log", tr.Name())

	tr, err = NewTransport(config.EmailConfig{Provider: config.EmailProviderResend, ResendAPIKey: "re_test", From: "portal@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "resend", tr.Name())

	tr, err = NewTransport(config.EmailConfig{Provider: config.EmailProviderSMTP, SMTPHost: "smtp.example.com", From: "portal@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp", tr.Name())

	_, err = NewTransport(config.EmailConfig{Provider: config.EmailProviderResend})
	assert.Error(t, err)

	_, err = NewTransport(config.EmailConfig{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport()
	require.NoError(t, tr.Send(context.Background(), sampleMessage()))
	assert.ErrorIs(t, tr.Send(context.Background(), Message{Subject: "x", Text: "y"}), ErrNoRecipient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, sampleMessage()), context.Canceled)
}

func TestResendTransport_Send(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/emails") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer srv.Close()

	tr, err := NewResendTransport("re_test", "portal@example.com", "Portal", WithResendBaseURL(srv.URL))
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), sampleMessage()))
	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, "New message", got["subject"])
	assert.Equal(t, "<p>hello</p>", got["html"])
	assert.Contains(t, got["from"], "portal@example.com")
	to, ok := got["to"].([]any)
	require.True(t, ok)
	require.Len(t, to, 1)
	assert.Contains(t, to[0], "ada@example.com")
}

func TestResendTransport_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"invalid from"}`))
	}))
	defer srv.Close()

	tr, err := NewResendTransport("re_test", "portal@example.com", "", WithResendBaseURL(srv.URL))
	require.NoError(t, err)
	assert.Error(t, tr.Send(context.Background(), sampleMessage()))
}

func TestResendTransport_RejectsInvalidMessage(t *testing.T) {
	tr, err := NewResendTransport("re_test", "portal@example.com", "")
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Send(context.Background(), Message{Subject: "s", Text: "t"}), ErrNoRecipient)
}

func TestSMTPTransport_BuildsMultipartMessage(t *testing.T) {
	tr, err := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com", From: "portal@example.com", FromName: "Portal"})
	require.NoError(t, err)
	assert.Equal(t, 587, tr.cfg.Port)

	var sent *gomail.Message
	tr.send = func(m *gomail.Message) error {
		sent = m
		return nil
	}

	require.NoError(t, tr.Send(context.Background(), sampleMessage()))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"New message"}, sent.GetHeader("Subject"))
	require.Len(t, sent.GetHeader("To"), 1)
	assert.Contains(t, sent.GetHeader("To")[0], "ada@example.com")
	require.Len(t, sent.GetHeader("From"), 1)
	assert.Contains(t, sent.GetHeader("From")[0], "portal@example.com")
}

func TestSMTPTransport_Errors(t *testing.T) {
	tr, err := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com", Port: 2525, From: "portal@example.com"})
	require.NoError(t, err)

	tr.send = func(*gomail.Message) error { return errors.New("421 try later") }
	err = tr.Send(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "421 try later")

	_, err = NewSMTPTransport(SMTPConfig{From: "portal@example.com"})
	assert.Error(t, err)
}

func TestSMTPTransport_DefaultSenderIsWired(t *testing.T) {
	tr, err := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "portal@example.com"})
	require.NoError(t, err)
	require.NotNil(t, tr.send)

	// Nothing listens on port 1, so the real dialer fails fast.
	err = tr.Send(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp send to ada@example.com")
}

func TestSMTPTransport_Cancellation(t *testing.T) {
	tr, err := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com", From: "portal@example.com"})
	require.NoError(t, err)

	calls := 0
	tr.send = func(*gomail.Message) error {
		calls++
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, sampleMessage()), context.Canceled)
	assert.Zero(t, calls, "no dial after the context ended")

	tr.send = func(*gomail.Message) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.NoError(t, tr.Send(ctx, sampleMessage()), "a message the relay accepted is not reported as a timeout")
}

package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Security:     SecurityConfig{SessionSecret: "abcdefghijklmnopqrstuvwxyzABCDEF123456"},
		Database:     DatabaseConfig{Driver: DriverMemory},
		Email:        EmailConfig{Provider: EmailProviderLog},
		Realtime:     RealtimeConfig{Provider: RealtimeProviderHub},
		Notification: NotificationConfig{ChannelTimeout: time.Second, DefaultTimezone: "UTC"},
		Digest:       DigestConfig{FlushInterval: time.Minute},
	}
}

func TestEnsureSecrets_GeneratesMissingValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.ensureSecrets(); err != nil {
		t.Fatalf("ensureSecrets() error = %v", err)
	}

	// 32 random bytes hex-encoded -> 64 chars.
	if len(cfg.Security.SessionSecret) != 64 {
		t.Fatalf("session secret length = %d, want 64", len(cfg.Security.SessionSecret))
	}
}

func TestEnsureSecrets_PreservesProvidedValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Security: SecurityConfig{
			SessionSecret: "abcdefghijklmnopqrstuvwxyzABCDEF123456",
		},
	}

	if err := cfg.ensureSecrets(); err != nil {
		t.Fatalf("ensureSecrets() error = %v", err)
	}

	if got := cfg.Security.SessionSecret; got != "abcdefghijklmnopqrstuvwxyzABCDEF123456" {
		t.Fatalf("session secret changed unexpectedly: %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "short session secret", mutate: func(c *Config) { c.Security.SessionSecret = "short-secret" }, wantErr: true},
		{name: "mongo without uri", mutate: func(c *Config) { c.Database.Driver = DriverMongo }, wantErr: true},
		{name: "resend without key", mutate: func(c *Config) { c.Email.Provider = EmailProviderResend }, wantErr: true},
		{name: "smtp without host", mutate: func(c *Config) { c.Email.Provider = EmailProviderSMTP }, wantErr: true},
		{name: "unknown realtime provider", mutate: func(c *Config) { c.Realtime.Provider = "pusher" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Notification.DefaultTimezone = "Mars/Olympus" }, wantErr: true},
		{name: "zero channel timeout", mutate: func(c *Config) { c.Notification.ChannelTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Package main seeds the contact directory and default notification
// preferences from a YAML file.
//
// Usage: seed contacts.yaml
//
// The command is idempotent: contacts are upserted and existing
// preferences are left untouched. Migrations are expected to have run.
//
// Import Path: clientportal.io/portal/cmd/seed
package main

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/infrastructure"
	"clientportal.io/portal/internal/pkg/clock"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/preference"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: seed <contacts.yaml>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	contacts, err := parseSeed(data)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Database.Driver == config.DriverMemory {
		return fmt.Errorf("seeding the in-memory store has no effect")
	}

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	logger.Info("Starting contact seeding...", zap.Int("contacts", len(contacts)))

	prefs := preference.NewService(db.Store, clock.Real{})
	for _, c := range contacts {
		if err := db.Store.UpsertContact(ctx, c); err != nil {
			return fmt.Errorf("upsert contact %s: %w", c.UserID, err)
		}
		if _, err := prefs.GetOrCreate(ctx, c.UserID); err != nil {
			return fmt.Errorf("create preference for %s: %w", c.UserID, err)
		}
	}

	logger.Info("Contact seeding completed successfully")
	return nil
}

type seedFile struct {
	Contacts []seedContact `yaml:"contacts"`
}

type seedContact struct {
	UserID        string `yaml:"user_id"`
	Email         string `yaml:"email"`
	Name          string `yaml:"name"`
	EmailVerified bool   `yaml:"email_verified"`
}

// parseSeed decodes and validates a seed file.
func parseSeed(data []byte) ([]domain.Contact, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Contacts))
	out := make([]domain.Contact, 0, len(file.Contacts))
	for i, sc := range file.Contacts {
		userID := strings.TrimSpace(sc.UserID)
		if userID == "" {
			return nil, fmt.Errorf("contact %d: user_id is required", i)
		}
		if _, dup := seen[userID]; dup {
			return nil, fmt.Errorf("contact %d: duplicate user_id %s", i, userID)
		}
		seen[userID] = struct{}{}

		address := strings.TrimSpace(sc.Email)
		if address != "" {
			parsed, err := mail.ParseAddress(address)
			if err != nil {
				return nil, fmt.Errorf("contact %s: invalid email %q: %w", userID, address, err)
			}
			address = parsed.Address
		}
		out = append(out, domain.Contact{
			UserID:        userID,
			Email:         address,
			Name:          strings.TrimSpace(sc.Name),
			EmailVerified: sc.EmailVerified && address != "",
		})
	}
	return out, nil
}

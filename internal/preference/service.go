// Package preference owns per-user notification preferences.
//
// Import Path: clientportal.io/portal/internal/preference
package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/clock"
	apperrors "clientportal.io/portal/internal/pkg/errors"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/store"
)

// maxUpdateAttempts bounds optimistic-concurrency retries on Update.
const maxUpdateAttempts = 3

// Service reads and mutates preferences. It never triggers notifications.
type Service struct {
	repo  store.PreferenceRepository
	clock clock.Clock
}

// NewService creates a preference service.
func NewService(repo store.PreferenceRepository, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{repo: repo, clock: clk}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.ErrValidationf(apperrors.CodeValidationFailed, "userId", "user id is required")
	}
	return nil
}

// GetOrCreate returns the user's record, creating defaults on first access.
// A concurrent first access loses on the unique user index and refetches.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*domain.Preference, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	p, err := s.repo.GetPreference(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get preference for %s: %w", userID, err)
	}

	p = domain.NewDefaultPreference(newID(), userID, s.clock.Now())
	err = s.repo.CreatePreference(ctx, p)
	switch {
	case err == nil:
		logger.Debug("Created default notification preference", zap.String("user_id", userID))
		return p, nil
	case errors.Is(err, store.ErrAlreadyExists):
		existing, getErr := s.repo.GetPreference(ctx, userID)
		if getErr != nil {
			return nil, fmt.Errorf("refetch preference for %s: %w", userID, getErr)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("create preference for %s: %w", userID, err)
	}
}

// Update merges the provided fields. It fails with PREFERENCE_NOT_FOUND
// when the user has no record; it never creates one.
func (s *Service) Update(ctx context.Context, userID string, upd Update) (*domain.Preference, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(p *domain.Preference) (bool, error) {
		if upd.IsEmpty() {
			return false, nil
		}
		upd.ApplyTo(p)
		return true, validateMerged(p)
	})
}

// ResetToDefaults restores the default settings and clears quiet hours and
// the digest schedule. The timezone is kept.
func (s *Service) ResetToDefaults(ctx context.Context, userID string) (*domain.Preference, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(p *domain.Preference) (bool, error) {
		p.ResetToDefaults()
		return true, nil
	})
}

// mutate runs a read-modify-write with version compare-and-set.
func (s *Service) mutate(ctx context.Context, userID string, change func(*domain.Preference) (bool, error)) (*domain.Preference, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := s.repo.GetPreference(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrPreferenceNotFoundf(userID)
		}
		if err != nil {
			return nil, fmt.Errorf("get preference for %s: %w", userID, err)
		}

		next := current.Clone()
		changed, err := change(next)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}
		expected := current.Version
		next.Version = expected + 1
		next.UpdatedAt = s.clock.Now()

		err = s.repo.UpdatePreference(ctx, next, expected)
		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, store.ErrNotFound):
			return nil, apperrors.ErrPreferenceNotFoundf(userID)
		case errors.Is(err, store.ErrConflict):
			logger.Debug("Preference version conflict, retrying",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
			)
			continue
		default:
			return nil, fmt.Errorf("update preference for %s: %w", userID, err)
		}
	}
	return nil, apperrors.Conflict(apperrors.CodePreferenceConflict, "notification preference was modified concurrently").
		WithParams(map[string]interface{}{"user_id": userID})
}

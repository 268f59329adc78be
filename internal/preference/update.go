package preference

import (
	"cmp"
	"net/http"
	"slices"
	"strings"
	"time"

	"clientportal.io/portal/internal/domain"
	apperrors "clientportal.io/portal/internal/pkg/errors"
)

// CategoryUpdate is a partial category setting.
type CategoryUpdate struct {
	Enabled  *bool                    `json:"enabled,omitempty"`
	Channels *domain.ChannelSelection `json:"channels,omitempty"`
}

// Update is a partial preference change. Nil fields are left untouched.
// Category keys are raw strings so unknown keys can be reported instead of
// silently dropped.
type Update struct {
	IsEnabled         *bool                     `json:"isEnabled,omitempty"`
	DigestFrequency   *domain.DigestFrequency   `json:"digestFrequency,omitempty"`
	Preferences       map[string]CategoryUpdate `json:"preferences,omitempty"`
	QuietHoursEnabled *bool                     `json:"quietHoursEnabled,omitempty"`
	QuietHoursStart   *string                   `json:"quietHoursStart,omitempty"`
	QuietHoursEnd     *string                   `json:"quietHoursEnd,omitempty"`
	EmailDigestTime   *string                   `json:"emailDigestTime,omitempty"`
	EmailDigestDays   *[]string                 `json:"emailDigestDays,omitempty"`
	Timezone          *string                   `json:"timezone,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.IsEnabled == nil &&
		u.DigestFrequency == nil &&
		len(u.Preferences) == 0 &&
		u.QuietHoursEnabled == nil &&
		u.QuietHoursStart == nil &&
		u.QuietHoursEnd == nil &&
		u.EmailDigestTime == nil &&
		u.EmailDigestDays == nil &&
		u.Timezone == nil
}

// Validate checks every provided field against the closed enums and formats.
func (u Update) Validate() error {
	var fieldErrors []apperrors.FieldError
	add := func(field, code, message string) {
		fieldErrors = append(fieldErrors, apperrors.FieldError{Field: field, Code: code, Message: message})
	}

	for key, cu := range u.Preferences {
		field := "preferences." + key
		if _, err := domain.ParseCategory(key); err != nil {
			add(field, apperrors.CodeUnknownCategory, err.Error())
			continue
		}
		if cu.Channels != nil && !cu.Channels.Valid() {
			add(field+".channels", apperrors.CodeInvalidChannel, "channels must be one of in_app, email, both, none")
		}
	}
	if u.DigestFrequency != nil && !u.DigestFrequency.Valid() {
		add("digestFrequency", apperrors.CodeInvalidFrequency, "digestFrequency must be one of instant, hourly, daily, weekly")
	}
	clocks := []struct {
		field string
		value *string
	}{
		{"quietHoursStart", u.QuietHoursStart},
		{"quietHoursEnd", u.QuietHoursEnd},
		{"emailDigestTime", u.EmailDigestTime},
	}
	for _, c := range clocks {
		if c.value == nil || *c.value == "" {
			continue
		}
		if _, err := domain.ParseClock(*c.value); err != nil {
			add(c.field, apperrors.CodeInvalidClock, err.Error())
		}
	}
	if u.EmailDigestDays != nil {
		for _, day := range *u.EmailDigestDays {
			if _, err := domain.ParseWeekday(day); err != nil {
				add("emailDigestDays", apperrors.CodeInvalidWeekday, err.Error())
			}
		}
	}
	if u.Timezone != nil && *u.Timezone != "" {
		if _, err := time.LoadLocation(*u.Timezone); err != nil {
			add("timezone", apperrors.CodeInvalidTimezone, "unknown IANA timezone "+*u.Timezone)
		}
	}

	// Category keys come from a map; keep the response stable.
	slices.SortStableFunc(fieldErrors, func(a, b apperrors.FieldError) int {
		return cmp.Or(cmp.Compare(a.Field, b.Field), cmp.Compare(a.Code, b.Code))
	})
	return validationError(fieldErrors)
}

// ApplyTo merges the update into p. Call Validate first.
func (u Update) ApplyTo(p *domain.Preference) {
	if u.IsEnabled != nil {
		p.IsEnabled = *u.IsEnabled
	}
	if u.DigestFrequency != nil {
		p.DigestFrequency = *u.DigestFrequency
	}
	if len(u.Preferences) > 0 && p.Categories == nil {
		p.Categories = make(map[domain.Category]domain.CategoryPreference, len(u.Preferences))
	}
	for key, cu := range u.Preferences {
		c := domain.Category(key)
		current, ok := p.Categories[c]
		if !ok {
			current = domain.DefaultCategoryPreferences()[c]
		}
		if cu.Enabled != nil {
			current.Enabled = *cu.Enabled
		}
		if cu.Channels != nil {
			current.Channels = *cu.Channels
		}
		p.Categories[c] = current
	}
	if u.QuietHoursEnabled != nil {
		p.QuietHoursEnabled = *u.QuietHoursEnabled
	}
	if u.QuietHoursStart != nil {
		p.QuietHoursStart = strings.TrimSpace(*u.QuietHoursStart)
	}
	if u.QuietHoursEnd != nil {
		p.QuietHoursEnd = strings.TrimSpace(*u.QuietHoursEnd)
	}
	if u.EmailDigestTime != nil {
		p.EmailDigestTime = strings.TrimSpace(*u.EmailDigestTime)
	}
	if u.EmailDigestDays != nil {
		days := make([]string, 0, len(*u.EmailDigestDays))
		seen := make(map[string]bool, len(*u.EmailDigestDays))
		for _, d := range *u.EmailDigestDays {
			name, err := domain.NormalizeWeekday(d)
			if err != nil || seen[name] {
				continue
			}
			seen[name] = true
			days = append(days, name)
		}
		if len(days) == 0 {
			days = nil
		}
		p.EmailDigestDays = days
	}
	if u.Timezone != nil {
		p.Timezone = strings.TrimSpace(*u.Timezone)
	}
}

// validateMerged checks cross-field rules on the merged record.
func validateMerged(p *domain.Preference) error {
	var fieldErrors []apperrors.FieldError
	if p.QuietHoursEnabled {
		if p.QuietHoursStart == "" {
			fieldErrors = append(fieldErrors, apperrors.FieldError{
				Field: "quietHoursStart", Code: apperrors.CodeInvalidClock,
				Message: "quietHoursStart is required when quiet hours are enabled",
			})
		}
		if p.QuietHoursEnd == "" {
			fieldErrors = append(fieldErrors, apperrors.FieldError{
				Field: "quietHoursEnd", Code: apperrors.CodeInvalidClock,
				Message: "quietHoursEnd is required when quiet hours are enabled",
			})
		}
	}
	return validationError(fieldErrors)
}

func validationError(fieldErrors []apperrors.FieldError) error {
	switch len(fieldErrors) {
	case 0:
		return nil
	case 1:
		fe := fieldErrors[0]
		return apperrors.ErrValidationf(fe.Code, fe.Field, fe.Message)
	default:
		return apperrors.New(apperrors.CodeValidationFailed, "invalid notification preferences", http.StatusBadRequest).
			WithFieldErrors(fieldErrors)
	}
}

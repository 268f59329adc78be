package domain

import (
	"strings"
	"time"
)

// CategoryPreference is the setting for one category.
type CategoryPreference struct {
	Enabled  bool             `json:"enabled" bson:"enabled"`
	Channels ChannelSelection `json:"channels" bson:"channels"`
}

// Preference is a user's notification configuration. One per user.
type Preference struct {
	ID              string                          `json:"id" bson:"_id"`
	UserID          string                          `json:"userId" bson:"userId"`
	IsEnabled       bool                            `json:"isEnabled" bson:"isEnabled"`
	DigestFrequency DigestFrequency                 `json:"digestFrequency" bson:"digestFrequency"`
	Categories      map[Category]CategoryPreference `json:"preferences" bson:"preferences"`

	QuietHoursEnabled bool   `json:"quietHoursEnabled" bson:"quietHoursEnabled"`
	QuietHoursStart   string `json:"quietHoursStart,omitempty" bson:"quietHoursStart,omitempty"`
	QuietHoursEnd     string `json:"quietHoursEnd,omitempty" bson:"quietHoursEnd,omitempty"`

	EmailDigestTime string   `json:"emailDigestTime,omitempty" bson:"emailDigestTime,omitempty"`
	EmailDigestDays []string `json:"emailDigestDays,omitempty" bson:"emailDigestDays,omitempty"`

	// Timezone is an IANA zone name. Empty means the service default.
	Timezone string `json:"timezone,omitempty" bson:"timezone,omitempty"`

	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DefaultCategoryPreferences returns the category map every new user gets.
func DefaultCategoryPreferences() map[Category]CategoryPreference {
	return map[Category]CategoryPreference{
		CategoryMessages:       {Enabled: true, Channels: ChannelBoth},
		CategoryInvoices:       {Enabled: true, Channels: ChannelBoth},
		CategoryProjectUpdates: {Enabled: true, Channels: ChannelBoth},
		CategoryMentions:       {Enabled: true, Channels: ChannelBoth},
		CategoryTasks:          {Enabled: true, Channels: ChannelInApp},
		CategoryMilestones:     {Enabled: true, Channels: ChannelInApp},
		CategoryGeneral:        {Enabled: true, Channels: ChannelInApp},
	}
}

// NewDefaultPreference builds the default record for userID.
func NewDefaultPreference(id, userID string, now time.Time) *Preference {
	p := &Preference{
		ID:        id,
		UserID:    userID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.ResetToDefaults()
	return p
}

// ResetToDefaults restores default settings. Identity, timezone and
// bookkeeping fields are kept.
func (p *Preference) ResetToDefaults() {
	p.IsEnabled = true
	p.DigestFrequency = DigestInstant
	p.Categories = DefaultCategoryPreferences()
	p.QuietHoursEnabled = false
	p.QuietHoursStart = ""
	p.QuietHoursEnd = ""
	p.EmailDigestTime = ""
	p.EmailDigestDays = nil
}

// Category returns the setting for c and whether the key is present.
func (p *Preference) Category(c Category) (CategoryPreference, bool) {
	cp, ok := p.Categories[c]
	return cp, ok
}

// Location resolves the user's timezone, falling back when unset or invalid.
func (p *Preference) Location(fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if p.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// InQuietHours reports whether t falls in [start, end) in the user's local
// time. The window wraps past midnight when end < start; start == end is an
// empty window. Malformed bounds disable quiet hours.
func (p *Preference) InQuietHours(t time.Time, fallback *time.Location) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	start, err := ParseClock(p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := ParseClock(p.QuietHoursEnd)
	if err != nil {
		return false
	}

	local := t.In(p.Location(fallback))
	now := local.Hour()*60 + local.Minute()

	switch {
	case start == end:
		return false
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}

// DigestWeekdays returns the parsed email digest days; unknown names are
// skipped.
func (p *Preference) DigestWeekdays() map[time.Weekday]bool {
	if len(p.EmailDigestDays) == 0 {
		return nil
	}
	days := make(map[time.Weekday]bool, len(p.EmailDigestDays))
	for _, name := range p.EmailDigestDays {
		if d, err := ParseWeekday(name); err == nil {
			days[d] = true
		}
	}
	return days
}

// Clone returns a deep copy.
func (p *Preference) Clone() *Preference {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Categories = make(map[Category]CategoryPreference, len(p.Categories))
	for k, v := range p.Categories {
		cp.Categories[k] = v
	}
	if p.EmailDigestDays != nil {
		cp.EmailDigestDays = append([]string(nil), p.EmailDigestDays...)
	}
	return &cp
}

// NormalizeWeekday returns the lowercase full day name.
func NormalizeWeekday(s string) (string, error) {
	d, err := ParseWeekday(s)
	if err != nil {
		return "", err
	}
	return strings.ToLower(d.String()), nil
}

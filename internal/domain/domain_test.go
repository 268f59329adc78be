package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultPreference_PopulatesEveryCategory(t *testing.T) {
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	p := NewDefaultPreference("pref-1", "user-1", now)

	require.True(t, p.IsEnabled)
	require.Equal(t, DigestInstant, p.DigestFrequency)
	require.False(t, p.QuietHoursEnabled)
	require.Len(t, p.Categories, len(Categories))

	want := map[Category]ChannelSelection{
		CategoryMessages:       ChannelBoth,
		CategoryInvoices:       ChannelBoth,
		CategoryProjectUpdates: ChannelBoth,
		CategoryMentions:       ChannelBoth,
		CategoryTasks:          ChannelInApp,
		CategoryMilestones:     ChannelInApp,
		CategoryGeneral:        ChannelInApp,
	}
	for c, channels := range want {
		cp, ok := p.Category(c)
		require.True(t, ok, "category %s missing", c)
		assert.True(t, cp.Enabled, "category %s disabled", c)
		assert.Equal(t, channels, cp.Channels, "category %s channels", c)
	}
}

func TestChannelSelection_Expand(t *testing.T) {
	tests := []struct {
		sel  ChannelSelection
		want ChannelSet
	}{
		{ChannelBoth, ChannelSet{InApp: true, Email: true}},
		{ChannelEmail, ChannelSet{Email: true}},
		{ChannelInApp, ChannelSet{InApp: true}},
		{ChannelNone, ChannelSet{}},
		{ChannelSelection("bogus"), ChannelSet{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sel), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.Expand())
		})
	}
}

func TestPreference_InQuietHours(t *testing.T) {
	at := func(hh, mm int) time.Time {
		return time.Date(2026, 2, 14, hh, mm, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		start string
		end   string
		t     time.Time
		want  bool
	}{
		{"wrapping late evening", "22:00", "06:00", at(23, 30), true},
		{"wrapping early morning", "22:00", "06:00", at(2, 0), true},
		{"wrapping daytime", "22:00", "06:00", at(10, 0), false},
		{"wrapping end exclusive", "22:00", "06:00", at(6, 0), false},
		{"wrapping start inclusive", "22:00", "06:00", at(22, 0), true},
		{"same-day inside", "12:00", "14:00", at(13, 15), true},
		{"same-day outside", "12:00", "14:00", at(14, 0), false},
		{"empty window", "08:00", "08:00", at(8, 0), false},
		{"malformed bounds", "8pm", "06:00", at(23, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Preference{QuietHoursEnabled: true, QuietHoursStart: tt.start, QuietHoursEnd: tt.end}
			assert.Equal(t, tt.want, p.InQuietHours(tt.t, time.UTC))
		})
	}
}

func TestPreference_InQuietHours_UsesUserTimezone(t *testing.T) {
	// 04:30 UTC is 23:30 the previous evening in New York (EST).
	now := time.Date(2026, 1, 15, 4, 30, 0, 0, time.UTC)
	p := &Preference{
		QuietHoursEnabled: true,
		QuietHoursStart:   "22:00",
		QuietHoursEnd:     "23:00",
		Timezone:          "America/New_York",
	}
	assert.False(t, p.InQuietHours(now, time.UTC))

	p.QuietHoursEnd = "23:45"
	assert.True(t, p.InQuietHours(now, time.UTC))

	p.Timezone = ""
	assert.False(t, p.InQuietHours(now, time.UTC), "fallback UTC puts 04:30 outside the window")
}

func TestPreference_InQuietHours_Disabled(t *testing.T) {
	p := &Preference{QuietHoursStart: "00:00", QuietHoursEnd: "23:59"}
	assert.False(t, p.InQuietHours(time.Now(), time.UTC))
}

func TestPreference_ResetToDefaultsKeepsIdentity(t *testing.T) {
	p := NewDefaultPreference("pref-1", "user-1", time.Now())
	p.IsEnabled = false
	p.Timezone = "Europe/Paris"
	p.QuietHoursEnabled = true
	p.QuietHoursStart = "21:00"
	p.EmailDigestDays = []string{"monday"}
	p.Categories[CategoryMessages] = CategoryPreference{Enabled: false, Channels: ChannelNone}

	p.ResetToDefaults()

	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "Europe/Paris", p.Timezone)
	assert.True(t, p.IsEnabled)
	assert.False(t, p.QuietHoursEnabled)
	assert.Empty(t, p.QuietHoursStart)
	assert.Nil(t, p.EmailDigestDays)
	assert.Equal(t, ChannelBoth, p.Categories[CategoryMessages].Channels)
}

func TestPreference_CloneIsDeep(t *testing.T) {
	p := NewDefaultPreference("pref-1", "user-1", time.Now())
	p.EmailDigestDays = []string{"monday"}

	cp := p.Clone()
	cp.Categories[CategoryMessages] = CategoryPreference{Channels: ChannelNone}
	cp.EmailDigestDays[0] = "friday"

	assert.Equal(t, ChannelBoth, p.Categories[CategoryMessages].Channels)
	assert.Equal(t, "monday", p.EmailDigestDays[0])
}

func TestParseHelpers(t *testing.T) {
	m, err := ParseClock("07:45")
	require.NoError(t, err)
	assert.Equal(t, 7*60+45, m)

	_, err = ParseClock("25:00")
	assert.Error(t, err)

	d, err := ParseWeekday("Fri")
	require.NoError(t, err)
	assert.Equal(t, time.Friday, d)

	name, err := NormalizeWeekday("TUE")
	require.NoError(t, err)
	assert.Equal(t, "tuesday", name)

	_, err = ParseWeekday("someday")
	assert.Error(t, err)

	_, err = ParseCategory("billing")
	assert.Error(t, err)
	c, err := ParseCategory("mentions")
	require.NoError(t, err)
	assert.Equal(t, CategoryMentions, c)
}

func TestDigestFrequency_Duration(t *testing.T) {
	assert.Equal(t, time.Duration(0), DigestInstant.Duration())
	assert.Equal(t, time.Hour, DigestHourly.Duration())
	assert.Equal(t, 24*time.Hour, DigestDaily.Duration())
	assert.Equal(t, 7*24*time.Hour, DigestWeekly.Duration())
	assert.False(t, DigestFrequency("monthly").Valid())
}

func TestEvent_MissingFields(t *testing.T) {
	assert.Equal(t, []string{"recipientUserId", "category", "title", "message"}, Event{}.MissingFields())
	assert.Empty(t, Event{RecipientUserID: "u", Category: CategoryGeneral, Title: "t", Message: "m"}.MissingFields())
}

func TestContact_CanEmail(t *testing.T) {
	assert.True(t, Contact{Email: "a@example.com", EmailVerified: true}.CanEmail())
	assert.False(t, Contact{Email: "a@example.com"}.CanEmail())
	assert.False(t, Contact{EmailVerified: true}.CanEmail())
}

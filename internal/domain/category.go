// Package domain holds the notification engine's core types.
//
// Import Path: clientportal.io/portal/internal/domain
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category is the closed set of notification categories.
type Category string

const (
	CategoryProjectUpdates Category = "projectUpdates"
	CategoryMessages       Category = "messages"
	CategoryInvoices       Category = "invoices"
	CategoryMilestones     Category = "milestones"
	CategoryTasks          Category = "tasks"
	CategoryMentions       Category = "mentions"
	CategoryGeneral        Category = "general"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryProjectUpdates,
	CategoryMessages,
	CategoryInvoices,
	CategoryMilestones,
	CategoryTasks,
	CategoryMentions,
	CategoryGeneral,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts s to a Category, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown notification category %q", s)
	}
	return c, nil
}

// ChannelSelection is the per-category delivery setting.
type ChannelSelection string

const (
	ChannelInApp ChannelSelection = "in_app"
	ChannelEmail ChannelSelection = "email"
	ChannelBoth  ChannelSelection = "both"
	ChannelNone  ChannelSelection = "none"
)

// Valid reports whether s is a known channel selection.
func (s ChannelSelection) Valid() bool {
	switch s {
	case ChannelInApp, ChannelEmail, ChannelBoth, ChannelNone:
		return true
	}
	return false
}

// ChannelSet is an expanded channel selection.
type ChannelSet struct {
	InApp bool
	Email bool
}

// Expand resolves the selection into concrete channels. The canonical feed
// write is not part of the set; it always happens. InApp covers the realtime
// push, so email-only users get the feed row and the email but no push.
func (s ChannelSelection) Expand() ChannelSet {
	switch s {
	case ChannelBoth:
		return ChannelSet{InApp: true, Email: true}
	case ChannelEmail:
		return ChannelSet{Email: true}
	case ChannelInApp:
		return ChannelSet{InApp: true}
	default:
		return ChannelSet{}
	}
}

// DigestFrequency controls when email for a user is delivered.
type DigestFrequency string

const (
	DigestInstant DigestFrequency = "instant"
	DigestHourly  DigestFrequency = "hourly"
	DigestDaily   DigestFrequency = "daily"
	DigestWeekly  DigestFrequency = "weekly"
)

// Valid reports whether f is a known frequency.
func (f DigestFrequency) Valid() bool {
	switch f {
	case DigestInstant, DigestHourly, DigestDaily, DigestWeekly:
		return true
	}
	return false
}

// Duration is the nominal window length. Instant has none.
func (f DigestFrequency) Duration() time.Duration {
	switch f {
	case DigestHourly:
		return time.Hour
	case DigestDaily:
		return 24 * time.Hour
	case DigestWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter English day names, any case.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// ParseClock parses an HH:MM wall-clock string into minutes past midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

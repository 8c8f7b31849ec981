// Package clinic holds per-practice settings the booking engine reads:
// weekly business hours, appointment length and staff notification targets.
package clinic

import (
	"fmt"
	"strings"
	"time"
)

// DayHours represents the opening hours for a single day.
// Nil means the practice is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "18:00" in 24-hour format
}

// Minutes returns open and close as minutes since midnight.
// ok is false when either value is malformed or the window is empty.
func (d *DayHours) Minutes() (opensAt, closesAt int, ok bool) {
	if d == nil {
		return 0, 0, false
	}
	o, err := time.Parse("15:04", strings.TrimSpace(d.Open))
	if err != nil {
		return 0, 0, false
	}
	c, err := time.Parse("15:04", strings.TrimSpace(d.Close))
	if err != nil {
		return 0, 0, false
	}
	opensAt = o.Hour()*60 + o.Minute()
	closesAt = c.Hour()*60 + c.Minute()
	if closesAt <= opensAt {
		return 0, 0, false
	}
	return opensAt, closesAt, true
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// GetHoursForDay returns the hours for a given weekday (0=Sunday, 6=Saturday).
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// HasAnyHours returns true if at least one day has business hours configured.
func (b *BusinessHours) HasAnyHours() bool {
	return b.Sunday != nil || b.Monday != nil || b.Tuesday != nil ||
		b.Wednesday != nil || b.Thursday != nil || b.Friday != nil || b.Saturday != nil
}

// NotificationPrefs controls who hears about callback requests.
type NotificationPrefs struct {
	EmailRecipients  []string `json:"email_recipients,omitempty"`
	SMSRecipients    []string `json:"sms_recipients,omitempty"`
	NotifyOnCallback bool     `json:"notify_on_callback"`
}

// Config is the per-tenant configuration consumed by the booking engine.
type Config struct {
	TenantID           string            `json:"tenant_id"`
	Name               string            `json:"name"`
	Timezone           string            `json:"timezone"`
	Phone              string            `json:"phone,omitempty"`
	AppointmentMinutes int               `json:"appointment_minutes"`
	BusinessHours      BusinessHours     `json:"business_hours"`
	Notifications      NotificationPrefs `json:"notifications"`
}

// DefaultConfig returns weekday office hours for a tenant with nothing stored.
func DefaultConfig(tenantID string) *Config {
	weekday := func() *DayHours { return &DayHours{Open: "08:00", Close: "17:00"} }
	return &Config{
		TenantID:           tenantID,
		Name:               "our office",
		Timezone:           "America/New_York",
		AppointmentMinutes: 30,
		BusinessHours: BusinessHours{
			Monday:    weekday(),
			Tuesday:   weekday(),
			Wednesday: weekday(),
			Thursday:  weekday(),
			Friday:    weekday(),
		},
	}
}

// Location resolves the tenant timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DisplayName is the name used in outbound texts.
func (c *Config) DisplayName() string {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return "our office"
	}
	return c.Name
}

// Validate rejects configs the slot calendar cannot use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return ErrMissingTenant
	}
	if c.AppointmentMinutes < 0 {
		return fmt.Errorf("%w: appointment_minutes %d", ErrInvalidHours, c.AppointmentMinutes)
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		hours := c.BusinessHours.GetHoursForDay(wd)
		if hours == nil {
			continue
		}
		if _, _, ok := hours.Minutes(); !ok {
			return fmt.Errorf("%w: %s %q-%q", ErrInvalidHours, wd, hours.Open, hours.Close)
		}
	}
	return nil
}

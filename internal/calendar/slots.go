// Package calendar turns a tenant's weekly business hours and its booked
// appointments into ordered, pageable appointment openings.
package calendar

import (
	"time"

	"github.com/wolfman30/missedcall-booking/internal/clinic"
)

const (
	// DefaultGranularity is the spacing between candidate start times.
	DefaultGranularity = 30 * time.Minute
	// DefaultMinLeadTime keeps same-day offers at least this far from now.
	DefaultMinLeadTime = time.Hour
	// DefaultHorizonDays bounds how far ahead the walk looks.
	DefaultHorizonDays = 14

	keyLayout = "2006-01-02 15:04"
)

// Options controls a single availability query.
type Options struct {
	Granularity time.Duration
	// Duration is the appointment length; a slot must end by closing time.
	// Zero means one granularity step.
	Duration    time.Duration
	Count       int
	PageOffset  int
	Now         time.Time
	MinLeadTime time.Duration
	HorizonDays int
	Location    *time.Location
}

func (o Options) withDefaults() Options {
	if o.Granularity < time.Minute {
		o.Granularity = DefaultGranularity
	}
	if o.Duration <= 0 {
		o.Duration = o.Granularity
	}
	if o.MinLeadTime < 0 {
		o.MinLeadTime = 0
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.PageOffset < 0 {
		o.PageOffset = 0
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// BookedSet holds taken (local date, start time) pairs.
type BookedSet map[string]struct{}

// NewBookedSet builds a set from slot start times.
func NewBookedSet(slots ...time.Time) BookedSet {
	b := make(BookedSet, len(slots))
	for _, s := range slots {
		b.Add(s)
	}
	return b
}

// Key is the booked-set key for a slot start in its own location.
func Key(t time.Time) string {
	return t.Format(keyLayout)
}

// Add marks a slot start as taken.
func (b BookedSet) Add(t time.Time) {
	b[Key(t)] = struct{}{}
}

// AddKey marks a slot from stored date ("2006-01-02") and clock ("15:04") strings.
func (b BookedSet) AddKey(date, clock string) {
	b[date+" "+clock] = struct{}{}
}

// Has reports whether the slot start is taken. Nil sets hold nothing.
func (b BookedSet) Has(t time.Time) bool {
	if b == nil {
		return false
	}
	_, ok := b[Key(t)]
	return ok
}

// Clone copies the set so callers can add local exclusions.
func (b BookedSet) Clone() BookedSet {
	out := make(BookedSet, len(b)+1)
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// AvailableSlots walks forward from opts.Now one day at a time and returns up
// to opts.Count open slot starts in chronological order, after skipping
// opts.PageOffset qualifying slots. An empty result means fully booked within
// the horizon. Equal inputs always produce equal output.
func AvailableSlots(hours clinic.BusinessHours, booked BookedSet, opts Options) []time.Time {
	opts = opts.withDefaults()
	if opts.Count <= 0 {
		return nil
	}

	loc := opts.Location
	now := opts.Now.In(loc)
	earliest := now.Add(opts.MinLeadTime)
	step := int(opts.Granularity / time.Minute)
	length := int((opts.Duration + time.Minute - 1) / time.Minute)

	slots := make([]time.Time, 0, opts.Count)
	skipped := 0
	for i := 0; i < opts.HorizonDays; i++ {
		day := time.Date(now.Year(), now.Month(), now.Day()+i, 0, 0, 0, 0, loc)
		opensAt, closesAt, ok := hours.GetHoursForDay(day.Weekday()).Minutes()
		if !ok {
			continue
		}
		for m := opensAt; m+length <= closesAt; m += step {
			slot := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, loc)
			if slot.Before(earliest) {
				continue
			}
			if booked.Has(slot) {
				continue
			}
			if skipped < opts.PageOffset {
				skipped++
				continue
			}
			slots = append(slots, slot)
			if len(slots) == opts.Count {
				return slots
			}
		}
	}
	return slots
}

// Format renders a slot for SMS display, e.g. "Wed Oct 21 at 9:30 AM".
func Format(t time.Time) string {
	return t.Format("Mon Jan 2 at 3:04 PM")
}

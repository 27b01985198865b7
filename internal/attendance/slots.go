// Package attendance records per-slot presence and answers present/absent queries.
package attendance

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Slots is the fixed daily schedule. Exports and queries are keyed by these labels.
var Slots = []string{"09:00", "10:00", "11:00", "12:00", "13:35", "14:25", "15:35"}

// SlotDuration is the length of the window that maps a timestamp to a slot.
const SlotDuration = time.Hour

// DateLayout is the layout of the date part of a record key.
const DateLayout = "2006-01-02"

var (
	ErrUnknownSlot     = errors.New("unknown slot")
	ErrInvalidDate     = errors.New("invalid date")
	ErrOutsideSchedule = errors.New("time is outside the class schedule")
	errEmptyRoll       = errors.New("roll is required")
)

var slotOffsets = mustSlotOffsets()

func mustSlotOffsets() []time.Duration {
	out := make([]time.Duration, len(Slots))
	for i, s := range Slots {
		t, err := time.Parse("15:04", s)
		if err != nil {
			panic(fmt.Sprintf("invalid slot label %q: %v", s, err))
		}
		out[i] = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	}
	return out
}

// IsSlot reports whether s is one of the schedule labels.
func IsSlot(s string) bool {
	return slices.Contains(Slots, s)
}

// ValidateSlot returns ErrUnknownSlot for labels outside the schedule.
func ValidateSlot(s string) error {
	if !IsSlot(s) {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, s)
	}
	return nil
}

// ParseDate parses a 2006-01-02 date in the local time zone.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// FormatDate formats t as a record date in t's own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// SlotAt maps a timestamp to the slot whose window [start, start+SlotDuration)
// contains it. When windows overlap the later-starting slot wins.
func SlotAt(t time.Time) (string, error) {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := t.Sub(midnight)
	for i := len(Slots) - 1; i >= 0; i-- {
		start := slotOffsets[i]
		if offset >= start && offset < start+SlotDuration {
			return Slots[i], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideSchedule, t.Format("15:04"))
}

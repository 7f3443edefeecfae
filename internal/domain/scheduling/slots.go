package scheduling

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/hms/hms/internal/platform/apperr"
)

// DefaultSlotInterval is the spacing of bookable slots.
const DefaultSlotInterval = 15 * time.Minute

// Clock is a time of day in minutes after midnight.
type Clock int

// ParseClock parses a 24-hour "HH:MM" time.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, apperr.Invalid("invalid time %q, expected HH:MM", s)
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM || h > 23 || m > 59 {
		return 0, apperr.Invalid("invalid time %q, expected HH:MM", s)
	}
	return Clock(h*60 + m), nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// GenerateSlots yields the slot labels in [start, end) spaced by interval.
// The sequence is empty when start >= end or interval is under a minute.
func GenerateSlots(start, end Clock, interval time.Duration) iter.Seq[string] {
	step := Clock(interval / time.Minute)
	return func(yield func(string) bool) {
		if step <= 0 {
			return
		}
		for t := start; t < end; t += step {
			if !yield(t.String()) {
				return
			}
		}
	}
}

// SlotsBetween is GenerateSlots for "HH:MM" bounds.
func SlotsBetween(start, end string, interval time.Duration) (iter.Seq[string], error) {
	s, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	return GenerateSlots(s, e, interval), nil
}

// SlotsFor returns the full slot grid of one OPD timing.
func SlotsFor(t OPDTiming, interval time.Duration) ([]string, error) {
	seq, err := SlotsBetween(t.StartTime, t.EndTime, interval)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

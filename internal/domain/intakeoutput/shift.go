package intakeoutput

import (
	"fmt"
	"strconv"
	"strings"
)

// HoursPerDay is the width of one flowsheet day.
const HoursPerDay = 24

// HoursPerShift is the width of one nursing shift.
const HoursPerShift = 12

// Shift is a fixed 12-hour nursing period.
type Shift string

const (
	// ShiftNight covers 19:00 through 06:59 and wraps across midnight.
	ShiftNight Shift = "night"
	// ShiftDay covers 07:00 through 18:59.
	ShiftDay Shift = "day"
)

const (
	dayShiftStart   = 7
	nightShiftStart = 19
)

var (
	nightHours = [HoursPerShift]int{19, 20, 21, 22, 23, 0, 1, 2, 3, 4, 5, 6}
	dayHours   = [HoursPerShift]int{7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}
)

// Shifts returns the shifts in flowsheet order. The flowsheet day opens with
// the night shift at 19:00.
func Shifts() []Shift {
	return []Shift{ShiftNight, ShiftDay}
}

// ParseShift accepts "night" or "day" in any case.
func ParseShift(s string) (Shift, error) {
	switch Shift(strings.ToLower(strings.TrimSpace(s))) {
	case ShiftNight:
		return ShiftNight, nil
	case ShiftDay:
		return ShiftDay, nil
	}
	return "", fmt.Errorf("invalid shift: %q", s)
}

// Hours returns the shift's hours in clock order. Night starts at 19 and
// wraps to 6.
func (s Shift) Hours() []int {
	switch s {
	case ShiftNight:
		return append([]int(nil), nightHours[:]...)
	case ShiftDay:
		return append([]int(nil), dayHours[:]...)
	}
	return nil
}

// Label is the column heading used by the grid.
func (s Shift) Label() string {
	switch s {
	case ShiftNight:
		return "Night"
	case ShiftDay:
		return "Day"
	}
	return string(s)
}

// ShiftForHour returns the shift that owns hour. The caller must pass a
// valid hour.
func ShiftForHour(hour int) Shift {
	if hour >= dayShiftStart && hour < nightShiftStart {
		return ShiftDay
	}
	return ShiftNight
}

// FlowsheetHours returns all 24 hours in flowsheet column order: 19..23,
// 0..6, 7..18.
func FlowsheetHours() []int {
	out := make([]int, 0, HoursPerDay)
	for _, s := range Shifts() {
		out = append(out, s.Hours()...)
	}
	return out
}

// ValidHour reports whether hour is in [0, 23].
func ValidHour(hour int) bool {
	return hour >= 0 && hour < HoursPerDay
}

// ParseClockHour turns an "HH:MM" or "HH" clock time into its hour bucket.
// Minutes are truncated.
func ParseClockHour(clock string) (int, error) {
	clock = strings.TrimSpace(clock)
	hh, mm, hasMinutes := strings.Cut(clock, ":")
	if len(hh) == 0 || len(hh) > 2 || !allDigits(hh) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHour, clock)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHour, clock)
	}
	if hasMinutes {
		if len(mm) != 2 || !allDigits(mm) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHour, clock)
		}
		min, err := strconv.Atoi(mm)
		if err != nil || min > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHour, clock)
		}
	}
	if !ValidHour(hour) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	return hour, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

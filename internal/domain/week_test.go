package domain

import (
	"errors"
	"testing"
	"time"
)

func TestWeekID(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want string
	}{
		{"MidYear", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC), "2026-W35"},
		{"SingleDigitWeek", time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC), "2026-W02"},
		// Jan 1 2027 falls in ISO week 53 of 2026.
		{"YearBoundary", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), "2026-W53"},
		// Dec 29 2025 belongs to week 1 of 2026.
		{"LateDecemberRollsForward", time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC), "2026-W01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeekID(tt.time); got != tt.want {
				t.Errorf("WeekID(%v) = %q, want %q", tt.time, got, tt.want)
			}
		})
	}
}

func TestValidateWeekID(t *testing.T) {
	valid := []string{"2026-W01", "2026-W35", "2026-W53", "1999-W52"}
	for _, weekID := range valid {
		if err := ValidateWeekID(weekID); err != nil {
			t.Errorf("ValidateWeekID(%q) = %v, want nil", weekID, err)
		}
	}

	invalid := []string{
		"",
		"2026-35",
		"2026W35",
		"26-W35",
		"2026-W5",
		"2026-W355",
		"2026-w35",
		"2026-W00",
		"2026-W54",
		"week 35",
	}
	for _, weekID := range invalid {
		err := ValidateWeekID(weekID)
		if err == nil {
			t.Errorf("ValidateWeekID(%q) = nil, want error", weekID)
			continue
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateWeekID(%q) = %v, want ErrValidation", weekID, err)
		}
	}
}

// WeekID output must always pass its own validator.
func TestWeekIDRoundTrip(t *testing.T) {
	for d := 0; d < 370; d += 7 {
		at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
		weekID := WeekID(at)
		if err := ValidateWeekID(weekID); err != nil {
			t.Errorf("WeekID(%v) produced invalid id %q: %v", at, weekID, err)
		}
	}
}

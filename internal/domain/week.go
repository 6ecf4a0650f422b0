package domain

import (
	"fmt"
	"regexp"
	"time"
)

var weekIDPattern = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)

// WeekID formats a time as an ISO 8601 week identifier, YYYY-Www.
func WeekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// ValidateWeekID checks the YYYY-Www shape and week range.
func ValidateWeekID(weekID string) error {
	m := weekIDPattern.FindStringSubmatch(weekID)
	if m == nil {
		return fmt.Errorf("%w: week id %q must match YYYY-Www", ErrValidation, weekID)
	}
	var week int
	fmt.Sscanf(m[2], "%d", &week)
	if week < 1 || week > 53 {
		return fmt.Errorf("%w: week number %d out of range", ErrValidation, week)
	}
	return nil
}

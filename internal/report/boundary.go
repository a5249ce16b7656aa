package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Boundary is the first day of a tax year, in a reporting time zone. A tax year is
// labelled by the calendar year in which it starts.
type Boundary struct {
	Month    time.Month
	Day      int
	Location *time.Location
}

// CalendarYear is the January 1 UTC boundary.
func CalendarYear() Boundary {
	return Boundary{Month: time.January, Day: 1, Location: time.UTC}
}

// ParseBoundary parses a boundary in MM-DD form. An empty tz means UTC.
func ParseBoundary(monthDay, tz string) (Boundary, error) {
	monthDay = strings.TrimSpace(monthDay)
	if monthDay == "" {
		monthDay = "01-01"
	}
	mm, dd, ok := strings.Cut(monthDay, "-")
	if !ok {
		return Boundary{}, fmt.Errorf("invalid tax year start %q: want MM-DD", monthDay)
	}
	month, err := strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return Boundary{}, fmt.Errorf("invalid tax year start month %q", mm)
	}
	day, err := strconv.Atoi(dd)
	if err != nil || day < 1 {
		return Boundary{}, fmt.Errorf("invalid tax year start day %q", dd)
	}
	// Reject days that do not exist every year, Feb 29 included.
	if probe := time.Date(2001, time.Month(month), day, 0, 0, 0, 0, time.UTC); probe.Month() != time.Month(month) {
		return Boundary{}, fmt.Errorf("invalid tax year start %q", monthDay)
	}

	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Boundary{}, fmt.Errorf("load tax time zone: %w", err)
		}
	}
	return Boundary{Month: time.Month(month), Day: day, Location: loc}, nil
}

func (b Boundary) location() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}

// Start returns the instant the tax year labelled year begins.
func (b Boundary) Start(year int) time.Time {
	return time.Date(year, b.Month, b.Day, 0, 0, 0, 0, b.location())
}

// YearOf returns the label of the tax year containing t.
func (b Boundary) YearOf(t time.Time) int {
	local := t.In(b.location())
	if local.Before(b.Start(local.Year())) {
		return local.Year() - 1
	}
	return local.Year()
}

func (b Boundary) String() string {
	return fmt.Sprintf("%02d-%02d %s", int(b.Month), b.Day, b.location())
}

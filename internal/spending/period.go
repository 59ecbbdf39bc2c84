package spending

import (
	"fmt"
	"strconv"
	"time"
)

// Period identifies a calendar month.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// PeriodOf returns the period containing t
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod builds a Period from query-string style year and month values.
func ParsePeriod(year, month string) (Period, error) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1 || y > 9999 {
		return Period{}, fmt.Errorf("invalid year %q", year)
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return Period{}, fmt.Errorf("invalid month %q", month)
	}
	return Period{Year: y, Month: time.Month(m)}, nil
}

// Range returns the half-open interval [start, end) covering the month in UTC.
// end is the first instant of the following month and must be excluded by callers.
func (p Period) Range() (start, end time.Time) {
	start = time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Previous returns the immediately preceding month, wrapping January to December.
func (p Period) Previous() Period {
	start, _ := p.Range()
	return PeriodOf(start.AddDate(0, -1, 0))
}

// Contains reports whether the calendar date of t falls inside the period
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

// String formats the period as YYYY-MM
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Label formats the period for display, e.g. "March 2024"
func (p Period) Label() string {
	return fmt.Sprintf("%s %d", p.Month, p.Year)
}

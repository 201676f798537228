package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date (leave is booked in whole days)
// =============================================================================

const DateLayout = "2006-01-02"

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping its calendar date.
func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func Today() TimePoint {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return TimePoint{Time: t}, nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.normalize().AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsWeekend() bool       { wd := tp.Weekday(); return wd == time.Saturday || wd == time.Sunday }
func (tp TimePoint) IsWorkday() bool       { return !tp.IsWeekend() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format(DateLayout)
}

// =============================================================================
// BUSINESS DAYS
// =============================================================================

// CountBusinessDays counts the weekdays in [start, end], both inclusive.
// A weekend-only or inverted range yields 0. The same function sizes the
// debit at submission and the credit on rejection, so the two always match.
func CountBusinessDays(start, end TimePoint) int {
	count := 0
	for d := start.AddDays(0); d.BeforeOrEqual(end); d = d.AddDays(1) {
		if d.IsWorkday() {
			count++
		}
	}
	return count
}

// BusinessDays lists the weekdays in [start, end].
func BusinessDays(start, end TimePoint) []TimePoint {
	var days []TimePoint
	for d := start.AddDays(0); d.BeforeOrEqual(end); d = d.AddDays(1) {
		if d.IsWorkday() {
			days = append(days, d)
		}
	}
	return days
}

// Covers reports whether day falls inside [start, end].
func Covers(start, end, day TimePoint) bool {
	return start.BeforeOrEqual(day) && day.BeforeOrEqual(end)
}

// Package recurrence resolves abstract recurrence rules ("third Friday",
// "business day before the 25th") into concrete timestamps. Calculations are
// pure date arithmetic over a proleptic Gregorian calendar with a fixed
// Saturday/Sunday weekend. Public holidays are not modeled, so resolved dates
// can be off by under a day around holidays.
package recurrence

import (
	"fmt"
	"time"
)

// Kind selects the calculation a Rule performs.
type Kind string

const (
	// KindNthWeekday resolves to the Nth occurrence of a weekday in the month
	// (e.g. third Friday). A missing fifth occurrence clamps to the last one.
	KindNthWeekday Kind = "nth_weekday"

	// KindFixedDay resolves to a fixed day of the month, adjusted back to the
	// preceding business day when it lands on a weekend, then stepped back
	// Offset further business days.
	KindFixedDay Kind = "fixed_day"

	// KindLastBusinessDay resolves to the Nth-from-last business day of the
	// month (Offset 0 means the last business day).
	KindLastBusinessDay Kind = "last_business_day"

	// KindBusinessDaysBeforeNthWeekday resolves to Offset business days before
	// the Nth occurrence of a weekday (e.g. second business day before the
	// third Wednesday, used for currency-future rolls).
	KindBusinessDaysBeforeNthWeekday Kind = "business_days_before_nth_weekday"
)

// Rule describes one recurring monthly date.
type Rule struct {
	Kind    Kind         `yaml:"kind" json:"kind"`
	Weekday time.Weekday `yaml:"weekday" json:"weekday"` // nth_weekday kinds
	Ordinal int          `yaml:"ordinal" json:"ordinal"` // 1..5, nth_weekday kinds
	Day     int          `yaml:"day" json:"day"`         // 1..31, fixed_day
	Offset  int          `yaml:"offset" json:"offset"`   // business days back
	Hour    int          `yaml:"hour" json:"hour"`       // release time of day, UTC
	Minute  int          `yaml:"minute" json:"minute"`
}

// Validate reports invalid-configuration errors. An unknown kind or an
// out-of-range field is a programming error and should fail startup.
func (r Rule) Validate() error {
	switch r.Kind {
	case KindNthWeekday, KindBusinessDaysBeforeNthWeekday:
		if r.Ordinal < 1 || r.Ordinal > 5 {
			return fmt.Errorf("rule %s: ordinal %d out of range 1..5", r.Kind, r.Ordinal)
		}
	case KindFixedDay:
		if r.Day < 1 || r.Day > 31 {
			return fmt.Errorf("rule %s: day %d out of range 1..31", r.Kind, r.Day)
		}
	case KindLastBusinessDay:
		// offset checked below
	case "":
		return fmt.Errorf("rule kind is empty")
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	if r.Offset < 0 {
		return fmt.Errorf("rule %s: negative offset %d", r.Kind, r.Offset)
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("rule %s: release time %02d:%02d out of range", r.Kind, r.Hour, r.Minute)
	}
	return nil
}

// Resolve computes the rule's concrete timestamp for one year/month.
// Identical inputs always produce identical output.
func Resolve(r Rule, year int, month time.Month) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}

	var day time.Time
	switch r.Kind {
	case KindNthWeekday:
		day = nthWeekday(year, month, r.Weekday, r.Ordinal)

	case KindFixedDay:
		d := r.Day
		if max := daysInMonth(year, month); d > max {
			d = max
		}
		day = time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
		if !isBusinessDay(day) {
			day = prevBusinessDay(day)
		}
		day = subBusinessDays(day, r.Offset)

	case KindLastBusinessDay:
		day = prevBusinessDayOrSelf(time.Date(year, month, daysInMonth(year, month), 0, 0, 0, 0, time.UTC))
		day = subBusinessDays(day, r.Offset)

	case KindBusinessDaysBeforeNthWeekday:
		day = nthWeekday(year, month, r.Weekday, r.Ordinal)
		day = subBusinessDays(day, r.Offset)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), r.Hour, r.Minute, 0, 0, time.UTC), nil
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// prevBusinessDay steps strictly back to the nearest earlier business day.
func prevBusinessDay(t time.Time) time.Time {
	for {
		t = t.AddDate(0, 0, -1)
		if isBusinessDay(t) {
			return t
		}
	}
}

func prevBusinessDayOrSelf(t time.Time) time.Time {
	if isBusinessDay(t) {
		return t
	}
	return prevBusinessDay(t)
}

// subBusinessDays steps back n business days from a business day.
func subBusinessDays(t time.Time, n int) time.Time {
	for i := 0; i < n; i++ {
		t = prevBusinessDay(t)
	}
	return t
}

// nthWeekday returns the Nth occurrence of wd in the month. When the month
// has no Nth occurrence the last one is returned instead.
func nthWeekday(year int, month time.Month, wd time.Weekday, ordinal int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	day := 1 + int(wd-first.Weekday()+7)%7
	day += 7 * (ordinal - 1)
	for day > daysInMonth(year, month) {
		day -= 7
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

package campaign

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const dateLayout = "02.01.2006"

var datePattern = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)

var (
	ErrDateFormat   = errors.New("date must look like DD.MM.YYYY")
	ErrDateInvalid  = errors.New("not a real calendar date")
)

// Date is a calendar day with no time component. The zero value means
// "never" and matches no wall-clock date; it is what a campaign is left
// with after it has fired.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate accepts exactly DD.MM.YYYY and rejects impossible dates.
func ParseDate(s string) (Date, error) {
	if !datePattern.MatchString(s) {
		return Date{}, ErrDateFormat
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, ErrDateInvalid
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// IsZero reports whether the date is the "never" sentinel.
func (d Date) IsZero() bool { return d == Date{} }

// Matches reports whether t falls on this calendar day.
func (d Date) Matches(t time.Time) bool {
	if d.IsZero() {
		return false
	}
	y, m, day := t.Date()
	return d.Year == y && d.Month == m && d.Day == day
}

func (d Date) String() string {
	if d.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%02d.%02d.%04d", d.Day, int(d.Month), d.Year)
}

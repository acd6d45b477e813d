package consultation

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Age is an exact calendar age. IsFuture marks a date of birth after the
// reference date; the other fields are zero in that case and must not be
// shown as an age.
type Age struct {
	Years    int  `json:"years"`
	Months   int  `json:"months"`
	Days     int  `json:"days"`
	IsFuture bool `json:"is_future"`
}

func (a Age) String() string {
	if a.IsFuture {
		return "date of birth is in the future"
	}
	return fmt.Sprintf("%d years %d months %d days", a.Years, a.Months, a.Days)
}

// CalculateAge breaks the span between dob and now into whole years, then
// whole months past that anniversary, then the remaining days. Anniversaries
// are always counted from dob itself, so a 29 February birthday never yields
// a twelve month remainder. Only the calendar date of each argument is used.
func CalculateAge(dob, now time.Time) Age {
	dob = dateOnly(dob)
	now = dateOnly(now)
	if dob.After(now) {
		return Age{IsFuture: true}
	}

	months := (now.Year()-dob.Year())*12 + int(now.Month()) - int(dob.Month())
	if addMonthsClamped(dob, months).After(now) {
		months--
	}
	anchor := addMonthsClamped(dob, months)

	days := int(now.Sub(anchor).Hours() / 24)
	return Age{Years: months / 12, Months: months % 12, Days: days}
}

// ParseDate accepts YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, invalidInput("date %q must be YYYY-MM-DD", s)
	}
	return t, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// addMonthsClamped moves t by n months, pinning the day to the last day of
// the target month instead of overflowing into the next one.
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	day := t.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

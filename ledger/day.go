package ledger

import "time"

// Day truncates t to the start of its calendar day in UTC.
// Ledger dates (opened-on, due-on, closed-on, "today") are always Days.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the Day n calendar days after day.
func AddDays(day time.Time, n int) time.Time {
	return Day(day).AddDate(0, 0, n)
}

// DaysBetween returns the number of whole calendar days from "from" to "to".
// It is negative when "to" is before "from".
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// ParseDay parses a YYYY-MM-DD date into a Day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}

	return Day(t), nil
}

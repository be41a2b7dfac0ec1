package remote

import (
	"time"
)

// DateTimeLayout is the API's date-time format: "YYYY/MM/DD HH:mm:ss".
const DateTimeLayout = "2006/01/02 15:04:05"

// FormatDateTime renders t in the API format, in t's own location.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// FormatMidnight renders the calendar date of t at 00:00:00.
func FormatMidnight(t time.Time) string {
	return Midnight(t).Format(DateTimeLayout)
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDateTime parses an API date-time in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateTimeLayout, s, loc)
}

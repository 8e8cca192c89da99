// Package dates normalizes the date shapes the Acessórias API mixes
// freely: ISO timestamps, `YYYY-MM-DD HH:MM:SS`, bare dates, and the
// Brazilian DD/MM/YYYY form.
package dates

import (
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// Parse attempts every known layout; the zero time plus false means
// the value was not a date. Callers keep the previous value on failure
// rather than nulling it.
func Parse(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ToISODate reduces any parsable date value to YYYY-MM-DD.
func ToISODate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, ok := Parse(value); ok {
		return t.Format("2006-01-02")
	}
	// Already ISO-shaped but with an unparsed suffix.
	if len(value) >= 10 && value[4] == '-' && value[7] == '-' {
		return value[:10]
	}
	return ""
}

// Competence truncates an ISO date to its year-month, the competency
// period a tax obligation legally applies to.
func Competence(isoDate string) string {
	if len(isoDate) < 7 {
		return ""
	}
	return isoDate[:7]
}

// CompetenceOf is Competence over a time value.
func CompetenceOf(t time.Time) string {
	return t.Format("2006-01")
}

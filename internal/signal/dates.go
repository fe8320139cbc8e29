package signal

import "time"

const dateLayout = "2006-01-02"

// parseDate accepts ISO dates or RFC3339 timestamps. Anything else reports
// false; malformed dates are absent information, never "now" or year zero.
func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return dayStart(t), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return dayStart(t), true
	}
	return time.Time{}, false
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

package signal

import (
	"math"
	"time"

	"flowline/internal/domain"
)

const momentumWindowDays = 7

// MomentumTone grades logging coverage over the trailing week: hours logged
// against the roster's weekly capacity. Entries with unparsable dates are
// ignored. An empty roster reads green; with nobody to log, silence is not a
// drift signal.
func MomentumTone(team []domain.TeamMember, entries []domain.TimeEntry, today time.Time, redBelowPct, amberBelowPct int) Tone {
	today = dayStart(today)
	var weekly float64
	for _, m := range team {
		weekly += m.MonthlyCapacityHours / 30 * momentumWindowDays
	}
	if weekly <= 0 {
		return ToneGreen
	}
	windowStart := today.AddDate(0, 0, -momentumWindowDays)
	var logged float64
	for _, e := range entries {
		d, ok := parseDate(e.Date)
		if !ok {
			continue
		}
		if d.Before(windowStart) || d.After(today) {
			continue
		}
		logged += e.Hours
	}
	coverage := int(math.Round(logged / weekly * 100))
	switch {
	case coverage < redBelowPct:
		return ToneRed
	case coverage < amberBelowPct:
		return ToneAmber
	default:
		return ToneGreen
	}
}

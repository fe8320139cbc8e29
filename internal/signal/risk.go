package signal

import (
	"sort"
	"time"

	"flowline/internal/domain"
)

// JobRisk is one job's at-risk rollup. Severity is 3 for genuine drift
// (overdue, overrun, low confidence) and 2 when only pace is red; jobs that
// would score 0 never appear.
type JobRisk struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
	Client  string `json:"client,omitempty"`

	Severity        int                     `json:"severity" enum:"2,3"`
	Deliverables    []ClassifiedDeliverable `json:"deliverables"`
	ReviewedCount   int                     `json:"reviewed_count"`
	UnreviewedCount int                     `json:"unreviewed_count"`
	NextPainDate    string                  `json:"next_pain_date,omitempty" format:"date"`
	DriverChips     []ReasonChip            `json:"driver_chips,omitempty"`
}

// JobRiskSummary are the headline counts over the rollup.
type JobRiskSummary struct {
	Total          int `json:"total"`
	FullyReviewed  int `json:"fully_reviewed"`
	NeedsAttention int `json:"needs_attention"`
}

// RiskOptions tune the rollup horizon.
type RiskOptions struct {
	HorizonDays int
	Today       time.Time
}

const (
	defaultRiskHorizonDays = 30
	maxDriverChips         = 4
)

// BuildJobsAtRisk groups at-risk deliverables by job and orders the result by
// urgency: unreviewed first, then severity, then next pain date, then name.
func BuildJobsAtRisk(opts RiskOptions, jobs []domain.Job, deliverables []ClassifiedDeliverable) ([]JobRisk, JobRiskSummary) {
	horizonDays := opts.HorizonDays
	if horizonDays <= 0 {
		horizonDays = defaultRiskHorizonDays
	}
	today := dayStart(opts.Today)
	horizonEnd := today.AddDate(0, 0, horizonDays)

	jobsByID := map[string]domain.Job{}
	for _, j := range jobs {
		jobsByID[j.ID] = j
	}

	buckets := map[string]*JobRisk{}
	order := []string{}
	for _, d := range deliverables {
		due, ok := parseDate(d.Due)
		if !ok || d.Status == "completed" {
			continue
		}
		inWindow := !due.Before(today) && due.Before(horizonEnd)
		if !inWindow && !d.Overdue {
			continue
		}
		hardRisk := d.Overdue || d.EffortOver || d.TimelineOver || d.LowConfidence
		if !hardRisk && d.PaceTone != ToneRed {
			continue
		}
		job, ok := jobsByID[d.JobID]
		if !ok {
			// Orphaned deliverables are skipped, not fatal.
			continue
		}
		b, ok := buckets[job.ID]
		if !ok {
			b = &JobRisk{JobID: job.ID, JobName: job.Name, Client: job.Client, Severity: 2}
			buckets[job.ID] = b
			order = append(order, job.ID)
		}
		b.Deliverables = append(b.Deliverables, d)
		if hardRisk {
			b.Severity = 3
		}
		if d.Reviewed != nil {
			b.ReviewedCount++
		} else {
			b.UnreviewedCount++
		}
		if b.NextPainDate == "" {
			b.NextPainDate = d.Due
		} else if cur, ok := parseDate(b.NextPainDate); ok && due.Before(cur) {
			b.NextPainDate = d.Due
		}
		for _, chip := range d.Reasons {
			addDriverChip(b, chip)
		}
	}

	out := make([]JobRisk, 0, len(order))
	for _, id := range order {
		out = append(out, *buckets[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aUnreviewed := a.UnreviewedCount > 0
		bUnreviewed := b.UnreviewedCount > 0
		if aUnreviewed != bUnreviewed {
			return aUnreviewed
		}
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		da, aok := parseDate(a.NextPainDate)
		db, bok := parseDate(b.NextPainDate)
		switch {
		case aok && bok && !da.Equal(db):
			return da.Before(db)
		case aok != bok:
			return aok
		}
		return a.JobName < b.JobName
	})

	summary := JobRiskSummary{Total: len(out)}
	for _, j := range out {
		if j.UnreviewedCount == 0 {
			summary.FullyReviewed++
		} else {
			summary.NeedsAttention++
		}
	}
	return out, summary
}

func addDriverChip(b *JobRisk, chip ReasonChip) {
	if len(b.DriverChips) >= maxDriverChips {
		return
	}
	for _, c := range b.DriverChips {
		if c.ID == chip.ID {
			return
		}
	}
	b.DriverChips = append(b.DriverChips, chip)
}

package signal

import (
	"time"

	"flowline/internal/domain"
	"flowline/internal/override"
)

// Reason chip ids, in the fixed evaluation order. The order is load-bearing:
// chips render and sort by first-seen position.
const (
	ReasonOverdue       = "overdue"
	ReasonDueSoon       = "due-soon"
	ReasonEffortOver    = "effort-over"
	ReasonTimelineOver  = "timeline-over"
	ReasonLowConfidence = "low-confidence"
	ReasonNeedsCheckIn  = "needs-check-in"
	ReasonDateMoved     = "date-moved"
)

var reasonLabels = map[string]string{
	ReasonOverdue:       "Overdue",
	ReasonDueSoon:       "Due soon",
	ReasonEffortOver:    "Effort over",
	ReasonTimelineOver:  "Timeline over",
	ReasonLowConfidence: "Low confidence",
	ReasonNeedsCheckIn:  "Needs check-in",
	ReasonDateMoved:     "Date moved",
}

// ReasonChip is one display chip on an at-risk deliverable.
type ReasonChip struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ClassifiedDeliverable is a deliverable with all risk flags derived.
type ClassifiedDeliverable struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	JobID   string `json:"job_id"`
	JobName string `json:"job_name,omitempty"`

	// Effective values after the override merge.
	Due        string `json:"due,omitempty" format:"date"`
	Status     string `json:"status" enum:"in-progress,backlog,completed"`
	Confidence string `json:"confidence,omitempty" enum:"high,medium,low"`

	EffortPct   float64 `json:"effort_pct"`
	TimelinePct float64 `json:"timeline_pct"`

	Overdue       bool `json:"overdue"`
	DueSoon       bool `json:"due_soon"`
	EffortOver    bool `json:"effort_over"`
	TimelineOver  bool `json:"timeline_over"`
	LowConfidence bool `json:"low_confidence"`
	NeedsCheckIn  bool `json:"needs_check_in"`
	AtRisk        bool `json:"at_risk"`
	DateMoved     bool `json:"date_moved"`

	Reasons []ReasonChip `json:"reasons,omitempty"`

	// Reviewed is the live acknowledgement, nil once drift voids it.
	// ReviewCleared marks an acknowledgement this pass invalidated; the caller
	// owns persisting the cleared record.
	Reviewed      *override.Review `json:"reviewed,omitempty"`
	ReviewCleared bool             `json:"review_cleared,omitempty"`

	PaceTone     Tone    `json:"pace_tone"`
	ChangeOrders int     `json:"change_orders,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date"`
}

// ClassifyOptions tune the classifier. Zero values fall back to defaults.
type ClassifyOptions struct {
	Today       time.Time
	DueSoonDays int
}

const (
	defaultDueSoonDays = 7
	checkInMinPct      = 85
	checkInMaxPct      = 100
)

// Classify derives the risk flags for one deliverable. Pure: same inputs and
// today always produce the same classification.
func Classify(d domain.Deliverable, job domain.Job, rec override.Record, opts ClassifyOptions) ClassifiedDeliverable {
	today := dayStart(opts.Today)
	dueSoonDays := opts.DueSoonDays
	if dueSoonDays <= 0 {
		dueSoonDays = defaultDueSoonDays
	}

	eff := override.Merge(d, rec)
	status := normalizeStatus(eff.Status)
	completed := status == "completed"

	out := ClassifiedDeliverable{
		ID:           d.ID,
		Name:         d.Name,
		JobID:        d.JobID,
		JobName:      job.Name,
		Due:          eff.Due,
		Status:       status,
		Confidence:   eff.Confidence,
		EffortPct:    flooredPct(d.EffortConsumedPct),
		TimelinePct:  flooredPct(d.DurationConsumedPct),
		DateMoved:    eff.DateMoved,
		PaceTone:     ParseTone(d.PaceTone),
		ChangeOrders: eff.ChangeOrder,
		CompletedAt:  d.CompletedAt,
	}

	if due, ok := parseDate(eff.Due); ok {
		out.Overdue = due.Before(today) && !completed
		if !out.Overdue {
			horizon := today.AddDate(0, 0, dueSoonDays)
			out.DueSoon = !due.Before(today) && !due.After(horizon)
		}
	}

	out.EffortOver = out.EffortPct > 100
	out.TimelineOver = out.TimelinePct > 100
	out.LowConfidence = eff.Confidence == "low"
	out.NeedsCheckIn = eff.Confidence == "" &&
		(inCheckInBand(out.EffortPct) || inCheckInBand(out.TimelinePct))
	out.AtRisk = !completed && (out.Overdue || out.EffortOver || out.TimelineOver || out.LowConfidence)

	for _, cond := range []struct {
		on bool
		id string
	}{
		{out.Overdue, ReasonOverdue},
		{out.DueSoon, ReasonDueSoon},
		{out.EffortOver, ReasonEffortOver},
		{out.TimelineOver, ReasonTimelineOver},
		{out.LowConfidence, ReasonLowConfidence},
		{out.NeedsCheckIn, ReasonNeedsCheckIn},
		{out.DateMoved, ReasonDateMoved},
	} {
		if cond.on {
			out.Reasons = append(out.Reasons, ReasonChip{ID: cond.id, Label: reasonLabels[cond.id]})
		}
	}

	if rec.Reviewed != nil {
		current := out.ReviewSnapshot()
		if current == rec.Reviewed.Snapshot {
			out.Reviewed = rec.Reviewed
		} else {
			out.ReviewCleared = true
		}
	}
	return out
}

// ReviewSnapshot captures the five fields a review acknowledgement is pinned
// to. Tracked-field additions happen here and nowhere else.
func (c ClassifiedDeliverable) ReviewSnapshot() override.ReviewSnapshot {
	return override.ReviewSnapshot{
		Due:          c.Due,
		Overdue:      c.Overdue,
		EffortOver:   c.EffortOver,
		TimelineOver: c.TimelineOver,
		Confidence:   c.Confidence,
	}
}

func normalizeStatus(s string) string {
	switch s {
	case "completed", "done":
		return "completed"
	case "backlog", "planned", "todo":
		return "backlog"
	default:
		return "in-progress"
	}
}

func flooredPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func inCheckInBand(pct float64) bool {
	return pct >= checkInMinPct && pct <= checkInMaxPct
}

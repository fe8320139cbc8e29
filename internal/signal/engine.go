package signal

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"flowline/internal/config"
	"flowline/internal/domain"
	"flowline/internal/override"
	"flowline/internal/snapshot"
)

// Engine wires the pure signal pipeline to an override store and a clock.
// Every read recomputes from the snapshot it is handed; the only state the
// engine touches is the override store, and the only write it initiates on a
// read path is persisting a review acknowledgement the classifier voided.
type Engine struct {
	Config    *config.Config
	Overrides override.Store
	Now       func() time.Time
	Logger    *log.Logger
}

func New(cfg *config.Config, store override.Store) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Config:    cfg,
		Overrides: store,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Today resolves an optional ISO date override against the injected clock.
func (e Engine) Today(todayOverride string) (time.Time, error) {
	if todayOverride == "" {
		return dayStart(e.now()), nil
	}
	t, ok := parseDate(todayOverride)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid today override %q (want YYYY-MM-DD)", todayOverride)
	}
	return t, nil
}

// Dashboard is the full derived picture the presentation layer renders.
type Dashboard struct {
	Today          string                  `json:"today" format:"date"`
	Deliverables   []ClassifiedDeliverable `json:"deliverables"`
	Forecast       CapacityForecast        `json:"forecast"`
	JobsAtRisk     []JobRisk               `json:"jobs_at_risk"`
	RiskSummary    JobRiskSummary          `json:"risk_summary"`
	Tones          SignalTones             `json:"tones"`
	Flow           FlowScore               `json:"flow"`
	ClearedReviews []string                `json:"cleared_reviews,omitempty"`
}

// Classified classifies every deliverable in the snapshot against its
// override record. Acknowledgements voided by drift are persisted cleared
// before returning.
func (e Engine) Classified(ctx context.Context, snap snapshot.Snapshot, today time.Time) ([]ClassifiedDeliverable, error) {
	records, err := e.Overrides.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	jobs := map[string]domain.Job{}
	for _, j := range snap.Jobs {
		jobs[j.ID] = j
	}
	opts := ClassifyOptions{Today: today, DueSoonDays: e.Config.Horizon.DueSoonDays}
	out := make([]ClassifiedDeliverable, 0, len(snap.Deliverables))
	for _, d := range snap.Deliverables {
		c := Classify(d, jobs[d.JobID], records[d.ID], opts)
		if c.ReviewCleared {
			rec := records[d.ID]
			rec.Reviewed = nil
			if err := e.Overrides.Set(ctx, d.ID, rec); err != nil {
				return nil, fmt.Errorf("clear stale review for %s: %w", d.ID, err)
			}
			e.logger().Printf("review acknowledgement for deliverable %s is stale; cleared", d.ID)
		}
		out = append(out, c)
	}
	return out, nil
}

// Forecast builds the capacity forecast for the configured horizon.
// horizonDays <= 0 uses the configured default.
func (e Engine) Forecast(ctx context.Context, snap snapshot.Snapshot, today time.Time, horizonDays int) (CapacityForecast, error) {
	classified, err := e.Classified(ctx, snap, today)
	if err != nil {
		return CapacityForecast{}, err
	}
	if horizonDays <= 0 {
		horizonDays = e.Config.Horizon.ForecastDays
	}
	opts := ForecastOptions{HorizonDays: horizonDays, Today: today}
	return BuildCapacityForecast(opts, snap.Team, snap.ServiceTypes, classified, snap.Tasks), nil
}

// JobsAtRisk builds the at-risk rollup over the configured risk horizon.
func (e Engine) JobsAtRisk(ctx context.Context, snap snapshot.Snapshot, today time.Time) ([]JobRisk, JobRiskSummary, error) {
	classified, err := e.Classified(ctx, snap, today)
	if err != nil {
		return nil, JobRiskSummary{}, err
	}
	opts := RiskOptions{HorizonDays: e.Config.Horizon.RiskDays, Today: today}
	jobs, summary := BuildJobsAtRisk(opts, snap.Jobs, classified)
	return jobs, summary, nil
}

// BuildDashboard assembles all derived artifacts in one pass over one
// classification, so every surface agrees on the same effective state.
func (e Engine) BuildDashboard(ctx context.Context, snap snapshot.Snapshot, today time.Time) (Dashboard, error) {
	classified, err := e.Classified(ctx, snap, today)
	if err != nil {
		return Dashboard{}, err
	}

	fcOpts := ForecastOptions{HorizonDays: e.Config.Horizon.ForecastDays, Today: today}
	forecast := BuildCapacityForecast(fcOpts, snap.Team, snap.ServiceTypes, classified, snap.Tasks)

	riskOpts := RiskOptions{HorizonDays: e.Config.Horizon.RiskDays, Today: today}
	jobsAtRisk, summary := BuildJobsAtRisk(riskOpts, snap.Jobs, classified)

	unreviewedOverdue := 0
	var cleared []string
	for _, c := range classified {
		if c.Overdue && c.Reviewed == nil {
			unreviewedOverdue++
		}
		if c.ReviewCleared {
			cleared = append(cleared, c.ID)
		}
	}

	tones := SignalTones{
		Momentum:  e.momentumTone(snap, today),
		Jobs:      jobsTone(jobsAtRisk),
		Capacity:  capacityTone(forecast),
		Deadlines: deadlinesTone(classified, unreviewedOverdue),
		Sales:     ParseTone(snap.Signals.SalesClarity),
	}

	flow := BuildFlowScore(FlowInputs{
		Tones:               tones,
		CapacityPressurePct: forecast.PressurePct,
		UnreviewedOverdue:   unreviewedOverdue,
		FallbackDriver:      e.Config.Flow.FallbackDriver,
	})

	return Dashboard{
		Today:          formatDate(dayStart(today)),
		Deliverables:   classified,
		Forecast:       forecast,
		JobsAtRisk:     jobsAtRisk,
		RiskSummary:    summary,
		Tones:          tones,
		Flow:           flow,
		ClearedReviews: cleared,
	}, nil
}

func (e Engine) momentumTone(snap snapshot.Snapshot, today time.Time) Tone {
	if snap.Signals.Momentum != "" {
		return ParseTone(snap.Signals.Momentum)
	}
	return MomentumTone(snap.Team, snap.TimeEntries, today,
		e.Config.Momentum.RedBelowPct, e.Config.Momentum.AmberBelowPct)
}

func capacityTone(fc CapacityForecast) Tone {
	switch fc.State {
	case CapacityOverloaded:
		return ToneRed
	case CapacityTight, CapacityUnknown:
		return ToneAmber
	default:
		return ToneGreen
	}
}

func deadlinesTone(classified []ClassifiedDeliverable, unreviewedOverdue int) Tone {
	if unreviewedOverdue > 0 {
		return ToneRed
	}
	for _, c := range classified {
		if c.Overdue || (c.DueSoon && c.AtRisk) {
			return ToneAmber
		}
	}
	return ToneGreen
}

func jobsTone(jobs []JobRisk) Tone {
	if len(jobs) == 0 {
		return ToneGreen
	}
	for _, j := range jobs {
		if j.Severity >= 3 {
			return ToneRed
		}
	}
	return ToneAmber
}

// --- override writes ---

// MoveDue overrides a deliverable's due date, recording the move metadata.
// The original due date is pinned on the first move only.
func (e Engine) MoveDue(ctx context.Context, snap snapshot.Snapshot, deliverableID, due, actorID string) (override.Record, error) {
	if _, ok := parseDate(due); !ok {
		return override.Record{}, fmt.Errorf("invalid due date %q (want YYYY-MM-DD)", due)
	}
	d, ok := findDeliverable(snap, deliverableID)
	if !ok {
		return override.Record{}, fmt.Errorf("deliverable %s not in snapshot", deliverableID)
	}
	rec, err := e.Overrides.Get(ctx, deliverableID)
	if err != nil {
		return override.Record{}, fmt.Errorf("read override: %w", err)
	}
	original := d.Due
	if rec.DueOverride != nil && rec.DueOverride.OriginalDue != "" {
		original = rec.DueOverride.OriginalDue
	}
	rec.DueOverride = &override.DueOverride{
		Due:         due,
		OriginalDue: original,
		ChangedAt:   e.now().UTC().Format(time.RFC3339),
		ChangedBy:   actorID,
	}
	if err := e.Overrides.Set(ctx, deliverableID, rec); err != nil {
		return override.Record{}, fmt.Errorf("write override: %w", err)
	}
	return rec, nil
}

// SetConfidence records the progress-confidence override; an empty level
// clears it, which re-arms the needs-check-in prompt.
func (e Engine) SetConfidence(ctx context.Context, deliverableID, level string) (override.Record, error) {
	switch level {
	case "", "high", "medium", "low":
	default:
		return override.Record{}, fmt.Errorf("invalid confidence %q (want high, medium or low)", level)
	}
	rec, err := e.Overrides.Get(ctx, deliverableID)
	if err != nil {
		return override.Record{}, fmt.Errorf("read override: %w", err)
	}
	rec.ProgressConfidence = level
	if err := e.Overrides.Set(ctx, deliverableID, rec); err != nil {
		return override.Record{}, fmt.Errorf("write override: %w", err)
	}
	return rec, nil
}

// MarkReviewed acknowledges a deliverable's current risk state. The stored
// snapshot pins the acknowledgement; any later drift voids it.
func (e Engine) MarkReviewed(ctx context.Context, snap snapshot.Snapshot, deliverableID, actorID string, today time.Time) (override.Record, error) {
	d, ok := findDeliverable(snap, deliverableID)
	if !ok {
		return override.Record{}, fmt.Errorf("deliverable %s not in snapshot", deliverableID)
	}
	rec, err := e.Overrides.Get(ctx, deliverableID)
	if err != nil {
		return override.Record{}, fmt.Errorf("read override: %w", err)
	}
	var job domain.Job
	for _, j := range snap.Jobs {
		if j.ID == d.JobID {
			job = j
			break
		}
	}
	c := Classify(d, job, rec, ClassifyOptions{Today: today, DueSoonDays: e.Config.Horizon.DueSoonDays})
	rec.Reviewed = &override.Review{
		By:       actorID,
		At:       e.now().UTC().Format(time.RFC3339),
		Snapshot: c.ReviewSnapshot(),
	}
	if err := e.Overrides.Set(ctx, deliverableID, rec); err != nil {
		return override.Record{}, fmt.Errorf("write override: %w", err)
	}
	return rec, nil
}

// AddChangeOrder appends a change order with a deterministic id.
func (e Engine) AddChangeOrder(ctx context.Context, deliverableID, note string, hours float64, actorID string) (override.Record, error) {
	if note == "" {
		return override.Record{}, fmt.Errorf("change order note is required")
	}
	rec, err := e.Overrides.Get(ctx, deliverableID)
	if err != nil {
		return override.Record{}, fmt.Errorf("read override: %w", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	rec.ChangeOrders = append(rec.ChangeOrders, override.ChangeOrder{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(deliverableID+"|"+note+"|"+now)).String(),
		Note:      note,
		Hours:     hours,
		CreatedAt: now,
		CreatedBy: actorID,
	})
	if err := e.Overrides.Set(ctx, deliverableID, rec); err != nil {
		return override.Record{}, fmt.Errorf("write override: %w", err)
	}
	return rec, nil
}

func findDeliverable(snap snapshot.Snapshot, id string) (domain.Deliverable, bool) {
	for _, d := range snap.Deliverables {
		if d.ID == id {
			return d, true
		}
	}
	return domain.Deliverable{}, false
}

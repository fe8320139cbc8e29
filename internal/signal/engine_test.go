package signal_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"flowline/internal/config"
	"flowline/internal/domain"
	"flowline/internal/override"
	"flowline/internal/signal"
	"flowline/internal/snapshot"
)

func newTestEngine() (signal.Engine, *override.MemoryStore) {
	store := override.NewMemoryStore()
	eng := signal.New(config.Default(), store)
	eng.Now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	eng.Logger = log.New(io.Discard, "", 0)
	return eng, store
}

func engineSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		Team: []domain.TeamMember{{ID: "m1", Name: "Ana", MonthlyCapacityHours: 200}},
		Jobs: []domain.Job{{ID: "j1", Name: "Acme site", Client: "Acme"}},
		Deliverables: []domain.Deliverable{
			{ID: "d1", JobID: "j1", Name: "Homepage", Due: "2025-03-05", Status: "in-progress"},
			{ID: "d2", JobID: "j1", Name: "Brand book", Due: "2025-03-20", Status: "in-progress"},
		},
		Tasks: []domain.Task{
			{ID: "t1", DeliverableID: "d2", Status: "in-progress", EstimatedHours: fptr(60), ActualHours: 10},
		},
		TimeEntries: []domain.TimeEntry{
			{ID: "e1", MemberID: sptr("m1"), Hours: 40, Date: "2025-03-07"},
		},
	}
}

func TestEngineToday(t *testing.T) {
	eng, _ := newTestEngine()
	today, err := eng.Today("")
	if err != nil {
		t.Fatalf("clock today: %v", err)
	}
	if got := today.Format("2006-01-02"); got != "2025-03-10" {
		t.Fatalf("today %s", got)
	}
	if _, err := eng.Today("not-a-date"); err == nil {
		t.Fatalf("invalid override accepted")
	}
	today, err = eng.Today("2024-12-31")
	if err != nil || today.Format("2006-01-02") != "2024-12-31" {
		t.Fatalf("override: %v %v", today, err)
	}
}

func TestEngineDashboard(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()
	today, _ := eng.Today("")

	dash, err := eng.BuildDashboard(ctx, engineSnapshot(), today)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Today != "2025-03-10" {
		t.Fatalf("today %q", dash.Today)
	}
	if len(dash.Deliverables) != 2 {
		t.Fatalf("deliverables %d", len(dash.Deliverables))
	}
	// d1 is overdue and unacknowledged: deadlines reads red and the flow
	// score cannot sit at In Flow.
	if dash.Tones.Deadlines != signal.ToneRed {
		t.Fatalf("deadlines tone %q", dash.Tones.Deadlines)
	}
	if dash.Flow.State == signal.FlowInFlow {
		t.Fatalf("flow state %q with an unreviewed overdue deliverable", dash.Flow.State)
	}
	if dash.RiskSummary.Total != 1 {
		t.Fatalf("risk summary %+v", dash.RiskSummary)
	}
	// 40h logged of 46.7h weekly capacity: 86% coverage, green.
	if dash.Tones.Momentum != signal.ToneGreen {
		t.Fatalf("momentum tone %q", dash.Tones.Momentum)
	}
}

func TestEngineSuppliedSignalTones(t *testing.T) {
	eng, _ := newTestEngine()
	snap := engineSnapshot()
	snap.Signals.Momentum = "red"
	snap.Signals.SalesClarity = "amber"
	today, _ := eng.Today("")

	dash, err := eng.BuildDashboard(context.Background(), snap, today)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Tones.Momentum != signal.ToneRed {
		t.Fatalf("supplied momentum ignored: %q", dash.Tones.Momentum)
	}
	if dash.Tones.Sales != signal.ToneAmber {
		t.Fatalf("supplied sales tone ignored: %q", dash.Tones.Sales)
	}
}

func TestEngineMoveDue(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()
	snap := engineSnapshot()

	rec, err := eng.MoveDue(ctx, snap, "d1", "2025-03-25", "ana")
	if err != nil {
		t.Fatalf("move due: %v", err)
	}
	if rec.DueOverride == nil || rec.DueOverride.Due != "2025-03-25" {
		t.Fatalf("override: %+v", rec.DueOverride)
	}
	if rec.DueOverride.OriginalDue != "2025-03-05" {
		t.Fatalf("original %q", rec.DueOverride.OriginalDue)
	}
	if rec.DueOverride.ChangedBy != "ana" || rec.DueOverride.ChangedAt == "" {
		t.Fatalf("move metadata: %+v", rec.DueOverride)
	}

	rec, err = eng.MoveDue(ctx, snap, "d1", "2025-04-01", "bo")
	if err != nil {
		t.Fatalf("second move: %v", err)
	}
	if rec.DueOverride.OriginalDue != "2025-03-05" {
		t.Fatalf("original drifted to %q", rec.DueOverride.OriginalDue)
	}

	if _, err := eng.MoveDue(ctx, snap, "d1", "someday", "ana"); err == nil {
		t.Fatalf("invalid date accepted")
	}
	if _, err := eng.MoveDue(ctx, snap, "ghost", "2025-04-01", "ana"); err == nil {
		t.Fatalf("unknown deliverable accepted")
	}
}

func TestEngineSetConfidence(t *testing.T) {
	eng, store := newTestEngine()
	ctx := context.Background()

	if _, err := eng.SetConfidence(ctx, "d1", "sorta"); err == nil {
		t.Fatalf("invalid level accepted")
	}
	rec, err := eng.SetConfidence(ctx, "d1", "low")
	if err != nil || rec.ProgressConfidence != "low" {
		t.Fatalf("set: %+v %v", rec, err)
	}
	// Clearing empties the record, which removes it from the store.
	if _, err := eng.SetConfidence(ctx, "d1", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	all, _ := store.All(ctx)
	if len(all) != 0 {
		t.Fatalf("cleared record still stored: %+v", all)
	}
}

func TestEngineReviewLifecycle(t *testing.T) {
	eng, store := newTestEngine()
	ctx := context.Background()
	snap := engineSnapshot()
	today, _ := eng.Today("")

	rec, err := eng.MarkReviewed(ctx, snap, "d1", "ana", today)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if rec.Reviewed == nil || rec.Reviewed.By != "ana" || !rec.Reviewed.Snapshot.Overdue {
		t.Fatalf("review record: %+v", rec.Reviewed)
	}

	classified, err := eng.Classified(ctx, snap, today)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	for _, c := range classified {
		if c.ID == "d1" && c.Reviewed == nil {
			t.Fatalf("fresh acknowledgement lost")
		}
	}

	// Moving the due date drifts the tracked snapshot; the next read clears
	// the acknowledgement and persists the cleared record.
	if _, err := eng.MoveDue(ctx, snap, "d1", "2025-04-01", "ana"); err != nil {
		t.Fatalf("move due: %v", err)
	}
	dash, err := eng.BuildDashboard(ctx, snap, today)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(dash.ClearedReviews) != 1 || dash.ClearedReviews[0] != "d1" {
		t.Fatalf("cleared reviews %v", dash.ClearedReviews)
	}
	stored, _ := store.Get(ctx, "d1")
	if stored.Reviewed != nil {
		t.Fatalf("stale acknowledgement still persisted")
	}
	if stored.DueOverride == nil {
		t.Fatalf("clearing the review dropped the due override")
	}
}

func TestEngineChangeOrders(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	if _, err := eng.AddChangeOrder(ctx, "d1", "", 4, "ana"); err == nil {
		t.Fatalf("empty note accepted")
	}
	rec, err := eng.AddChangeOrder(ctx, "d1", "extra round", 4, "ana")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	rec, err = eng.AddChangeOrder(ctx, "d1", "scope bump", 8, "bo")
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if len(rec.ChangeOrders) != 2 {
		t.Fatalf("change orders %d", len(rec.ChangeOrders))
	}
	if rec.ChangeOrders[0].ID == rec.ChangeOrders[1].ID {
		t.Fatalf("ids collide")
	}

	// Same inputs under the same clock produce the same id.
	other, _ := newTestEngine()
	otherRec, err := other.AddChangeOrder(ctx, "d1", "extra round", 4, "ana")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if otherRec.ChangeOrders[0].ID != rec.ChangeOrders[0].ID {
		t.Fatalf("ids not deterministic")
	}
}

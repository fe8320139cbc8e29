package signal_test

import (
	"testing"

	"flowline/internal/domain"
	"flowline/internal/override"
	"flowline/internal/signal"
)

func fptr(v float64) *float64 { return &v }
func sptr(s string) *string   { return &s }

func horizonDeliverable(id, due string) signal.ClassifiedDeliverable {
	return classify(domain.Deliverable{ID: id, JobID: "j1", Name: id, Due: due, Status: "in-progress"}, override.Record{})
}

func buildForecast(deliverables []signal.ClassifiedDeliverable, tasks []domain.Task) signal.CapacityForecast {
	team := []domain.TeamMember{{ID: "m1", Name: "Ana", MonthlyCapacityHours: 200}}
	services := []domain.ServiceType{{ID: "st1", Name: "Design"}}
	return signal.BuildCapacityForecast(signal.ForecastOptions{HorizonDays: 30, Today: testToday},
		team, services, deliverables, tasks)
}

func TestForecastPressure(t *testing.T) {
	fc := buildForecast(
		[]signal.ClassifiedDeliverable{horizonDeliverable("d1", "2025-03-25")},
		[]domain.Task{
			{ID: "t1", DeliverableID: "d1", AssigneeID: sptr("m1"), ServiceTypeID: "st1", Status: "in-progress", EstimatedHours: fptr(150), ActualHours: 50},
			{ID: "t2", DeliverableID: "d1", AssigneeID: sptr("m1"), ServiceTypeID: "st1", Status: "in-progress", EstimatedHours: fptr(80)},
		},
	)
	if fc.CapacityHours != 200 {
		t.Fatalf("capacity %v, want 200", fc.CapacityHours)
	}
	if fc.KnownDemandHours != 180 {
		t.Fatalf("known demand %v, want 180", fc.KnownDemandHours)
	}
	if fc.PressurePct == nil || *fc.PressurePct != 90 {
		t.Fatalf("pressure %v, want 90", fc.PressurePct)
	}
	if fc.State != signal.CapacityTight {
		t.Fatalf("state %q, want Tight", fc.State)
	}
	if len(fc.Members) != 1 || fc.Members[0].KnownHours != 180 {
		t.Fatalf("member rollup: %+v", fc.Members)
	}
	if len(fc.Services) != 1 || fc.Services[0].SharePct != 100 {
		t.Fatalf("service rollup: %+v", fc.Services)
	}
}

func TestRemainingPrecedence(t *testing.T) {
	cases := []struct {
		name  string
		task  domain.Task
		hours float64
	}{
		{"done is zero", domain.Task{Status: "done", EstimatedHours: fptr(40)}, 0},
		{"explicit remaining wins", domain.Task{Status: "in-progress", RemainingHours: fptr(12), EstimatedHours: fptr(100), ActualHours: 90}, 12},
		{"explicit zero is known zero", domain.Task{Status: "in-progress", RemainingHours: fptr(0), EstimatedHours: fptr(100)}, 0},
		{"estimate minus actual", domain.Task{Status: "in-progress", EstimatedHours: fptr(30), ActualHours: 10}, 20},
		{"assigned fallback", domain.Task{Status: "in-progress", AssignedHours: fptr(25), ActualHours: 5}, 20},
		{"overspent floors at zero", domain.Task{Status: "in-progress", EstimatedHours: fptr(10), ActualHours: 40}, 0},
	}
	for _, tc := range cases {
		task := tc.task
		task.ID = "t1"
		task.DeliverableID = "d1"
		fc := buildForecast([]signal.ClassifiedDeliverable{horizonDeliverable("d1", "2025-03-25")}, []domain.Task{task})
		if fc.UnknownTasks != 0 {
			t.Fatalf("%s: task read as unknown", tc.name)
		}
		if fc.KnownDemandHours != tc.hours {
			t.Fatalf("%s: demand %v, want %v", tc.name, fc.KnownDemandHours, tc.hours)
		}
	}
}

func TestUnknownNeverPretendsZero(t *testing.T) {
	fc := buildForecast(
		[]signal.ClassifiedDeliverable{horizonDeliverable("d1", "2025-03-25")},
		[]domain.Task{{ID: "t1", DeliverableID: "d1", Status: "in-progress", ActualHours: 5}},
	)
	if fc.UnknownTasks != 1 || fc.UnknownUnassigned != 1 {
		t.Fatalf("unknown=%d unassigned=%d, want 1/1", fc.UnknownTasks, fc.UnknownUnassigned)
	}
	if fc.KnownDemandHours != 0 {
		t.Fatalf("unknown demand leaked into known hours: %v", fc.KnownDemandHours)
	}
	// No known demand plus unknown tasks: pressure is unknown, not 0%.
	if fc.PressurePct != nil {
		t.Fatalf("pressure %v, want nil", *fc.PressurePct)
	}
	if fc.State != signal.CapacityUnknown {
		t.Fatalf("state %q, want Unknown", fc.State)
	}
}

func TestForecastHorizonFilter(t *testing.T) {
	completed := classify(domain.Deliverable{ID: "done", JobID: "j1", Due: "2025-03-20", Status: "completed"}, override.Record{})
	overdue := horizonDeliverable("late", "2025-03-01")
	beyond := horizonDeliverable("far", "2025-05-01")
	in := horizonDeliverable("in", "2025-03-20")

	fc := buildForecast(
		[]signal.ClassifiedDeliverable{completed, overdue, beyond, in},
		[]domain.Task{
			{ID: "t1", DeliverableID: "done", Status: "in-progress", EstimatedHours: fptr(10)},
			{ID: "t2", DeliverableID: "late", Status: "in-progress", EstimatedHours: fptr(10)},
			{ID: "t3", DeliverableID: "far", Status: "in-progress", EstimatedHours: fptr(10)},
			{ID: "t4", DeliverableID: "in", Status: "in-progress", EstimatedHours: fptr(10)},
			{ID: "t5", DeliverableID: "ghost", Status: "in-progress", EstimatedHours: fptr(10)},
		},
	)
	if len(fc.DeliverablesInHorizon) != 1 || fc.DeliverablesInHorizon[0].DeliverableID != "in" {
		t.Fatalf("horizon rows: %+v", fc.DeliverablesInHorizon)
	}
	if fc.KnownDemandHours != 10 {
		t.Fatalf("demand %v, want only the in-horizon task", fc.KnownDemandHours)
	}
}

func TestZeroCapacityRoster(t *testing.T) {
	fc := signal.BuildCapacityForecast(signal.ForecastOptions{HorizonDays: 30, Today: testToday},
		nil, nil,
		[]signal.ClassifiedDeliverable{horizonDeliverable("d1", "2025-03-25")},
		[]domain.Task{{ID: "t1", DeliverableID: "d1", Status: "in-progress", EstimatedHours: fptr(10)}},
	)
	if fc.PressurePct != nil || fc.State != signal.CapacityUnknown {
		t.Fatalf("no roster must read Unknown, got %v %q", fc.PressurePct, fc.State)
	}
	if fc.UnassignedKnownHours != 10 {
		t.Fatalf("unassigned known %v, want 10", fc.UnassignedKnownHours)
	}
}

func TestMemberOrdering(t *testing.T) {
	team := []domain.TeamMember{
		{ID: "m1", Name: "Ana", MonthlyCapacityHours: 200},
		{ID: "m2", Name: "Bo", MonthlyCapacityHours: 200},
		{ID: "m3", Name: "Cid", MonthlyCapacityHours: 0},
	}
	fc := signal.BuildCapacityForecast(signal.ForecastOptions{HorizonDays: 30, Today: testToday},
		team, nil,
		[]signal.ClassifiedDeliverable{horizonDeliverable("d1", "2025-03-25")},
		[]domain.Task{
			{ID: "t1", DeliverableID: "d1", AssigneeID: sptr("m1"), Status: "in-progress", EstimatedHours: fptr(50)},
			{ID: "t2", DeliverableID: "d1", AssigneeID: sptr("m2"), Status: "in-progress", EstimatedHours: fptr(150)},
		},
	)
	if len(fc.Members) != 3 {
		t.Fatalf("members %d, want 3", len(fc.Members))
	}
	// Highest utilization first, unknown (zero-capacity) member last.
	if fc.Members[0].MemberID != "m2" || fc.Members[1].MemberID != "m1" || fc.Members[2].MemberID != "m3" {
		t.Fatalf("order: %s %s %s", fc.Members[0].MemberID, fc.Members[1].MemberID, fc.Members[2].MemberID)
	}
	if fc.Members[2].UtilizationPct != nil {
		t.Fatalf("zero-capacity member must have unknown utilization")
	}
}

func TestCapacityStateThresholds(t *testing.T) {
	ip := func(v int) *int { return &v }
	cases := []struct {
		pct  *int
		want string
	}{
		{nil, signal.CapacityUnknown},
		{ip(0), signal.CapacityBalanced},
		{ip(84), signal.CapacityBalanced},
		{ip(85), signal.CapacityTight},
		{ip(100), signal.CapacityTight},
		{ip(101), signal.CapacityOverloaded},
	}
	for _, tc := range cases {
		if got := signal.CapacityState(tc.pct); got != tc.want {
			t.Fatalf("state(%v) = %q, want %q", tc.pct, got, tc.want)
		}
	}
}

package signal

import (
	"math"
	"sort"
	"time"

	"flowline/internal/domain"
)

// remaining is an explicit sum type for task workload: either a known number
// of hours or unknown. Unknown is never folded into zero.
type remaining struct {
	known bool
	hours float64
}

func knownRemaining(h float64) remaining { return remaining{known: true, hours: h} }

var unknownRemaining = remaining{}

// Capacity state labels. The same thresholds classify the aggregate forecast
// and each member's utilization.
const (
	CapacityUnknown    = "Unknown"
	CapacityOverloaded = "Overloaded"
	CapacityTight      = "Tight"
	CapacityBalanced   = "Balanced"
)

// CapacityState labels a pressure percentage; a nil pressure is Unknown.
func CapacityState(pressurePct *int) string {
	switch {
	case pressurePct == nil:
		return CapacityUnknown
	case *pressurePct > 100:
		return CapacityOverloaded
	case *pressurePct >= 85:
		return CapacityTight
	default:
		return CapacityBalanced
	}
}

// MemberDemand is one team member's slice of the horizon.
type MemberDemand struct {
	MemberID       string   `json:"member_id"`
	Name           string   `json:"name"`
	CapacityHours  float64  `json:"capacity_hours"`
	KnownHours     float64  `json:"known_hours"`
	UnknownTasks   []string `json:"unknown_tasks,omitempty"`
	UtilizationPct *int     `json:"utilization_pct"`
	State          string   `json:"state" enum:"Unknown,Overloaded,Tight,Balanced"`
}

// DeliverableHours is a per-deliverable line inside a service-type breakdown.
type DeliverableHours struct {
	DeliverableID string  `json:"deliverable_id"`
	Name          string  `json:"name"`
	Hours         float64 `json:"hours"`
}

// ServiceDemand aggregates known demand for one service type.
type ServiceDemand struct {
	ServiceTypeID string             `json:"service_type_id"`
	Name          string             `json:"name"`
	KnownHours    float64            `json:"known_hours"`
	SharePct      int                `json:"share_pct"`
	Deliverables  []DeliverableHours `json:"deliverables,omitempty"`
}

// DeliverableDemand is the horizon evidence row for one deliverable.
type DeliverableDemand struct {
	DeliverableID string  `json:"deliverable_id"`
	Name          string  `json:"name"`
	JobID         string  `json:"job_id"`
	JobName       string  `json:"job_name,omitempty"`
	Due           string  `json:"due,omitempty" format:"date"`
	KnownHours    float64 `json:"known_hours"`
	UnknownTasks  int     `json:"unknown_tasks"`
}

// CapacityForecast is the horizon-bounded demand/capacity picture.
type CapacityForecast struct {
	HorizonDays int    `json:"horizon_days"`
	From        string `json:"from" format:"date"`
	To          string `json:"to" format:"date"`

	CapacityHours        float64 `json:"capacity_hours"`
	KnownDemandHours     float64 `json:"known_demand_hours"`
	UnassignedKnownHours float64 `json:"unassigned_known_hours"`
	UnknownTasks         int     `json:"unknown_tasks"`
	UnknownUnassigned    int     `json:"unknown_unassigned_tasks"`

	// PressurePct is nil when capacity is zero or every horizon task is
	// unknown; "we don't know" is never reported as 0%.
	PressurePct *int   `json:"pressure_pct"`
	State       string `json:"state" enum:"Unknown,Overloaded,Tight,Balanced"`

	Members              []MemberDemand      `json:"members"`
	Services             []ServiceDemand     `json:"services"`
	DeliverablesInHorizon []DeliverableDemand `json:"deliverables_in_horizon"`
}

// ForecastOptions tune the capacity builder.
type ForecastOptions struct {
	HorizonDays int
	Today       time.Time
}

const defaultHorizonDays = 30

// BuildCapacityForecast projects known and unknown demand over the horizon
// against the roster's capacity. Deliverables arrive pre-classified so that
// due-date and status overrides are already merged in.
func BuildCapacityForecast(opts ForecastOptions, team []domain.TeamMember, serviceTypes []domain.ServiceType, deliverables []ClassifiedDeliverable, tasks []domain.Task) CapacityForecast {
	horizonDays := opts.HorizonDays
	if horizonDays <= 0 {
		horizonDays = defaultHorizonDays
	}
	today := dayStart(opts.Today)
	horizonEnd := today.AddDate(0, 0, horizonDays)

	fc := CapacityForecast{
		HorizonDays: horizonDays,
		From:        formatDate(today),
		To:          formatDate(horizonEnd),
	}

	serviceNames := map[string]string{}
	for _, st := range serviceTypes {
		serviceNames[st.ID] = st.Name
	}

	members := map[string]*MemberDemand{}
	memberOrder := make([]string, 0, len(team))
	for _, m := range team {
		hours := math.Round(m.MonthlyCapacityHours / 30 * float64(horizonDays))
		fc.CapacityHours += hours
		members[m.ID] = &MemberDemand{MemberID: m.ID, Name: m.Name, CapacityHours: hours}
		memberOrder = append(memberOrder, m.ID)
	}

	// Deliverables eligible to contribute demand: due inside the window, not
	// completed. Completion before today excludes regardless of due date.
	inHorizon := map[string]*DeliverableDemand{}
	horizonOrder := []string{}
	for _, d := range deliverables {
		if d.Status == "completed" {
			continue
		}
		if done, ok := completedBefore(d, today); ok && done {
			continue
		}
		due, ok := parseDate(d.Due)
		if !ok || due.Before(today) || !due.Before(horizonEnd) {
			continue
		}
		inHorizon[d.ID] = &DeliverableDemand{
			DeliverableID: d.ID,
			Name:          d.Name,
			JobID:         d.JobID,
			JobName:       d.JobName,
			Due:           d.Due,
		}
		horizonOrder = append(horizonOrder, d.ID)
	}

	services := map[string]*ServiceDemand{}
	serviceOrder := []string{}

	for _, t := range tasks {
		row, ok := inHorizon[t.DeliverableID]
		if !ok {
			// Tasks pointing at excluded or nonexistent deliverables are
			// dropped rather than crashing the forecast.
			continue
		}
		rem := remainingForTask(t)
		if !rem.known {
			fc.UnknownTasks++
			row.UnknownTasks++
			if t.AssigneeID != nil {
				if m, ok := members[*t.AssigneeID]; ok {
					m.UnknownTasks = append(m.UnknownTasks, t.ID)
				} else {
					fc.UnknownUnassigned++
				}
			} else {
				fc.UnknownUnassigned++
			}
			continue
		}
		fc.KnownDemandHours += rem.hours
		row.KnownHours += rem.hours
		assigned := false
		if t.AssigneeID != nil {
			if m, ok := members[*t.AssigneeID]; ok {
				m.KnownHours += rem.hours
				assigned = true
			}
		}
		if !assigned {
			fc.UnassignedKnownHours += rem.hours
		}
		if t.ServiceTypeID != "" {
			svc, ok := services[t.ServiceTypeID]
			if !ok {
				svc = &ServiceDemand{ServiceTypeID: t.ServiceTypeID, Name: serviceNames[t.ServiceTypeID]}
				if svc.Name == "" {
					svc.Name = t.ServiceTypeID
				}
				services[t.ServiceTypeID] = svc
				serviceOrder = append(serviceOrder, t.ServiceTypeID)
			}
			svc.KnownHours += rem.hours
			addServiceDeliverable(svc, row.DeliverableID, row.Name, rem.hours)
		}
	}

	fc.PressurePct = pressurePct(fc.KnownDemandHours, fc.CapacityHours, fc.UnknownTasks)
	fc.State = CapacityState(fc.PressurePct)

	for _, id := range memberOrder {
		m := members[id]
		m.UtilizationPct = pressurePct(m.KnownHours, m.CapacityHours, len(m.UnknownTasks))
		m.State = CapacityState(m.UtilizationPct)
		fc.Members = append(fc.Members, *m)
	}
	sort.SliceStable(fc.Members, func(i, j int) bool {
		a, b := fc.Members[i], fc.Members[j]
		switch {
		case a.UtilizationPct == nil && b.UtilizationPct == nil:
			return a.Name < b.Name
		case a.UtilizationPct == nil:
			return false
		case b.UtilizationPct == nil:
			return true
		case *a.UtilizationPct != *b.UtilizationPct:
			return *a.UtilizationPct > *b.UtilizationPct
		default:
			return a.Name < b.Name
		}
	})

	var serviceTotal float64
	for _, id := range serviceOrder {
		serviceTotal += services[id].KnownHours
	}
	for _, id := range serviceOrder {
		svc := services[id]
		if serviceTotal > 0 {
			svc.SharePct = int(math.Round(svc.KnownHours / serviceTotal * 100))
		}
		fc.Services = append(fc.Services, *svc)
	}
	sort.SliceStable(fc.Services, func(i, j int) bool {
		a, b := fc.Services[i], fc.Services[j]
		if a.KnownHours != b.KnownHours {
			return a.KnownHours > b.KnownHours
		}
		return a.Name < b.Name
	})

	for _, id := range horizonOrder {
		fc.DeliverablesInHorizon = append(fc.DeliverablesInHorizon, *inHorizon[id])
	}
	sort.SliceStable(fc.DeliverablesInHorizon, func(i, j int) bool {
		a, b := fc.DeliverablesInHorizon[i], fc.DeliverablesInHorizon[j]
		da, aok := parseDate(a.Due)
		db, bok := parseDate(b.Due)
		switch {
		case aok && bok && !da.Equal(db):
			return da.Before(db)
		case aok != bok:
			return aok
		default:
			return a.Name < b.Name
		}
	})

	return fc
}

// remainingForTask computes the workload a task still represents. An explicit
// RemainingHours is authoritative, including zero; only a task with no usable
// figure at all is unknown.
func remainingForTask(t domain.Task) remaining {
	if t.Status == "done" {
		return knownRemaining(0)
	}
	if t.RemainingHours != nil {
		if *t.RemainingHours > 0 {
			return knownRemaining(*t.RemainingHours)
		}
		return knownRemaining(0)
	}
	base, ok := finiteHours(t.EstimatedHours)
	if !ok {
		base, ok = finiteHours(t.AssignedHours)
	}
	if !ok {
		return unknownRemaining
	}
	return knownRemaining(math.Max(0, base-t.ActualHours))
}

func finiteHours(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// pressurePct is nil (unknown) when capacity is zero, or when there is no
// known demand but unknown tasks exist.
func pressurePct(known, capacity float64, unknownTasks int) *int {
	if capacity <= 0 {
		return nil
	}
	if known == 0 && unknownTasks > 0 {
		return nil
	}
	p := int(math.Round(known / capacity * 100))
	return &p
}

func completedBefore(d ClassifiedDeliverable, today time.Time) (bool, bool) {
	if d.CompletedAt == nil {
		return false, false
	}
	done, ok := parseDate(*d.CompletedAt)
	if !ok {
		return false, false
	}
	return done.Before(today), true
}

func addServiceDeliverable(svc *ServiceDemand, id, name string, hours float64) {
	for i := range svc.Deliverables {
		if svc.Deliverables[i].DeliverableID == id {
			svc.Deliverables[i].Hours += hours
			return
		}
	}
	svc.Deliverables = append(svc.Deliverables, DeliverableHours{DeliverableID: id, Name: name, Hours: hours})
}

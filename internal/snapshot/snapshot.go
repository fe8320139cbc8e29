// Package snapshot loads the entity collections the engine computes from.
// A snapshot is the full current state; the engine recomputes everything from
// it on every call and never mutates it.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"flowline/internal/domain"
)

// Signals carry tones the engine cannot derive itself. Momentum falls back to
// the time-entry heuristic when empty; sales clarity defaults to green.
type Signals struct {
	Momentum     string `json:"momentum,omitempty" yaml:"momentum,omitempty" enum:"green,amber,red"`
	SalesClarity string `json:"sales_clarity,omitempty" yaml:"sales_clarity,omitempty" enum:"green,amber,red"`
}

type Snapshot struct {
	Team         []domain.TeamMember  `json:"team" yaml:"team"`
	Jobs         []domain.Job         `json:"jobs" yaml:"jobs"`
	Deliverables []domain.Deliverable `json:"deliverables" yaml:"deliverables"`
	Tasks        []domain.Task        `json:"tasks" yaml:"tasks"`
	TimeEntries  []domain.TimeEntry   `json:"time_entries,omitempty" yaml:"time_entries,omitempty"`
	ServiceTypes []domain.ServiceType `json:"service_types,omitempty" yaml:"service_types,omitempty"`
	Signals      Signals              `json:"signals,omitempty" yaml:"signals,omitempty"`
}

// FromYAML parses a snapshot from raw YAML bytes.
func FromYAML(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("invalid snapshot yaml: %w", err)
	}
	return s, nil
}

// FromFile reads a snapshot from a YAML or JSON file.
func FromFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return Snapshot{}, fmt.Errorf("invalid snapshot json: %w", err)
		}
		return s, nil
	}
	return FromYAML(data)
}

// Warnings reports advisory data problems: dangling references, malformed
// dates, duplicate ids. None are fatal; the engine degrades around them by
// excluding the affected record from the dependent calculation.
func (s Snapshot) Warnings() []string {
	var warns []string

	jobs := map[string]bool{}
	for _, j := range s.Jobs {
		if jobs[j.ID] {
			warns = append(warns, fmt.Sprintf("duplicate job id %s", j.ID))
		}
		jobs[j.ID] = true
	}
	members := map[string]bool{}
	for _, m := range s.Team {
		if members[m.ID] {
			warns = append(warns, fmt.Sprintf("duplicate team member id %s", m.ID))
		}
		members[m.ID] = true
	}
	deliverables := map[string]bool{}
	for _, d := range s.Deliverables {
		if deliverables[d.ID] {
			warns = append(warns, fmt.Sprintf("duplicate deliverable id %s", d.ID))
		}
		deliverables[d.ID] = true
		if !jobs[d.JobID] {
			warns = append(warns, fmt.Sprintf("deliverable %s references unknown job %s", d.ID, d.JobID))
		}
		if d.Due != "" && !parsableDate(d.Due) {
			warns = append(warns, fmt.Sprintf("deliverable %s has unparsable due date %q", d.ID, d.Due))
		}
	}
	tasks := map[string]bool{}
	for _, t := range s.Tasks {
		if tasks[t.ID] {
			warns = append(warns, fmt.Sprintf("duplicate task id %s", t.ID))
		}
		tasks[t.ID] = true
		if !deliverables[t.DeliverableID] {
			warns = append(warns, fmt.Sprintf("task %s references unknown deliverable %s", t.ID, t.DeliverableID))
		}
		if t.AssigneeID != nil && !members[*t.AssigneeID] {
			warns = append(warns, fmt.Sprintf("task %s references unknown assignee %s", t.ID, *t.AssigneeID))
		}
	}
	for _, e := range s.TimeEntries {
		if e.Date != "" && !parsableDate(e.Date) {
			warns = append(warns, fmt.Sprintf("time entry %s has unparsable date %q", e.ID, e.Date))
		}
		if e.TaskID != nil && !tasks[*e.TaskID] {
			warns = append(warns, fmt.Sprintf("time entry %s references unknown task %s", e.ID, *e.TaskID))
		}
		if e.MemberID != nil && !members[*e.MemberID] {
			warns = append(warns, fmt.Sprintf("time entry %s references unknown member %s", e.ID, *e.MemberID))
		}
	}
	for _, tone := range []string{s.Signals.Momentum, s.Signals.SalesClarity} {
		if tone != "" && tone != "green" && tone != "amber" && tone != "red" {
			warns = append(warns, fmt.Sprintf("unknown signal tone %q", tone))
		}
	}
	return warns
}

func parsableDate(s string) bool {
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return true
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return true
	}
	return false
}

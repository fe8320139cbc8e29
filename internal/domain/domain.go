package domain

type TeamMember struct {
	ID                   string  `json:"id" yaml:"id"`
	Name                 string  `json:"name" yaml:"name"`
	MonthlyCapacityHours float64 `json:"monthly_capacity_hours" yaml:"monthly_capacity_hours"`
}

type Job struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Client      string `json:"client,omitempty" yaml:"client,omitempty"`
	Status      string `json:"status" yaml:"status" enum:"active,paused,completed,archived"`
	ServiceType string `json:"service_type,omitempty" yaml:"service_type,omitempty"`
}

type Deliverable struct {
	ID                  string   `json:"id" yaml:"id"`
	JobID               string   `json:"job_id" yaml:"job_id"`
	Name                string   `json:"name" yaml:"name"`
	Due                 string   `json:"due,omitempty" yaml:"due,omitempty" format:"date"`
	Status              string   `json:"status" yaml:"status" enum:"in-progress,backlog,blocked,completed"`
	EffortConsumedPct   float64  `json:"effort_consumed_pct" yaml:"effort_consumed_pct"`
	DurationConsumedPct float64  `json:"duration_consumed_pct" yaml:"duration_consumed_pct"`
	EstimatedHours      *float64 `json:"estimated_hours,omitempty" yaml:"estimated_hours,omitempty"`
	CompletedAt         *string  `json:"completed_at,omitempty" yaml:"completed_at,omitempty" format:"date"`
	// PaceTone is a per-deliverable momentum signal supplied by the caller
	// (green when absent).
	PaceTone string `json:"pace_tone,omitempty" yaml:"pace_tone,omitempty" enum:"green,amber,red"`
}

type Task struct {
	ID             string   `json:"id" yaml:"id"`
	DeliverableID  string   `json:"deliverable_id" yaml:"deliverable_id"`
	AssigneeID     *string  `json:"assignee_id,omitempty" yaml:"assignee_id,omitempty"`
	ServiceTypeID  string   `json:"service_type_id,omitempty" yaml:"service_type_id,omitempty"`
	Status         string   `json:"status" yaml:"status" enum:"todo,in_progress,done"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty" yaml:"estimated_hours,omitempty"`
	AssignedHours  *float64 `json:"assigned_hours,omitempty" yaml:"assigned_hours,omitempty"`
	ActualHours    float64  `json:"actual_hours" yaml:"actual_hours"`
	// RemainingHours nil means the remaining work is unknown; an explicit 0
	// means fully consumed. The two are never interchangeable.
	RemainingHours *float64 `json:"remaining_hours,omitempty" yaml:"remaining_hours,omitempty"`
}

type TimeEntry struct {
	ID            string  `json:"id" yaml:"id"`
	TaskID        *string `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	MemberID      *string `json:"member_id,omitempty" yaml:"member_id,omitempty"`
	ServiceTypeID string  `json:"service_type_id,omitempty" yaml:"service_type_id,omitempty"`
	Hours         float64 `json:"hours" yaml:"hours"`
	Date          string  `json:"date" yaml:"date" format:"date"`
}

type ServiceType struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

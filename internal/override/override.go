// Package override holds the sparse per-deliverable override record and the
// get/set contract the signal engine reads it through. Records patch base
// deliverables at read time; the bases are never mutated.
package override

import (
	"context"

	"flowline/internal/domain"
)

// DueOverride moves a deliverable's due date and keeps the move metadata.
type DueOverride struct {
	Due         string `json:"due" yaml:"due" format:"date"`
	OriginalDue string `json:"original_due,omitempty" yaml:"original_due,omitempty" format:"date"`
	ChangedAt   string `json:"changed_at,omitempty" yaml:"changed_at,omitempty" format:"date-time"`
	ChangedBy   string `json:"changed_by,omitempty" yaml:"changed_by,omitempty"`
}

// ReviewSnapshot is the risk-relevant state captured when a deliverable is
// acknowledged as reviewed. The classifier recomputes the same five fields on
// every pass and treats any mismatch as drift, which voids the acknowledgement.
type ReviewSnapshot struct {
	Due          string `json:"due" yaml:"due"`
	Overdue      bool   `json:"overdue" yaml:"overdue"`
	EffortOver   bool   `json:"effort_over" yaml:"effort_over"`
	TimelineOver bool   `json:"timeline_over" yaml:"timeline_over"`
	Confidence   string `json:"confidence" yaml:"confidence"`
}

// Review is a trust-but-verify acknowledgement, not a permanent mute.
type Review struct {
	By       string         `json:"by" yaml:"by"`
	At       string         `json:"at" yaml:"at" format:"date-time"`
	Snapshot ReviewSnapshot `json:"snapshot" yaml:"snapshot"`
}

type ChangeOrder struct {
	ID        string  `json:"id" yaml:"id"`
	Note      string  `json:"note" yaml:"note"`
	Hours     float64 `json:"hours,omitempty" yaml:"hours,omitempty"`
	CreatedAt string  `json:"created_at" yaml:"created_at" format:"date-time"`
	CreatedBy string  `json:"created_by,omitempty" yaml:"created_by,omitempty"`
}

// Record is the full override state for one deliverable. Every field is
// optional; the zero Record changes nothing.
type Record struct {
	DueOverride        *DueOverride  `json:"due_override,omitempty" yaml:"due_override,omitempty"`
	StatusOverride     string        `json:"status_override,omitempty" yaml:"status_override,omitempty"`
	ProgressConfidence string        `json:"progress_confidence,omitempty" yaml:"progress_confidence,omitempty" enum:"high,medium,low"`
	Reviewed           *Review       `json:"reviewed,omitempty" yaml:"reviewed,omitempty"`
	ChangeOrders       []ChangeOrder `json:"change_orders,omitempty" yaml:"change_orders,omitempty"`
}

// IsZero reports whether the record carries no overrides at all.
func (r Record) IsZero() bool {
	return r.DueOverride == nil && r.StatusOverride == "" && r.ProgressConfidence == "" &&
		r.Reviewed == nil && len(r.ChangeOrders) == 0
}

// Effective is a base deliverable with its override record merged in.
type Effective struct {
	Deliverable domain.Deliverable
	Due         string
	Status      string
	Confidence  string
	DateMoved   bool
	Reviewed    *Review
	ChangeOrder int
}

// Merge produces the effective view of a deliverable under a record. It never
// mutates the base.
func Merge(d domain.Deliverable, rec Record) Effective {
	eff := Effective{
		Deliverable: d,
		Due:         d.Due,
		Status:      d.Status,
		Confidence:  rec.ProgressConfidence,
		Reviewed:    rec.Reviewed,
		ChangeOrder: len(rec.ChangeOrders),
	}
	if rec.DueOverride != nil {
		eff.Due = rec.DueOverride.Due
		eff.DateMoved = true
	}
	if rec.StatusOverride != "" {
		eff.Status = rec.StatusOverride
	}
	return eff
}

// Store is the contract the engine reads override records through. Get returns
// the zero Record for deliverables that have none. The engine signals a stale
// review by handing back a record with Reviewed cleared; persisting that is the
// store owner's responsibility.
type Store interface {
	Get(ctx context.Context, deliverableID string) (Record, error)
	Set(ctx context.Context, deliverableID string, rec Record) error
	All(ctx context.Context) (map[string]Record, error)
}

// MemoryStore is the in-process Store used by tests and one-shot computations.
type MemoryStore struct {
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) Get(_ context.Context, deliverableID string) (Record, error) {
	return s.records[deliverableID], nil
}

func (s *MemoryStore) Set(_ context.Context, deliverableID string, rec Record) error {
	if rec.IsZero() {
		delete(s.records, deliverableID)
		return nil
	}
	s.records[deliverableID] = rec
	return nil
}

func (s *MemoryStore) All(_ context.Context) (map[string]Record, error) {
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}
	return out, nil
}

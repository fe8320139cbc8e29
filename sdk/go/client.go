package flowlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Flowline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ReasonChip is one risk reason on a deliverable.
type ReasonChip struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Deliverable represents the API's classified deliverable model (partial).
type Deliverable struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	JobID        string       `json:"job_id"`
	JobName      string       `json:"job_name"`
	Due          string       `json:"due"`
	Status       string       `json:"status"`
	Overdue      bool         `json:"overdue"`
	DueSoon      bool         `json:"due_soon"`
	AtRisk       bool         `json:"at_risk"`
	NeedsCheckIn bool         `json:"needs_check_in"`
	Reasons      []ReasonChip `json:"reasons,omitempty"`
}

// FlowScore is the composite headline indicator.
type FlowScore struct {
	ScorePct    int    `json:"score_pct"`
	State       string `json:"state"`
	Message     string `json:"message"`
	DriverLabel string `json:"driver_label"`
}

// Forecast is the capacity picture (partial).
type Forecast struct {
	HorizonDays      int     `json:"horizon_days"`
	CapacityHours    float64 `json:"capacity_hours"`
	KnownDemandHours float64 `json:"known_demand_hours"`
	UnknownTasks     int     `json:"unknown_tasks"`
	PressurePct      *int    `json:"pressure_pct"`
	State            string  `json:"state"`
}

// JobRisk is one job's at-risk rollup (partial).
type JobRisk struct {
	JobID           string       `json:"job_id"`
	JobName         string       `json:"job_name"`
	Client          string       `json:"client"`
	Severity        int          `json:"severity"`
	ReviewedCount   int          `json:"reviewed_count"`
	UnreviewedCount int          `json:"unreviewed_count"`
	NextPainDate    string       `json:"next_pain_date"`
	DriverChips     []ReasonChip `json:"driver_chips,omitempty"`
}

// RiskReport pairs the rollup with its headline counts.
type RiskReport struct {
	Jobs    []JobRisk `json:"jobs"`
	Summary struct {
		Total          int `json:"total"`
		FullyReviewed  int `json:"fully_reviewed"`
		NeedsAttention int `json:"needs_attention"`
	} `json:"summary"`
}

// Dashboard is the full derived picture (partial).
type Dashboard struct {
	Today        string        `json:"today"`
	Deliverables []Deliverable `json:"deliverables"`
	Flow         FlowScore     `json:"flow"`
}

// OverrideRecord is the override state returned by write calls (partial).
type OverrideRecord struct {
	DueOverride *struct {
		Due         string `json:"due"`
		OriginalDue string `json:"original_due"`
		ChangedAt   string `json:"changed_at"`
		ChangedBy   string `json:"changed_by"`
	} `json:"due_override,omitempty"`
	ProgressConfidence string `json:"progress_confidence,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Dashboard returns the full dashboard. today is optional (YYYY-MM-DD).
func (c *Client) Dashboard(ctx context.Context, today string) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, withToday("v0/dashboard", today), nil, &resp)
	return resp, err
}

// Forecast returns the capacity forecast; days <= 0 uses the server default.
func (c *Client) Forecast(ctx context.Context, today string, days int) (Forecast, error) {
	endpoint := withToday("v0/forecast", today)
	if days > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%sdays=%d", endpoint, sep, days)
	}
	var resp Forecast
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Risk returns the jobs-at-risk rollup.
func (c *Client) Risk(ctx context.Context, today string) (RiskReport, error) {
	var resp RiskReport
	err := c.do(ctx, http.MethodGet, withToday("v0/risk", today), nil, &resp)
	return resp, err
}

// Flow returns the composite flow score.
func (c *Client) Flow(ctx context.Context, today string) (FlowScore, error) {
	var resp FlowScore
	err := c.do(ctx, http.MethodGet, withToday("v0/flow", today), nil, &resp)
	return resp, err
}

// Deliverables lists classified deliverables.
func (c *Client) Deliverables(ctx context.Context, today string, atRiskOnly bool) ([]Deliverable, error) {
	endpoint := withToday("v0/deliverables", today)
	if atRiskOnly {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "at_risk=true"
	}
	var resp []Deliverable
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MoveDue overrides a deliverable's due date.
func (c *Client) MoveDue(ctx context.Context, deliverableID, due string) (OverrideRecord, error) {
	var resp struct {
		Record OverrideRecord `json:"record"`
	}
	endpoint := fmt.Sprintf("v0/deliverables/%s/due", url.PathEscape(deliverableID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"due": due}, &resp)
	return resp.Record, err
}

// SetConfidence records a confidence call; an empty level clears it.
func (c *Client) SetConfidence(ctx context.Context, deliverableID, level string) (OverrideRecord, error) {
	var resp struct {
		Record OverrideRecord `json:"record"`
	}
	endpoint := fmt.Sprintf("v0/deliverables/%s/confidence", url.PathEscape(deliverableID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"confidence": level}, &resp)
	return resp.Record, err
}

// MarkReviewed acknowledges a deliverable's current risk state.
func (c *Client) MarkReviewed(ctx context.Context, deliverableID string) error {
	endpoint := fmt.Sprintf("v0/deliverables/%s/review", url.PathEscape(deliverableID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// AddChangeOrder records a change order against a deliverable.
func (c *Client) AddChangeOrder(ctx context.Context, deliverableID, note string, hours float64) error {
	endpoint := fmt.Sprintf("v0/deliverables/%s/change-orders", url.PathEscape(deliverableID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"note": note, "hours": hours}, nil)
}

func withToday(endpoint, today string) string {
	if today == "" {
		return endpoint
	}
	return fmt.Sprintf("%s?today=%s", endpoint, url.QueryEscape(today))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flowline/internal/config"
	"flowline/internal/db"
	"flowline/internal/domain"
	"flowline/internal/migrate"
	"flowline/internal/signal"
	"flowline/internal/snapshot"
	"flowline/internal/store"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func fixedClock() time.Time {
	return time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
}

func fptr(v float64) *float64 { return &v }

func testSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		Team: []domain.TeamMember{
			{ID: "m1", Name: "Ana", MonthlyCapacityHours: 200},
		},
		ServiceTypes: []domain.ServiceType{
			{ID: "st1", Name: "Design"},
		},
		Jobs: []domain.Job{
			{ID: "j1", Name: "Acme site", Client: "Acme", Status: "active"},
		},
		Deliverables: []domain.Deliverable{
			{ID: "d1", JobID: "j1", Name: "Homepage", Due: "2025-03-05", Status: "in-progress", EffortConsumedPct: 40},
			{ID: "d2", JobID: "j1", Name: "Brand book", Due: "2025-03-12", Status: "in-progress", EffortConsumedPct: 92},
		},
		Tasks: []domain.Task{
			{ID: "t1", DeliverableID: "d2", ServiceTypeID: "st1", Status: "in-progress", EstimatedHours: fptr(150), ActualHours: 50},
		},
	}
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := signal.New(config.Default(), store.Store{DB: conn, Now: fixedClock})
	eng.Now = fixedClock
	snap := testSnapshot()
	handler, err := New(Config{
		Engine:    eng,
		Snapshots: func(context.Context) (snapshot.Snapshot, error) { return snap, nil },
		BasePath:  "/v0",
		Auth:      AuthConfig{JWTSecret: testJWTSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authHeaders(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, "tester")}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestMissingTokenRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dashboard", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code %q, want unauthorized", envelope.Error.Code)
	}
}

func TestDashboardClassifiesFixture(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dashboard?today=2025-03-10", nil, authHeaders(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var dash signal.Dashboard
	if err := json.Unmarshal(data, &dash); err != nil {
		t.Fatalf("unmarshal dashboard: %v", err)
	}
	if dash.Today != "2025-03-10" {
		t.Fatalf("today %q, want 2025-03-10", dash.Today)
	}
	byID := map[string]signal.ClassifiedDeliverable{}
	for _, d := range dash.Deliverables {
		byID[d.ID] = d
	}
	d1, ok := byID["d1"]
	if !ok {
		t.Fatalf("d1 missing from dashboard")
	}
	if !d1.Overdue || !d1.AtRisk {
		t.Fatalf("d1 overdue=%v at_risk=%v, want both true", d1.Overdue, d1.AtRisk)
	}
	d2 := byID["d2"]
	if !d2.NeedsCheckIn || d2.AtRisk {
		t.Fatalf("d2 needs_check_in=%v at_risk=%v, want prompt without risk", d2.NeedsCheckIn, d2.AtRisk)
	}
	if dash.Flow.State == "" || dash.Flow.DriverLabel == "" {
		t.Fatalf("flow incomplete: %+v", dash.Flow)
	}
}

func TestForecastHorizonQuery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/forecast?today=2025-03-10&days=30", nil, authHeaders(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("forecast status %d: %s", res.StatusCode, string(data))
	}
	var fc signal.CapacityForecast
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("unmarshal forecast: %v", err)
	}
	if fc.CapacityHours != 200 {
		t.Fatalf("capacity %v, want 200", fc.CapacityHours)
	}
	// Task t1 has 100h remaining against 200h capacity.
	if fc.PressurePct == nil || *fc.PressurePct != 50 {
		t.Fatalf("pressure %v, want 50", fc.PressurePct)
	}
}

func TestMoveDuePinsOriginal(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := authHeaders(t)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/deliverables/d1/due",
		MoveDueRequest{Due: "2025-03-20"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move due status %d: %s", res.StatusCode, string(data))
	}
	var out OverrideResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal override: %v", err)
	}
	if out.Record.DueOverride == nil {
		t.Fatalf("due override missing")
	}
	if out.Record.DueOverride.OriginalDue != "2025-03-05" {
		t.Fatalf("original due %q, want snapshot value", out.Record.DueOverride.OriginalDue)
	}
	if out.Record.DueOverride.ChangedBy != "tester" {
		t.Fatalf("changed_by %q, want token subject", out.Record.DueOverride.ChangedBy)
	}

	// Second move keeps the first original.
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/deliverables/d1/due",
		MoveDueRequest{Due: "2025-03-25"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second move status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal override: %v", err)
	}
	if out.Record.DueOverride.OriginalDue != "2025-03-05" {
		t.Fatalf("original due %q after second move, want 2025-03-05", out.Record.DueOverride.OriginalDue)
	}

	// Moved deliverable no longer reads as overdue.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/deliverables?today=2025-03-10", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed []signal.ClassifiedDeliverable
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal deliverables: %v", err)
	}
	for _, d := range listed {
		if d.ID != "d1" {
			continue
		}
		if d.Overdue {
			t.Fatalf("d1 still overdue after move to %s", d.Due)
		}
		if !d.DateMoved {
			t.Fatalf("d1 date_moved not set")
		}
	}
}

func TestMoveDueValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/deliverables/d1/due",
		MoveDueRequest{Due: "not-a-date"}, authHeaders(t))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/deliverables/ghost/due",
		MoveDueRequest{Due: "2025-03-20"}, authHeaders(t))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown deliverable status %d: %s", res.StatusCode, string(data))
	}
}

func TestReviewClearedByDrift(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := authHeaders(t)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deliverables/d2/review?today=2025-03-10", nil, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}
	var out OverrideResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal override: %v", err)
	}
	if out.Record.Reviewed == nil || out.Record.Reviewed.By != "tester" {
		t.Fatalf("review not recorded: %+v", out.Record)
	}

	// Changing confidence drifts the tracked snapshot; the next read voids
	// the acknowledgement.
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/deliverables/d2/confidence",
		SetConfidenceRequest{Confidence: "low"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confidence status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/deliverables?today=2025-03-10", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed []signal.ClassifiedDeliverable
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal deliverables: %v", err)
	}
	for _, d := range listed {
		if d.ID != "d2" {
			continue
		}
		if d.Reviewed != nil {
			t.Fatalf("d2 acknowledgement survived drift")
		}
		if !d.LowConfidence || !d.AtRisk {
			t.Fatalf("d2 low_confidence=%v at_risk=%v after override", d.LowConfidence, d.AtRisk)
		}
	}
}

func TestChangeOrderDeterministicID(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := authHeaders(t)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deliverables/d1/change-orders",
		AddChangeOrderRequest{Note: "extra revision round", Hours: 8}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("change order status %d: %s", res.StatusCode, string(data))
	}
	var out OverrideResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal override: %v", err)
	}
	if len(out.Record.ChangeOrders) != 1 {
		t.Fatalf("change orders %d, want 1", len(out.Record.ChangeOrders))
	}
	co := out.Record.ChangeOrders[0]
	if co.ID == "" || co.CreatedBy != "tester" || co.Hours != 8 {
		t.Fatalf("change order fields: %+v", co)
	}
}

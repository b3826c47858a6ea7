package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"iplfleet/services/deploy"
	"iplfleet/services/fleet"
	"iplfleet/services/preflight"
	"iplfleet/services/scheduler"
)

type stubTargets struct {
	rows map[uuid.UUID]fleet.Target
}

func (s *stubTargets) ByID(_ context.Context, id uuid.UUID) (fleet.Target, error) {
	row, ok := s.rows[id]
	if !ok {
		return fleet.Target{}, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (s *stubTargets) ByIDs(_ context.Context, ids []uuid.UUID) ([]fleet.Target, error) {
	var out []fleet.Target
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

type stubChannel struct{}

func (stubChannel) RunCommand(context.Context, string, string, string) (string, error) {
	return "ok", nil
}
func (stubChannel) UploadFile(context.Context, string, string, string, string) error { return nil }
func (stubChannel) DownloadFile(context.Context, string, string, string, string) error {
	return nil
}

type stubSink struct{}

func (stubSink) Emit(context.Context, string, any) error { return nil }

type stubDryRunner struct{}

func (stubDryRunner) Run(context.Context, string, string, string) preflight.Result {
	return preflight.Result{}
}

type stubIngestor struct {
	sysnames []string
}

func (s *stubIngestor) IngestAndClassify(context.Context) ([]string, error) {
	return s.sysnames, nil
}

func newTestConsole(t *testing.T, targets *stubTargets, ing Ingestor) (*Console, http.Handler) {
	t.Helper()

	orch, err := deploy.NewOrchestrator(targets, stubChannel{}, stubSink{}, deploy.DefaultManifest(), deploy.Config{
		Workers:       4,
		ScriptDir:     t.TempDir(),
		ResultsRoot:   t.TempDir(),
		RemoteTmpRoot: "/tmp/ipl_analysis/",
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	c, err := New(zerolog.Nop(), orch, stubDryRunner{}, scheduler.New(zerolog.Nop()), targets, ing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, c.Routes(RouterOptions{})
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	c, _ := newTestConsole(t, &stubTargets{}, &stubIngestor{})

	tests := []struct {
		name   string
		health func(ctx context.Context) error
		want   int
	}{
		{"no probe", nil, http.StatusOK},
		{"backend reachable", func(context.Context) error { return nil }, http.StatusOK},
		{"backend down", func(context.Context) error { return errors.New("pool closed") }, http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := c.Routes(RouterOptions{Health: tc.health})
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRunDeploymentEndpoint(t *testing.T) {
	id := uuid.New()
	targets := &stubTargets{rows: map[uuid.UUID]fleet.Target{
		id: {ID: id, Lpar: "SYSA", Hostname: "sysa.example.com", Dataset: "SYSA.IPLD", Username: "ipluser"},
	}}
	_, handler := newTestConsole(t, targets, &stubIngestor{})

	rec := postJSON(t, handler, "/v1/deployments", map[string]any{"lpar_ids": []uuid.UUID{id}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	rec = postJSON(t, handler, "/v1/deployments", map[string]any{"lpar_ids": []uuid.UUID{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty ids", rec.Code)
	}
}

func TestDryRunEndpoint(t *testing.T) {
	_, handler := newTestConsole(t, &stubTargets{}, &stubIngestor{})

	rec := postJSON(t, handler, "/v1/dryrun", map[string]any{
		"hostname": "sysa.example.com",
		"username": "ipluser",
		"dataset":  "SYSA.IPLD",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	rec = postJSON(t, handler, "/v1/dryrun", map[string]any{"hostname": "sysa.example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing fields", rec.Code)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	id := uuid.New()
	targets := &stubTargets{rows: map[uuid.UUID]fleet.Target{
		id: {ID: id, Lpar: "SYSA", Hostname: "sysa.example.com", Dataset: "SYSA.IPLD", Username: "ipluser"},
	}}
	_, handler := newTestConsole(t, targets, &stubIngestor{})

	rec := postJSON(t, handler, "/v1/schedules", map[string]any{
		"lpar_id":     id,
		"time":        "04:30",
		"day_of_week": "sunday",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Jobs []scheduler.JobInfo `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Jobs) != 1 || listed.Jobs[0].Tag != "SYSA" {
		t.Fatalf("jobs = %+v, want one SYSA job", listed.Jobs)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/schedules?tag=SYSA", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Jobs) != 0 {
		t.Fatalf("jobs = %+v after clear, want none", listed.Jobs)
	}
}

func TestScheduleUnknownTarget(t *testing.T) {
	_, handler := newTestConsole(t, &stubTargets{}, &stubIngestor{})

	rec := postJSON(t, handler, "/v1/schedules", map[string]any{
		"lpar_id": uuid.New(),
		"time":    "04:30",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	_, handler := newTestConsole(t, &stubTargets{}, &stubIngestor{sysnames: []string{"SYSA", "SYSB"}})

	rec := postJSON(t, handler, "/v1/ingest", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Sysnames []string `json:"sysnames"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(resp.Sysnames) != "[SYSA SYSB]" {
		t.Fatalf("sysnames = %v", resp.Sysnames)
	}
}

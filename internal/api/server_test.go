package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/audit"
	"github.com/blogic/ucentral-mqtt/internal/eventloop"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/bus"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
	"github.com/blogic/ucentral-mqtt/internal/process"
)

// directLoop runs closures inline, or fails every call with err.
type directLoop struct{ err error }

func (l directLoop) Do(_ context.Context, fn func()) error {
	if l.err != nil {
		return l.err
	}
	fn()
	return nil
}

type staticState bus.State

func (s staticState) State() bus.State { return bus.State(s) }

type fakeAudit struct {
	entries []audit.Entry
	filter  audit.Filter
	err     error
}

func (f *fakeAudit) Create(context.Context, *audit.Entry) error { return nil }

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	f.filter = filter
	return f.entries, f.err
}

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context) error { return f.err }

func testServer(t *testing.T, loop Executor, repo audit.Repository) *Server {
	t.Helper()

	srv, err := New(Deps{
		Config: config.APIConfig{Listen: "127.0.0.1:0"},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "ucentral_mqtt_up 1\n") //nolint:errcheck // test handler
		}),
		Loop: loop,
		State: staticState{
			Connected:  true,
			Since:      42 * time.Second,
			Name:       "connected",
			TopicStats: "uSync/stats",
			TopicVenue: "uSync/venue",
			TopicCmd:   "001122334455/cmd",
			Tasks:      process.Stats{Queued: 1, Running: 1},
		},
		Audit:   repo,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Loop: directLoop{}, State: staticState{}}); err == nil {
		t.Error("New() without metrics handler should fail")
	}
	if _, err := New(Deps{Metrics: http.NotFoundHandler()}); err == nil {
		t.Error("New() without loop should fail")
	}
}

func TestHandleHealth(t *testing.T) {
	h := testServer(t, directLoop{}, nil).buildRouter()

	rec := get(t, h, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	var body struct {
		Status     string         `json:"status"`
		Version    string         `json:"version"`
		Audit      string         `json:"audit"`
		Connection map[string]any `json:"connection"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "ok" || body.Version != "test" {
		t.Errorf("status, version = %q, %q", body.Status, body.Version)
	}
	if body.Audit != "disabled" {
		t.Errorf("audit = %q, want disabled", body.Audit)
	}
	if body.Connection["connected"] != float64(42) || body.Connection["state"] != "connected" {
		t.Errorf("connection = %v", body.Connection)
	}
	tasks, _ := body.Connection["tasks"].(map[string]any)
	if tasks["queued"] != float64(1) || tasks["running"] != float64(1) {
		t.Errorf("connection.tasks = %v, want queued 1 running 1", body.Connection["tasks"])
	}
}

func TestHandleHealth_AuditDatabase(t *testing.T) {
	tests := []struct {
		name       string
		db         fakeDB
		wantCode   int
		wantStatus string
		wantAudit  string
	}{
		{"healthy", fakeDB{}, http.StatusOK, "ok", "ok"},
		{"failing", fakeDB{err: errors.New("disk I/O error")}, http.StatusServiceUnavailable, "degraded", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, directLoop{}, nil)
			srv.auditDB = tt.db

			rec := get(t, srv.buildRouter(), "/api/v1/health")
			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body struct {
				Status string `json:"status"`
				Audit  string `json:"audit"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body.Status != tt.wantStatus || body.Audit != tt.wantAudit {
				t.Errorf("status, audit = %q, %q, want %q, %q", body.Status, body.Audit, tt.wantStatus, tt.wantAudit)
			}
		})
	}
}

func TestHandleHealth_LoopStopped(t *testing.T) {
	h := testServer(t, directLoop{err: eventloop.ErrStopped}, nil).buildRouter()

	rec := get(t, h, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	h := testServer(t, directLoop{}, nil).buildRouter()

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ucentral_mqtt_up 1") {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandleListAudit(t *testing.T) {
	repo := &fakeAudit{entries: []audit.Entry{
		{ID: "aud-1", Action: audit.ActionCommandCompleted, TaskID: "t1", Source: "mqtt"},
	}}
	h := testServer(t, directLoop{}, repo).buildRouter()

	rec := get(t, h, "/api/v1/audit?action=command.completed&task_id=t1&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	want := audit.Filter{Action: audit.ActionCommandCompleted, TaskID: "t1", Limit: 5}
	if repo.filter != want {
		t.Errorf("filter = %+v, want %+v", repo.filter, want)
	}

	var body struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 1 || body.Entries[0].ID != "aud-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleListAudit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		repo   audit.Repository
		target string
		want   int
	}{
		{"disabled", nil, "/api/v1/audit", http.StatusServiceUnavailable},
		{"bad limit", &fakeAudit{}, "/api/v1/audit?limit=x", http.StatusBadRequest},
		{"negative limit", &fakeAudit{}, "/api/v1/audit?limit=-1", http.StatusBadRequest},
		{"repository error", &fakeAudit{err: errors.New("locked")}, "/api/v1/audit", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testServer(t, directLoop{}, tt.repo).buildRouter()
			if rec := get(t, h, tt.target); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_StartClose(t *testing.T) {
	srv := testServer(t, directLoop{}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

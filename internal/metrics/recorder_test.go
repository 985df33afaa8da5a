package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/blogic/ucentral-mqtt/internal/connection"
	"github.com/blogic/ucentral-mqtt/internal/process"
)

// value returns the value of the named series whose labels include want.
func value(t *testing.T, reg *prom.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("series %s%v not found", name, want)
	return 0
}

func TestRecorder_Connection(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)

	if got := value(t, reg, "ucentral_mqtt_connection_state", map[string]string{"state": "disconnected"}); got != 1 {
		t.Errorf("initial disconnected gauge = %v, want 1", got)
	}

	r.ConnectionState(connection.StateConnected, 30*time.Second)
	r.ConnectAttempt(true)
	r.ConnectAttempt(false)
	r.ConnectAttempt(false)

	if got := value(t, reg, "ucentral_mqtt_connection_state", map[string]string{"state": "connected"}); got != 1 {
		t.Errorf("connected gauge = %v, want 1", got)
	}
	if got := value(t, reg, "ucentral_mqtt_connection_state", map[string]string{"state": "disconnected"}); got != 0 {
		t.Errorf("disconnected gauge = %v, want 0", got)
	}
	if got := value(t, reg, "ucentral_mqtt_reconnect_delay_seconds", nil); got != 30 {
		t.Errorf("reconnect delay = %v, want 30", got)
	}
	if got := value(t, reg, "ucentral_mqtt_connect_attempts_total", map[string]string{"result": "failure"}); got != 2 {
		t.Errorf("failed attempts = %v, want 2", got)
	}
}

func TestRecorder_Tasks(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)
	stats := &process.Task{Kind: process.KindStats}
	cmd := &process.Task{Kind: process.KindCommand}

	r.TaskCompleted(stats, process.Result{State: process.StateCompleted, Duration: time.Second})
	r.TaskCompleted(cmd, process.Result{State: process.StateTimedOut, ExitCode: -1, Err: process.ErrTimedOut, Duration: 15 * time.Second})
	r.TaskCompleted(cmd, process.Result{State: process.StateCompleted, ExitCode: -1, Err: process.ErrSpawnFailed})
	r.TaskCompleted(cmd, process.Result{State: process.StateCompleted, ExitCode: 2, Err: process.ErrExitStatus, Duration: time.Second})

	tests := []struct {
		kind   string
		result string
	}{
		{"stats", "success"},
		{"command", "timed_out"},
		{"command", "spawn_failed"},
		{"command", "failed"},
	}
	for _, tt := range tests {
		if got := value(t, reg, "ucentral_mqtt_tasks_total", map[string]string{"kind": tt.kind, "result": tt.result}); got != 1 {
			t.Errorf("tasks{%s,%s} = %v, want 1", tt.kind, tt.result, got)
		}
	}

	if got := value(t, reg, "ucentral_mqtt_task_duration_seconds", map[string]string{"kind": "command"}); got != 2 {
		t.Errorf("command duration samples = %v, want 2", got)
	}
}

func TestRecorder_Routing(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)

	r.MessageRouted("venue", "ok")
	r.MessageRouted("venue", "ok")
	r.Published("stats", "failed")

	if got := value(t, reg, "ucentral_mqtt_messages_total", map[string]string{"route": "venue", "result": "ok"}); got != 2 {
		t.Errorf("venue messages = %v, want 2", got)
	}
	if got := value(t, reg, "ucentral_mqtt_publish_total", map[string]string{"topic_kind": "stats", "result": "failed"}); got != 1 {
		t.Errorf("failed stats publishes = %v, want 1", got)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder

	r.ConnectionState(connection.StateConnected, time.Second)
	r.ConnectAttempt(true)
	r.TaskCompleted(&process.Task{}, process.Result{})
	r.MessageRouted("venue", "ok")
	r.Published("venue", "ok")

	if r.Registry() != nil {
		t.Error("Registry() on nil recorder != nil")
	}
	if r.Handler() == nil {
		t.Error("Handler() on nil recorder = nil")
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder(nil)
	r.ConnectAttempt(true)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `ucentral_mqtt_connect_attempts_total{result="success"} 1`) {
		t.Errorf("body missing connect attempts counter:\n%s", rec.Body.String())
	}
}

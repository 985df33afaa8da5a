package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
	"github.com/blogic/ucentral-mqtt/internal/process"
)

type fakeExec struct {
	err   error
	calls int
}

func (e *fakeExec) Do(_ context.Context, fn func()) error {
	e.calls++
	if e.err != nil {
		return e.err
	}
	fn()
	return nil
}

type fakeBackend struct {
	state      State
	publishErr error
	published  []string
}

func (b *fakeBackend) State() State { return b.state }

func (b *fakeBackend) PublishVenue(msg json.RawMessage) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, string(msg))
	return nil
}

func testBusConfig() config.BusConfig {
	return config.BusConfig{
		URL:            "nats://127.0.0.1:1",
		Object:         "mqtt",
		Name:           "ucentral-mqtt",
		RequestTimeout: time.Second,
	}
}

func TestStateMarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{
			name: "connected",
			state: State{
				Connected:      true,
				Since:          90*time.Second + 500*time.Millisecond,
				Name:           "connected",
				ReconnectDelay: 30 * time.Second,
				TopicStats:     "uSync/stats",
				TopicVenue:     "uSync/venue",
				Tasks:          process.Stats{Queued: 2, Running: 1},
				TopicCmd:       "001122334455/cmd",
			},
			want: `{"connected":90,"reconnect_delay":30,"state":"connected","tasks":{"queued":2,"running":1},"topic_cmd":"001122334455/cmd","topic_stats":"uSync/stats","topic_venue":"uSync/venue"}`,
		},
		{
			name:  "disconnected",
			state: State{Since: 5 * time.Second, Name: "reconnecting", ReconnectDelay: time.Minute},
			want:  `{"disconnected":5,"reconnect_delay":60,"state":"reconnecting","tasks":{"queued":0,"running":0},"topic_cmd":"","topic_stats":"","topic_venue":""}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.state)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestServer_StateReply(t *testing.T) {
	backend := &fakeBackend{state: State{Connected: true, Name: "connected"}}
	exec := &fakeExec{}
	s := NewServer(testBusConfig(), exec, backend)

	got, ok := s.stateReply().(State)
	if !ok {
		t.Fatalf("stateReply() = %T, want State", s.stateReply())
	}
	if !got.Connected || got.Name != "connected" {
		t.Errorf("stateReply() = %+v, want connected", got)
	}

	exec.err = context.DeadlineExceeded
	reply, ok := s.stateReply().(Reply)
	if !ok || reply.Status != StatusTimeout {
		t.Errorf("stateReply() with stalled loop = %+v, want timeout", reply)
	}
}

func TestServer_PublishReply(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		execErr    error
		publishErr error
		wantStatus string
		wantCalls  int
	}{
		{"published", `{"hello":"world"}`, nil, nil, StatusOK, 1},
		{"not connected", `{"hello":"world"}`, nil, errors.New("not connected"), StatusTimeout, 1},
		{"loop stalled", `{"hello":"world"}`, context.DeadlineExceeded, nil, StatusTimeout, 1},
		{"array", `[1,2]`, nil, nil, StatusInvalidArgument, 0},
		{"not json", `hello`, nil, nil, StatusInvalidArgument, 0},
		{"empty", ``, nil, nil, StatusInvalidArgument, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{publishErr: tt.publishErr}
			exec := &fakeExec{err: tt.execErr}
			s := NewServer(testBusConfig(), exec, backend)

			reply := s.publishReply([]byte(tt.data))

			if reply.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", reply.Status, tt.wantStatus)
			}
			if (reply.Status == StatusOK) != (reply.Error == "") {
				t.Errorf("Error = %q with status %q", reply.Error, reply.Status)
			}
			if exec.calls != tt.wantCalls {
				t.Errorf("loop calls = %d, want %d", exec.calls, tt.wantCalls)
			}
			if tt.wantStatus == StatusOK && (len(backend.published) != 1 || backend.published[0] != tt.data) {
				t.Errorf("published = %v, want [%s]", backend.published, tt.data)
			}
		})
	}
}

func TestReplyJSON(t *testing.T) {
	got, _ := json.Marshal(Reply{Status: StatusOK})
	if string(got) != `{"status":"ok"}` {
		t.Errorf("Marshal(ok) = %s", got)
	}
	got, _ = json.Marshal(Reply{Status: StatusTimeout, Error: "not connected"})
	if string(got) != `{"status":"timeout","error":"not connected"}` {
		t.Errorf("Marshal(timeout) = %s", got)
	}
}

func TestServer_Unconnected(t *testing.T) {
	s := NewServer(testBusConfig(), &fakeExec{}, &fakeBackend{})

	if err := s.Notify(json.RawMessage(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Notify() error = %v, want ErrNotConnected", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
	if got := s.subject("state"); got != "mqtt.state" {
		t.Errorf("subject(state) = %q, want mqtt.state", got)
	}
}

func TestServer_ConnectFailure(t *testing.T) {
	s := NewServer(testBusConfig(), &fakeExec{}, &fakeBackend{})

	if err := s.Connect(); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNewServer_DefaultTimeout(t *testing.T) {
	cfg := testBusConfig()
	cfg.RequestTimeout = 0

	s := NewServer(cfg, &fakeExec{}, &fakeBackend{})
	if s.cfg.RequestTimeout != defaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", s.cfg.RequestTimeout, defaultRequestTimeout)
	}
}

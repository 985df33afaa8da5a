package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/process"
)

// Logger defines the logging interface for the adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Submitter queues tasks. *process.Queue implements it.
type Submitter interface {
	Submit(t *process.Task, allowConcurrent bool) error
}

// Publisher sends a payload to the broker. *connection.Machine implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// StatsSink receives every successfully collected stats object.
type StatsSink interface {
	WriteStats(stats map[string]any)
}

// StatsConfig configures the stats adapter.
type StatsConfig struct {
	// Serial is the device serial placed in the envelope.
	Serial string

	// Topic is the outbound stats topic.
	Topic string

	// File is the scratch file the collector writes.
	File string

	// Timeout bounds one collector run.
	Timeout time.Duration

	// Launch starts the collector.
	Launch process.LaunchFunc
}

// Stats runs the stats collector and publishes its output.
type Stats struct {
	queue  Submitter
	pub    Publisher
	cfg    StatsConfig
	logger Logger
	sink   StatsSink
}

// NewStats creates the stats adapter.
func NewStats(queue Submitter, pub Publisher, cfg StatsConfig) *Stats {
	return &Stats{
		queue:  queue,
		pub:    pub,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the adapter.
func (s *Stats) SetLogger(logger Logger) {
	s.logger = logger
}

// SetSink sets an additional consumer for collected stats. Pass nil to remove it.
func (s *Stats) SetSink(sink StatsSink) {
	s.sink = sink
}

// Trigger queues one collector run. A trigger while a stats run is queued
// or running is coalesced into it.
func (s *Stats) Trigger() {
	t := &process.Task{
		Kind:       process.KindStats,
		Name:       "stats",
		Timeout:    s.cfg.Timeout,
		Coalesce:   true,
		Launch:     s.cfg.Launch,
		OnComplete: s.complete,
	}

	err := s.queue.Submit(t, false)
	switch {
	case err == nil:
	case errors.Is(err, process.ErrAlreadyQueued):
		s.logger.Debug("stats run already pending")
	default:
		s.logger.Warn("failed to queue stats run", "error", err)
	}
}

func (s *Stats) complete(t *process.Task, r process.Result) {
	if !r.Success() {
		s.logger.Warn("stats collector failed",
			"task", t.ID(),
			"state", r.State,
			"exit_code", r.ExitCode,
			"error", r.Err,
		)
		return
	}

	raw, stats, err := ReadStats(s.cfg.File)
	if err != nil {
		s.logger.Warn("skipping stats cycle", "file", s.cfg.File, "error", err)
		return
	}

	payload, err := Envelope(s.cfg.Serial, raw)
	if err != nil {
		s.logger.Warn("skipping stats cycle", "error", err)
		return
	}

	if err := s.pub.Publish(s.cfg.Topic, payload); err != nil {
		s.logger.Info("stats not published", "topic", s.cfg.Topic, "error", err)
	} else {
		s.logger.Debug("stats published", "topic", s.cfg.Topic, "bytes", len(payload))
	}

	if s.sink != nil {
		s.sink.WriteStats(stats)
	}
}

// ReadStats reads path and requires it to hold a JSON object. It returns the
// raw text and the decoded object.
func ReadStats(path string) (json.RawMessage, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading stats: %w", err)
	}

	var stats map[string]any
	if err := json.Unmarshal(data, &stats); err != nil || stats == nil {
		return nil, nil, ErrStatsFormat
	}
	return json.RawMessage(data), stats, nil
}

// Envelope wraps a stats object as {"serial": ..., "stats": ...} followed by
// a NUL byte.
func Envelope(serial string, stats json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(struct {
		Serial string          `json:"serial"`
		Stats  json.RawMessage `json:"stats"`
	}{serial, stats})
	if err != nil {
		return nil, fmt.Errorf("encoding stats envelope: %w", err)
	}
	return append(b, 0), nil
}

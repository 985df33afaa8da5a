package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blogic/ucentral-mqtt/internal/infrastructure/mqtt"
	"github.com/blogic/ucentral-mqtt/internal/process"
)

// Route names used for logging and metrics.
const (
	RouteVenue     = "venue"
	RouteCommand   = "command"
	RouteUnmatched = "unmatched"
)

// Result labels reported to the Observer.
const (
	ResultOK        = "ok"
	ResultMalformed = "malformed"
	ResultInvalid   = "invalid"
	ResultMismatch  = "mismatch"
	ResultFailed    = "failed"
)

// Logger defines the logging interface for the router.
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

// Publisher sends a payload to the broker. *connection.Machine implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// CommandRunner executes a validated command. *tasks.Command implements it.
type CommandRunner interface {
	Run(raw []byte) (*process.Task, error)
}

// Notifier emits a "msg" event on the local bus.
type Notifier interface {
	Notify(msg json.RawMessage) error
}

// Auditor records rejected commands. Accepted ones are recorded by the
// runner once queued.
type Auditor interface {
	CommandRejected(raw []byte, reason error)
}

// Observer receives routing telemetry.
type Observer interface {
	MessageRouted(route, result string)
	Published(topicKind, result string)
}

// Router dispatches inbound messages and publishes outbound ones.
type Router struct {
	serial string
	topics mqtt.Topics
	runner CommandRunner
	pub    Publisher

	logger   Logger
	notifier Notifier
	auditor  Auditor
	observer Observer
}

// New creates a router for the device serial and its topics.
func New(serial string, topics mqtt.Topics, runner CommandRunner, pub Publisher) *Router {
	return &Router{
		serial: serial,
		topics: topics,
		runner: runner,
		pub:    pub,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets the local bus notifier. Venue messages are dropped while
// it is nil.
func (r *Router) SetNotifier(n Notifier) {
	r.notifier = n
}

// SetAuditor sets the command recorder. Pass nil to remove it.
func (r *Router) SetAuditor(a Auditor) {
	r.auditor = a
}

// SetObserver sets the telemetry observer. Pass nil to remove it.
func (r *Router) SetObserver(obs Observer) {
	r.observer = obs
}

// Handle routes one inbound message. The venue and command routes are
// matched independently, so a topic matching both is handled twice.
func (r *Router) Handle(topic string, payload []byte) {
	matched := false

	if mqtt.Match(r.topics.Venue, topic) {
		matched = true
		if err := r.HandleVenue(payload); err != nil {
			r.logger.Warn("dropping venue message", "topic", topic, "error", err)
		}
	}

	if mqtt.Match(r.topics.Command, topic) {
		matched = true
		if err := r.HandleCommand(payload); err != nil {
			r.logger.Warn("dropping command", "topic", topic, "error", err)
		}
	}

	if !matched {
		r.logger.Debug("no route for message", "topic", topic)
		r.routed(RouteUnmatched, ResultOK)
	}
}

// HandleVenue forwards a NUL-terminated venue message to the local bus. A
// JSON object is forwarded as is; any other text is wrapped as {"msg": text}.
func (r *Router) HandleVenue(payload []byte) error {
	if len(payload) == 0 || payload[len(payload)-1] != 0 {
		r.routed(RouteVenue, ResultMalformed)
		return fmt.Errorf("%w: missing NUL terminator", ErrMalformedPayload)
	}
	text := payload[:len(payload)-1]

	msg, ok := jsonObject(text)
	if !ok {
		b, err := json.Marshal(map[string]string{"msg": string(text)})
		if err != nil {
			r.routed(RouteVenue, ResultMalformed)
			return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		msg = b
	}

	if r.notifier == nil {
		r.routed(RouteVenue, ResultFailed)
		return errors.New("no local bus")
	}
	if err := r.notifier.Notify(msg); err != nil {
		r.routed(RouteVenue, ResultFailed)
		return fmt.Errorf("notifying local bus: %w", err)
	}

	r.routed(RouteVenue, ResultOK)
	return nil
}

// HandleCommand validates a command and hands it to the runner. One trailing
// NUL is stripped. The command must be a JSON object with string "serial"
// and "cmd" fields, and serial must be this device's.
func (r *Router) HandleCommand(payload []byte) error {
	raw := bytes.TrimSuffix(payload, []byte{0})

	if err := r.validateCommand(raw); err != nil {
		switch {
		case errors.Is(err, ErrSerialMismatch):
			r.routed(RouteCommand, ResultMismatch)
		case errors.Is(err, ErrMalformedPayload):
			r.routed(RouteCommand, ResultMalformed)
		default:
			r.routed(RouteCommand, ResultInvalid)
		}
		if r.auditor != nil {
			r.auditor.CommandRejected(raw, err)
		}
		return err
	}

	if _, err := r.runner.Run(raw); err != nil {
		r.routed(RouteCommand, ResultFailed)
		if r.auditor != nil {
			r.auditor.CommandRejected(raw, err)
		}
		return fmt.Errorf("running command: %w", err)
	}

	r.routed(RouteCommand, ResultOK)
	return nil
}

// PublishVenue encodes v as JSON and publishes it, NUL-terminated, on the
// venue topic.
func (r *Router) PublishVenue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return r.Publish(r.topics.Venue, append(b, 0))
}

// Publish sends payload on topic through the connection.
func (r *Router) Publish(topic string, payload []byte) error {
	kind := r.topicKind(topic)

	if err := r.pub.Publish(topic, payload); err != nil {
		r.published(kind, ResultFailed)
		return err
	}

	r.published(kind, ResultOK)
	return nil
}

func (r *Router) validateCommand(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	serial, ok := stringField(fields, "serial")
	if !ok {
		return fmt.Errorf("%w: missing string field %q", ErrInvalidCommand, "serial")
	}
	if _, ok := stringField(fields, "cmd"); !ok {
		return fmt.Errorf("%w: missing string field %q", ErrInvalidCommand, "cmd")
	}

	if serial != r.serial {
		return fmt.Errorf("%w: got %q", ErrSerialMismatch, serial)
	}
	return nil
}

func (r *Router) topicKind(topic string) string {
	switch topic {
	case r.topics.Stats:
		return "stats"
	case r.topics.Venue:
		return "venue"
	default:
		return "other"
	}
}

func (r *Router) routed(route, result string) {
	if r.observer != nil {
		r.observer.MessageRouted(route, result)
	}
}

func (r *Router) published(kind, result string) {
	if r.observer != nil {
		r.observer.Published(kind, result)
	}
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	v, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// jsonObject returns text compacted if it is a single JSON object.
func jsonObject(text []byte) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(text, &obj); err != nil || obj == nil {
		return nil, false
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, text); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
	"github.com/blogic/ucentral-mqtt/internal/process"
)

// Reply statuses.
const (
	StatusOK              = "ok"
	StatusTimeout         = "timeout"
	StatusInvalidArgument = "invalid_argument"
)

const (
	defaultRequestTimeout = 5 * time.Second
	reconnectWait         = 2 * time.Second
)

// Logger defines the logging interface for the bus server.
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

// Executor runs fn on the event loop and waits for it. *eventloop.Loop
// implements it.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// Backend answers bus requests. Its methods are called on the event loop.
type Backend interface {
	State() State
	PublishVenue(msg json.RawMessage) error
}

// State is the reply to a state request.
type State struct {
	// Connected selects the "connected" or "disconnected" key.
	Connected bool

	// Since is the time since the last connect or disconnect edge.
	Since time.Duration

	// Name is the connection state name.
	Name string

	// ReconnectDelay is the delay used after the next failure.
	ReconnectDelay time.Duration

	// Tasks is the helper queue occupancy.
	Tasks process.Stats

	TopicStats string
	TopicVenue string
	TopicCmd   string
}

// MarshalJSON encodes the state with whole seconds.
func (s State) MarshalJSON() ([]byte, error) {
	edge := "disconnected"
	if s.Connected {
		edge = "connected"
	}
	return json.Marshal(map[string]any{
		edge:              int64(s.Since / time.Second),
		"state":           s.Name,
		"reconnect_delay": int64(s.ReconnectDelay / time.Second),
		"tasks":           s.Tasks,
		"topic_stats":     s.TopicStats,
		"topic_venue":     s.TopicVenue,
		"topic_cmd":       s.TopicCmd,
	})
}

// Reply is the status reply to a publish request.
type Reply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Server registers the bridge object on the bus.
type Server struct {
	conn    *nats.Conn
	cfg     config.BusConfig
	exec    Executor
	backend Backend
	logger  Logger
	subs    []*nats.Subscription
}

// NewServer creates an unconnected server.
func NewServer(cfg config.BusConfig, exec Executor, backend Backend) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Server{
		cfg:     cfg,
		exec:    exec,
		backend: backend,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// Connect dials the bus and subscribes the request subjects. The initial
// dial must succeed; later outages are retried forever.
func (s *Server) Connect() error {
	conn, err := nats.Connect(s.cfg.URL,
		nats.Name(s.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("bus reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	s.conn = conn

	handlers := map[string]nats.MsgHandler{
		s.subject("state"):   s.onState,
		s.subject("publish"): s.onPublish,
	}
	for subject, handler := range handlers {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			conn.Close()
			return fmt.Errorf("subscribing %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("bus connected",
		"url", conn.ConnectedUrl(),
		"object", s.cfg.Object,
	)
	return nil
}

// Notify emits msg on the "<object>.msg" subject.
func (s *Server) Notify(msg json.RawMessage) error {
	if s.conn == nil || s.conn.IsClosed() {
		return ErrNotConnected
	}
	if err := s.conn.Publish(s.subject("msg"), msg); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Close drains the subscriptions and closes the connection.
func (s *Server) Close() error {
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("draining bus connection: %w", err)
	}
	return nil
}

func (s *Server) subject(method string) string {
	return s.cfg.Object + "." + method
}

func (s *Server) onState(msg *nats.Msg) {
	s.respond(msg, s.stateReply())
}

func (s *Server) onPublish(msg *nats.Msg) {
	s.respond(msg, s.publishReply(msg.Data))
}

func (s *Server) respond(msg *nats.Msg, body any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("encoding bus reply", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("sending bus reply", "subject", msg.Subject, "error", err)
	}
}

// stateReply runs on a NATS goroutine and fetches the state from the loop.
func (s *Server) stateReply() any {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	var st State
	if err := s.exec.Do(ctx, func() { st = s.backend.State() }); err != nil {
		return Reply{Status: StatusTimeout, Error: err.Error()}
	}
	return st
}

// publishReply runs on a NATS goroutine and publishes through the loop.
func (s *Server) publishReply(data []byte) Reply {
	if !isObject(data) {
		return Reply{Status: StatusInvalidArgument, Error: ErrInvalidRequest.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	var pubErr error
	if err := s.exec.Do(ctx, func() { pubErr = s.backend.PublishVenue(data) }); err != nil {
		return Reply{Status: StatusTimeout, Error: err.Error()}
	}
	if pubErr != nil {
		s.logger.Debug("bus publish refused", "error", pubErr)
		return Reply{Status: StatusTimeout, Error: pubErr.Error()}
	}
	return Reply{Status: StatusOK}
}

func isObject(data []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(data, &obj) == nil && obj != nil
}

package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
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

// Session wraps a paho client whose callbacks are queued instead of handled.
//
// paho invokes its connect, connection-lost and message handlers on its own
// goroutines. Session turns each of them into an Event in a bounded inbox;
// the owner calls Service on its event loop to receive them in order. Only
// PublishWait blocks on the network.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	client pahomqtt.Client
	broker string
	inbox  *inbox

	// connecting is set while a connect token is outstanding.
	connecting atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession builds a session for the configured broker. It does not connect.
//
// Parameters:
//   - cfg: MQTT configuration
//   - clientID: MQTT client identifier (normally the device serial)
//
// Returns:
//   - *Session: Disconnected session
//   - error: If the TLS configuration cannot be loaded
func NewSession(cfg config.MQTTConfig, clientID string) (*Session, error) {
	opts, err := buildClientOptions(cfg, clientID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		broker: fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		inbox:  newInbox(defaultInboxCapacity),
		logger: noopLogger{},
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.inbox.push(Event{Type: EventConnected})
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.inbox.push(Event{Type: EventDisconnected, Err: err})
	})

	// Subscriptions register no handler of their own, so every inbound
	// publish lands here.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		s.inbox.push(Event{Type: EventMessage, Topic: msg.Topic(), Payload: payload})
	})

	s.client = pahomqtt.NewClient(opts)
	return s, nil
}

// Broker returns the broker address for logging.
func (s *Session) Broker() string {
	return s.broker
}

// Connect starts a connect attempt and returns without waiting for it.
//
// The outcome arrives through Service as EventConnected or
// EventConnectFailed. A synchronous error means no attempt was made.
func (s *Session) Connect() error {
	if !s.connecting.CompareAndSwap(false, true) {
		return ErrConnectInProgress
	}

	s.getLogger().Debug("connecting to broker", "broker", s.broker)

	token := s.client.Connect()
	go func() {
		defer s.connecting.Store(false)
		token.Wait()
		if err := token.Error(); err != nil {
			s.inbox.push(Event{
				Type: EventConnectFailed,
				Err:  fmt.Errorf("%w: %w", ErrConnectionFailed, err),
			})
		}
	}()

	return nil
}

// Subscribe requests a QoS 0 subscription. The acknowledgement is awaited in
// the background and failures are logged.
func (s *Session) Subscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Subscribe(topic, 0, nil)
	go s.watch("subscribe", topic, token)
	return nil
}

// Publish sends payload with QoS 0, not retained.
func (s *Session) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, 0, false, payload)
	go s.watch("publish", topic, token)
	return nil
}

// PublishWait sends payload like Publish and waits until paho reports the
// publish complete or ctx is done. It blocks, so it is meant for short-lived
// clients rather than the event loop.
func (s *Session) PublishWait(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Service returns every event queued since the previous call, oldest first.
func (s *Session) Service() []Event {
	events, dropped := s.inbox.drainAll()
	if dropped > 0 {
		s.getLogger().Warn("mqtt inbox full, dropped messages", "dropped", dropped)
	}
	return events
}

// Disconnect closes the session, waiting briefly for in-flight work.
func (s *Session) Disconnect() {
	if s.client.IsConnectionOpen() {
		s.client.Disconnect(defaultDisconnectQuiesce)
	}
}

// SetLogger sets a logger for error logging.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// watch logs the outcome of an asynchronous paho operation.
func (s *Session) watch(op, topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(defaultTokenTimeout) {
		s.getLogger().Warn("mqtt operation timed out", "op", op, "topic", topic, "timeout", defaultTokenTimeout)
		return
	}
	if err := token.Error(); err != nil {
		s.getLogger().Warn("mqtt operation failed", "op", op, "topic", topic, "error", err)
	}
}

package connection

import (
	"fmt"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/eventloop"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/mqtt"
)

// MaxReconnectDelay is the modulus applied when the reconnect delay grows.
const MaxReconnectDelay = 15 * time.Minute

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Session is the broker session the machine drives.
// *mqtt.Session implements it.
type Session interface {
	Connect() error
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	Service() []mqtt.Event
	Disconnect()
}

// Logger defines the logging interface for the machine.
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

// Observer receives connection telemetry.
type Observer interface {
	// ConnectionState is called on every state change.
	ConnectionState(state State, reconnectDelay time.Duration)

	// ConnectAttempt is called with the outcome of every connect attempt.
	ConnectAttempt(ok bool)
}

// Config holds the machine's timing and topics.
type Config struct {
	// BaseDelay is the initial reconnect delay.
	BaseDelay time.Duration

	// ConnectTimeout is the delay before reconnecting after a lost session.
	ConnectTimeout time.Duration

	// ServiceInterval is the period of the service tick.
	ServiceInterval time.Duration

	// StatsInterval is the period of the stats trigger while connected.
	StatsInterval time.Duration

	// Subscriptions are the topics subscribed on every connect.
	Subscriptions []string
}

// Status is a snapshot for status queries.
type Status struct {
	State State

	// Connected is true only in StateConnected.
	Connected bool

	// Since is the time elapsed since the last connect or disconnect edge.
	Since time.Duration

	// ConnectedSince is when the current session was established, zero
	// when not connected.
	ConnectedSince time.Time

	// LastTransition is the time of the most recent state change.
	LastTransition time.Time

	// ReconnectDelay is the delay that will be used after the next failure.
	ReconnectDelay time.Duration
}

// Machine is the connection state machine.
type Machine struct {
	sched    eventloop.Scheduler
	session  Session
	config   Config
	logger   Logger
	observer Observer

	onMessage func(topic string, payload []byte)
	onStats   func()

	state          State
	reconnectDelay time.Duration
	connectedSince time.Time
	lastTransition time.Time
	lastEdge       time.Time

	serviceTimer eventloop.Timer
	retryTimer   eventloop.Timer
	statsTimer   eventloop.Timer
}

// New creates a machine in StateDisconnected.
func New(sched eventloop.Scheduler, session Session, cfg Config) *Machine {
	now := sched.Now()
	m := &Machine{
		sched:          sched,
		session:        session,
		config:         cfg,
		logger:         noopLogger{},
		state:          StateDisconnected,
		reconnectDelay: cfg.BaseDelay,
		lastTransition: now,
		lastEdge:       now,
	}

	m.serviceTimer = sched.NewTimer(m.service)
	m.retryTimer = sched.NewTimer(m.retry)
	m.statsTimer = sched.NewTimer(m.stats)

	return m
}

// SetLogger sets the logger for the machine.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
}

// SetObserver sets the telemetry observer. Pass nil to remove it.
func (m *Machine) SetObserver(obs Observer) {
	m.observer = obs
}

// SetMessageHandler sets the handler for inbound publishes received while
// connected.
func (m *Machine) SetMessageHandler(fn func(topic string, payload []byte)) {
	m.onMessage = fn
}

// SetStatsTrigger sets the function called by the stats timer.
func (m *Machine) SetStatsTrigger(fn func()) {
	m.onStats = fn
}

// Start arms the service tick and issues the first connect.
func (m *Machine) Start() error {
	if m.state != StateDisconnected {
		return ErrAlreadyStarted
	}

	m.serviceTimer.Set(m.config.ServiceInterval)
	m.transition(StateConnecting)
	m.connect()
	return nil
}

// Stop cancels all timers, closes the session and moves to StateDisconnected.
func (m *Machine) Stop() {
	m.serviceTimer.Cancel()
	m.retryTimer.Cancel()
	m.statsTimer.Cancel()

	if m.state == StateConnected || m.state == StateConnecting {
		m.session.Disconnect()
	}
	if m.state == StateConnected {
		m.lastEdge = m.sched.Now()
	}
	m.connectedSince = time.Time{}
	m.transition(StateDisconnected)
}

// Publish sends payload on topic. It fails with ErrNotConnected, without
// touching the session, unless the machine is Connected.
func (m *Machine) Publish(topic string, payload []byte) error {
	if m.state != StateConnected {
		return ErrNotConnected
	}
	if err := m.session.Publish(topic, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// ReconnectDelay returns the delay that will be used after the next failure.
func (m *Machine) ReconnectDelay() time.Duration {
	return m.reconnectDelay
}

// Status returns a snapshot of the connection.
func (m *Machine) Status() Status {
	return Status{
		State:          m.state,
		Connected:      m.state == StateConnected,
		Since:          m.sched.Now().Sub(m.lastEdge),
		ConnectedSince: m.connectedSince,
		LastTransition: m.lastTransition,
		ReconnectDelay: m.reconnectDelay,
	}
}

// NextDelay applies the backoff policy: double modulo MaxReconnectDelay,
// never below base.
func NextDelay(current, base time.Duration) time.Duration {
	next := (current * 2) % MaxReconnectDelay
	if next < base {
		next = base
	}
	return next
}

func (m *Machine) connect() {
	if err := m.session.Connect(); err != nil {
		m.logger.Warn("failed to connect",
			"error", err,
			"retry_in", m.reconnectDelay,
		)
		m.attempt(false)
		m.transition(StateReconnecting)
		m.retryTimer.Set(m.reconnectDelay)
	}
}

// service drains the session inbox. It re-arms itself in every state.
func (m *Machine) service() {
	m.serviceTimer.Set(m.config.ServiceInterval)

	for _, ev := range m.session.Service() {
		m.dispatch(ev)
	}
}

func (m *Machine) dispatch(ev mqtt.Event) {
	switch ev.Type {
	case mqtt.EventConnected:
		m.handleConnected()
	case mqtt.EventConnectFailed:
		m.handleConnectFailed(ev.Err)
	case mqtt.EventDisconnected:
		m.handleDisconnected(ev.Err)
	case mqtt.EventMessage:
		if m.state != StateConnected {
			m.logger.Debug("dropping message received while not connected", "topic", ev.Topic)
			return
		}
		if m.onMessage != nil {
			m.onMessage(ev.Topic, ev.Payload)
		}
	}
}

func (m *Machine) handleConnected() {
	if m.state == StateDisconnected || m.state == StateConnected {
		return
	}

	now := m.sched.Now()
	m.retryTimer.Cancel()
	m.reconnectDelay = m.config.BaseDelay
	m.connectedSince = now
	m.lastEdge = now
	m.attempt(true)
	m.transition(StateConnected)

	m.logger.Info("connected")

	for _, topic := range m.config.Subscriptions {
		if err := m.session.Subscribe(topic); err != nil {
			m.logger.Warn("failed to subscribe", "topic", topic, "error", err)
		}
	}

	m.statsTimer.Set(m.config.StatsInterval)
}

func (m *Machine) handleConnectFailed(err error) {
	if m.state != StateConnecting {
		return
	}

	m.logger.Info("failed to connect",
		"error", err,
		"retry_in", m.reconnectDelay,
	)
	m.attempt(false)
	m.retryTimer.Set(m.reconnectDelay)
	m.reconnectDelay = NextDelay(m.reconnectDelay, m.config.BaseDelay)
	m.transition(StateReconnecting)
}

func (m *Machine) handleDisconnected(err error) {
	if m.state != StateConnected {
		return
	}

	m.logger.Info("disconnected",
		"error", err,
		"retry_in", m.config.ConnectTimeout,
	)

	m.lastEdge = m.sched.Now()
	m.connectedSince = time.Time{}
	m.statsTimer.Cancel()
	m.retryTimer.Set(m.config.ConnectTimeout)
	m.reconnectDelay = NextDelay(m.reconnectDelay, m.config.BaseDelay)
	m.transition(StateReconnecting)
}

func (m *Machine) retry() {
	if m.state != StateReconnecting {
		return
	}
	m.transition(StateConnecting)
	m.connect()
}

func (m *Machine) stats() {
	if m.state != StateConnected {
		return
	}
	if m.onStats != nil {
		m.onStats()
	}
	m.statsTimer.Set(m.config.StatsInterval)
}

func (m *Machine) transition(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.lastTransition = m.sched.Now()

	m.logger.Debug("connection state changed",
		"from", from,
		"to", to,
		"reconnect_delay", m.reconnectDelay,
	)
	if m.observer != nil {
		m.observer.ConnectionState(to, m.reconnectDelay)
	}
}

func (m *Machine) attempt(ok bool) {
	if m.observer != nil {
		m.observer.ConnectAttempt(ok)
	}
}

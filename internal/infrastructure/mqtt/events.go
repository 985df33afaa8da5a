package mqtt

import (
	"sync"
)

// defaultInboxCapacity bounds the number of undrained inbound messages.
const defaultInboxCapacity = 1024

// EventType identifies a broker event.
type EventType int

const (
	// EventConnected reports that the broker accepted the session.
	EventConnected EventType = iota + 1

	// EventConnectFailed reports that a connect attempt did not succeed.
	EventConnectFailed

	// EventDisconnected reports that an established session was lost.
	EventDisconnected

	// EventMessage carries an inbound publish.
	EventMessage
)

// String returns the event name for logging.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one broker callback, queued until the next Service call.
type Event struct {
	Type EventType

	// Err explains EventConnectFailed and EventDisconnected.
	Err error

	// Topic and Payload are set for EventMessage.
	Topic   string
	Payload []byte
}

// inbox is a bounded FIFO between paho's goroutines and the service tick.
//
// Connection events are always accepted. Once capacity messages are
// waiting, further messages are dropped until the next drain.
type inbox struct {
	mu       sync.Mutex
	events   []Event
	messages int
	capacity int
	dropped  int
}

func newInbox(capacity int) *inbox {
	if capacity <= 0 {
		capacity = defaultInboxCapacity
	}
	return &inbox{capacity: capacity}
}

func (b *inbox) push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Type == EventMessage {
		if b.messages >= b.capacity {
			b.dropped++
			return
		}
		b.messages++
	}
	b.events = append(b.events, ev)
}

// drainAll returns queued events oldest first and how many messages were
// dropped since the previous drain.
func (b *inbox) drainAll() ([]Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 && b.dropped == 0 {
		return nil, 0
	}

	events, dropped := b.events, b.dropped
	b.events = nil
	b.messages = 0
	b.dropped = 0
	return events, dropped
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

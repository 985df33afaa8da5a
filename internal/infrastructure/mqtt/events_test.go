package mqtt

import (
	"errors"
	"testing"
)

func TestInboxEmptyDrain(t *testing.T) {
	b := newInbox(10)
	got, dropped := b.drainAll()
	if got != nil || dropped != 0 {
		t.Errorf("drainAll() = %d events, %d dropped, want nil, 0", len(got), dropped)
	}
}

func TestInboxPreservesOrder(t *testing.T) {
	b := newInbox(10)
	b.push(Event{Type: EventConnected})
	for i := 0; i < 3; i++ {
		b.push(Event{Type: EventMessage, Topic: "t", Payload: []byte{byte(i)}})
	}
	b.push(Event{Type: EventDisconnected, Err: errors.New("eof")})

	got, _ := b.drainAll()
	if len(got) != 5 {
		t.Fatalf("drainAll() = %d events, want 5", len(got))
	}
	if got[0].Type != EventConnected || got[4].Type != EventDisconnected {
		t.Errorf("order = %s ... %s, want connected ... disconnected", got[0].Type, got[4].Type)
	}
	for i := 0; i < 3; i++ {
		if got[i+1].Payload[0] != byte(i) {
			t.Errorf("message %d payload = %d, want %d", i, got[i+1].Payload[0], i)
		}
	}

	if b.len() != 0 {
		t.Errorf("len() after drain = %d, want 0", b.len())
	}
}

func TestInboxDropsMessagesWhenFull(t *testing.T) {
	b := newInbox(3)
	for i := 0; i < 5; i++ {
		b.push(Event{Type: EventMessage, Payload: []byte{byte(i)}})
	}
	// Connection events are never dropped.
	b.push(Event{Type: EventDisconnected})

	got, dropped := b.drainAll()
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(got) != 4 {
		t.Fatalf("drainAll() = %d events, want 4", len(got))
	}
	if got[3].Type != EventDisconnected {
		t.Errorf("last event = %s, want disconnected", got[3].Type)
	}

	// Capacity is available again after a drain.
	b.push(Event{Type: EventMessage})
	if got, dropped := b.drainAll(); len(got) != 1 || dropped != 0 {
		t.Errorf("second drain = %d events, %d dropped, want 1, 0", len(got), dropped)
	}
}

func TestEventTypeString(t *testing.T) {
	tests := map[EventType]string{
		EventConnected:     "connected",
		EventConnectFailed: "connect_failed",
		EventDisconnected:  "disconnected",
		EventMessage:       "message",
		EventType(0):       "unknown",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", int(typ), got, want)
		}
	}
}

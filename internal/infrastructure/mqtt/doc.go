// Package mqtt provides the broker session used by the bridge.
//
// This package manages:
//   - Connection options (TLS with a pinned CA or self-signed acceptance,
//     credentials, keepalive) for the paho client
//   - Non-blocking connect, subscribe and publish at QoS 0
//   - An event inbox that turns paho callbacks into Events
//   - Topic names derived from venue and serial, and filter matching
//
// # Architecture
//
// paho runs its network I/O on its own goroutines. The bridge keeps all
// state on a single event loop, so Session never calls back into the bridge:
// callbacks are queued and the connection machine drains them with Service
// on its periodic service tick.
//
//	paho goroutines → inbox → Service() on the loop → connection.Machine
//
// Reconnection is not delegated to paho. The connection machine decides
// when to call Connect again.
//
// # Usage
//
//	session, err := mqtt.NewSession(cfg.MQTT, cfg.ClientID())
//	if err != nil {
//	    return err
//	}
//	if err := session.Connect(); err != nil {
//	    return err
//	}
//	for _, ev := range session.Service() {
//	    // EventConnected, EventConnectFailed, EventDisconnected, EventMessage
//	}
package mqtt

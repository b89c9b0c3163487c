package mqtt

import "time"

// State is the lifecycle state of a Session's broker connection.
type State int32

// Connection states. Only the Session moves between them.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// EventKind identifies what happened on the session.
type EventKind int

// Event kinds delivered to observers.
const (
	// EventConnected follows every successful Connect, after the declared
	// subscriptions are in place.
	EventConnected EventKind = iota + 1

	// EventDisconnected follows a requested Disconnect (Err is nil) or an
	// unexpected loss of the connection (Err describes the cause).
	EventDisconnected

	// EventMessage carries one inbound publish.
	EventMessage
)

// String returns the name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a connection-state change or an inbound message.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error
	At      time.Time
}

// Observer receives session events.
//
// HandleEvent is called from the session's single delivery goroutine, one
// event at a time, in arrival order. It must not block indefinitely: the next
// inbound message is not delivered until it returns.
type Observer interface {
	HandleEvent(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// HandleEvent calls f(ev).
func (f ObserverFunc) HandleEvent(ev Event) {
	f(ev)
}

// Subscription is a topic pattern the session subscribes to on every connect.
type Subscription struct {
	Topic string
	QoS   byte
}

// Ack is the local acknowledgment of a publish.
//
// At QoS 0 it means the message was accepted by the local transport for
// sending. It is not confirmation that the broker received it.
type Ack struct {
	Topic      string
	MessageID  uint16
	AcceptedAt time.Time
}

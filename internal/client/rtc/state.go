package rtc

import "github.com/pion/webrtc/v4"

// State mirrors the aggregate connectivity of the peer connection.
// Failed and Closed are terminal; Disconnected is transient and may
// recover to Connected without external action.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further negotiation is attempted from s.
func (s State) Terminal() bool { return s == StateFailed || s == StateClosed }

// Event is a state-machine input: either the start of a local negotiation
// or a transport state reported by the peer connection.
type Event int

const (
	EventNegotiate Event = iota
	EventTransportConnecting
	EventTransportConnected
	EventTransportDisconnected
	EventTransportFailed
	EventTransportClosed
)

// FromTransportState maps a pion connection state onto an Event.
func FromTransportState(s webrtc.PeerConnectionState) (Event, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return EventTransportConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return EventTransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return EventTransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return EventTransportFailed, true
	case webrtc.PeerConnectionStateClosed:
		return EventTransportClosed, true
	}
	return 0, false
}

// Next is the pure transition function of the connection state machine.
// Terminal states absorb every event.
func Next(cur State, ev Event) State {
	if cur.Terminal() {
		return cur
	}
	switch ev {
	case EventNegotiate:
		if cur == StateNew {
			return StateConnecting
		}
		return cur
	case EventTransportConnecting:
		return StateConnecting
	case EventTransportConnected:
		return StateConnected
	case EventTransportDisconnected:
		// Transient: the transport keeps probing and may come back.
		if cur == StateConnecting || cur == StateConnected {
			return StateDisconnected
		}
		return cur
	case EventTransportFailed:
		return StateFailed
	case EventTransportClosed:
		return StateClosed
	}
	return cur
}

package peer

import "fmt"

// Handle identifies one inbound invitation until it is accepted or rejected.
type Handle uint64

// ConnState is the transport-level state of a session with a peer.
type ConnState byte

const (
	Connecting ConnState = iota
	Connected
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnState(%d)", byte(s))
	}
}

// Outcome is the result of an outbound invitation.
type Outcome byte

const (
	Accepted Outcome = iota
	Rejected
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("Outcome(%d)", byte(o))
	}
}

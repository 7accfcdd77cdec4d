package session

// Status is the lifecycle state of a live session.
type Status int

const (
	// StatusIdle is the initial state: no connection attempt yet.
	StatusIdle Status = iota

	// StatusConnecting means a provider connection is being established.
	StatusConnecting

	// StatusOpen means the duplex audio stream is running.
	StatusOpen

	// StatusError is terminal: the session failed. It is never left except
	// by Stop, and a failed session is never reconnected automatically.
	StatusError

	// StatusClosed is terminal: the session ended by request or clean
	// remote close.
	StatusClosed
)

// String returns the lowercase state name used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle trigger fed into the transition table.
type Event int

const (
	// EventStart requests a connection attempt.
	EventStart Event = iota

	// EventConnected reports a successful provider connection.
	EventConnected

	// EventFailed reports a failure while connecting or streaming.
	EventFailed

	// EventRemoteClosed reports the provider ending the stream cleanly.
	EventRemoteClosed

	// EventStop requests local teardown.
	EventStop
)

// String returns the lowercase event name used in logs.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventConnected:
		return "connected"
	case EventFailed:
		return "failed"
	case EventRemoteClosed:
		return "remote_closed"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// transition is the pure state-transition function. It returns the next
// status and whether the event is valid in the current status. Invalid
// events leave the status unchanged.
//
// Stop is accepted in every state and always lands in Closed, which makes
// Stop idempotent by construction. Error and Closed are otherwise terminal.
func transition(s Status, e Event) (Status, bool) {
	if e == EventStop {
		return StatusClosed, true
	}

	switch s {
	case StatusIdle:
		if e == EventStart {
			return StatusConnecting, true
		}
	case StatusConnecting:
		switch e {
		case EventConnected:
			return StatusOpen, true
		case EventFailed:
			return StatusError, true
		}
	case StatusOpen:
		switch e {
		case EventFailed:
			return StatusError, true
		case EventRemoteClosed:
			return StatusClosed, true
		}
	}
	return s, false
}

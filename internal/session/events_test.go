package session

import "testing"

func TestTransition_HappyPath(t *testing.T) {
	s := StatusIdle

	steps := []struct {
		event Event
		want  Status
	}{
		{EventStart, StatusConnecting},
		{EventConnected, StatusOpen},
		{EventRemoteClosed, StatusClosed},
	}
	for _, step := range steps {
		next, ok := transition(s, step.event)
		if !ok {
			t.Fatalf("transition(%s, %s) rejected", s, step.event)
		}
		if next != step.want {
			t.Fatalf("transition(%s, %s) = %s, want %s", s, step.event, next, step.want)
		}
		s = next
	}
}

func TestTransition_ConnectFailure(t *testing.T) {
	next, ok := transition(StatusConnecting, EventFailed)
	if !ok || next != StatusError {
		t.Errorf("transition(connecting, failed) = %s, %v; want error, true", next, ok)
	}
}

func TestTransition_OpenFailure(t *testing.T) {
	next, ok := transition(StatusOpen, EventFailed)
	if !ok || next != StatusError {
		t.Errorf("transition(open, failed) = %s, %v; want error, true", next, ok)
	}
}

func TestTransition_StopFromEveryState(t *testing.T) {
	states := []Status{StatusIdle, StatusConnecting, StatusOpen, StatusError, StatusClosed}
	for _, s := range states {
		next, ok := transition(s, EventStop)
		if !ok || next != StatusClosed {
			t.Errorf("transition(%s, stop) = %s, %v; want closed, true", s, next, ok)
		}
	}
}

func TestTransition_TerminalStatesRejectProgress(t *testing.T) {
	events := []Event{EventStart, EventConnected, EventFailed, EventRemoteClosed}
	for _, terminal := range []Status{StatusError, StatusClosed} {
		for _, e := range events {
			next, ok := transition(terminal, e)
			if ok {
				t.Errorf("transition(%s, %s) accepted, want rejection", terminal, e)
			}
			if next != terminal {
				t.Errorf("transition(%s, %s) moved to %s", terminal, e, next)
			}
		}
	}
}

func TestTransition_NoRestartFromError(t *testing.T) {
	// A failed session is never reconnected: Start is only valid in Idle.
	if _, ok := transition(StatusError, EventStart); ok {
		t.Error("Start should be rejected from the error state")
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusIdle, "idle"},
		{StatusConnecting, "connecting"},
		{StatusOpen, "open"},
		{StatusError, "error"},
		{StatusClosed, "closed"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

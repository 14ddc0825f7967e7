package syncstate

import (
	"testing"
	"time"

	"github.com/zeroksync/0k-sync/internal/wire"
)

func TestTransition_FullHappyPath(t *testing.T) {
	s := Initial

	s, actions := Transition(s, ConnectRequested{})
	if s.Kind != Connecting {
		t.Fatalf("after ConnectRequested: kind = %v, want Connecting", s.Kind)
	}
	requireAction(t, actions, ConnectAction{})

	s, actions = Transition(s, ConnectSucceeded{})
	if s.Kind != Handshaking {
		t.Fatalf("after ConnectSucceeded: kind = %v, want Handshaking", s.Kind)
	}
	requireAction(t, actions, StartHandshakeAction{})

	s, actions = Transition(s, HandshakeCompleted{Cursor: 7})
	if s.Kind != Connected || s.Cursor != 7 {
		t.Fatalf("after HandshakeCompleted: state = %+v, want Connected{Cursor:7}", s)
	}
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
}

func TestTransition_ConnectFailedEntersReconnecting(t *testing.T) {
	s := State{Kind: Connecting}
	next, actions := Transition(s, ConnectFailed{})
	if next.Kind != Reconnecting || next.Attempt != 1 {
		t.Fatalf("state = %+v, want Reconnecting{Attempt:1}", next)
	}
	a, ok := actions[0].(StartReconnectTimerAction)
	if !ok || a.Attempt != 1 {
		t.Fatalf("expected StartReconnectTimerAction{Attempt:1}, got %#v", actions[0])
	}
}

func TestTransition_ReconnectTimerReturnsToConnecting(t *testing.T) {
	s := State{Kind: Reconnecting, Attempt: 3, Cursor: 42}
	next, actions := Transition(s, ReconnectTimerFired{})
	if next.Kind != Connecting || next.Attempt != 3 || next.Cursor != 42 {
		t.Fatalf("state = %+v, want Connecting{Attempt:3, Cursor:42}", next)
	}
	requireAction(t, actions, ConnectAction{})
}

func TestTransition_AttemptResetsToZeroOnceConnected(t *testing.T) {
	s := State{Kind: Handshaking, Attempt: 4}
	next, _ := Transition(s, HandshakeCompleted{Cursor: 1})
	if next.Attempt != 0 {
		t.Errorf("Attempt = %d after successful handshake, want 0", next.Attempt)
	}
}

// TestTransition_CursorPreservedOnMessageWithoutCursor is the invariant
// grounding this state machine's cursor handling: a message that carries
// no cursor must never reset an already-tracked cursor back to zero.
func TestTransition_CursorPreservedOnMessageWithoutCursor(t *testing.T) {
	s := State{Kind: Connected, Cursor: 99}
	next, _ := Transition(s, MessageReceived{Envelope: wire.Envelope{Type: wire.MsgBye}, Cursor: nil})
	if next.Cursor != 99 {
		t.Errorf("Cursor = %d after message with no cursor, want preserved at 99", next.Cursor)
	}
}

func TestTransition_CursorAdvancesWhenMessageCarriesOne(t *testing.T) {
	s := State{Kind: Connected, Cursor: 5}
	var newCursor wire.Cursor = 12
	next, _ := Transition(s, MessageReceived{Envelope: wire.Envelope{Type: wire.MsgNotify}, Cursor: &newCursor})
	if next.Cursor != 12 {
		t.Errorf("Cursor = %d, want 12", next.Cursor)
	}
}

func TestTransition_InvalidTransitionsAreNoOps(t *testing.T) {
	cases := []struct {
		name string
		s    State
		e    Event
	}{
		{"connect-requested-while-connected", State{Kind: Connected, Cursor: 3}, ConnectRequested{}},
		{"handshake-completed-while-disconnected", State{Kind: Disconnected}, HandshakeCompleted{Cursor: 9}},
		{"connect-succeeded-while-reconnecting", State{Kind: Reconnecting, Attempt: 2}, ConnectSucceeded{}},
		{"reconnect-timer-while-connected", State{Kind: Connected, Cursor: 1}, ReconnectTimerFired{}},
		{"disconnect-requested-while-disconnected", State{Kind: Disconnected}, DisconnectRequested{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			next, actions := Transition(c.s, c.e)
			if next != c.s {
				t.Errorf("state changed on invalid transition: got %+v, want unchanged %+v", next, c.s)
			}
			if len(actions) != 0 {
				t.Errorf("expected no actions on invalid transition, got %v", actions)
			}
		})
	}
}

func TestTransition_DisconnectRequestedFromConnectedSendsBye(t *testing.T) {
	s := State{Kind: Connected, Cursor: 5}
	next, actions := Transition(s, DisconnectRequested{})
	if next.Kind != Disconnected {
		t.Fatalf("kind = %v, want Disconnected", next.Kind)
	}
	if len(actions) != 2 {
		t.Fatalf("expected SendBye + Disconnect actions, got %v", actions)
	}
	if _, ok := actions[0].(SendByeAction); !ok {
		t.Errorf("expected first action SendByeAction, got %#v", actions[0])
	}
}

func TestTransition_PeerDisconnectedFromConnectedStartsReconnect(t *testing.T) {
	s := State{Kind: Connected, Cursor: 17}
	next, actions := Transition(s, PeerDisconnected{Reason: "connection reset"})
	if next.Kind != Reconnecting || next.Cursor != 17 || next.Attempt != 1 {
		t.Fatalf("state = %+v, want Reconnecting{Cursor:17, Attempt:1}", next)
	}
	if len(actions) != 2 {
		t.Fatalf("expected EmitEvent + StartReconnectTimer, got %v", actions)
	}
}

func requireAction(t *testing.T, actions []Action, want Action) {
	t.Helper()
	if len(actions) == 0 {
		t.Fatalf("expected at least one action, got none")
	}
	if actions[0] != want {
		t.Errorf("action = %#v, want %#v", actions[0], want)
	}
}

func TestJitteredBackoff_BoundedForEveryAttempt(t *testing.T) {
	for attempt := 0; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := JitteredBackoff(attempt)
			if d < 0 {
				t.Fatalf("attempt %d: jitter produced negative delay %v", attempt, d)
			}
			if d > 35*time.Second {
				t.Fatalf("attempt %d: delay %v exceeds 35s bound", attempt, d)
			}
		}
	}
}

func TestBaseBackoff_CapsAtThirtySeconds(t *testing.T) {
	if got := BaseBackoff(5); got != 30*time.Second {
		t.Errorf("BaseBackoff(5) = %v, want 30s", got)
	}
	if got := BaseBackoff(20); got != 30*time.Second {
		t.Errorf("BaseBackoff(20) = %v, want 30s (capped for attempts beyond 5)", got)
	}
}

func TestBaseBackoff_ExponentialBelowCap(t *testing.T) {
	cases := map[int]time.Duration{
		0: 1 * time.Second,
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
	}
	for attempt, want := range cases {
		if got := BaseBackoff(attempt); got != want {
			t.Errorf("BaseBackoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

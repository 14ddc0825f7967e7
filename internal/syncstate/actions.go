package syncstate

import "github.com/zeroksync/0k-sync/internal/wire"

// Action is the closed set of side effects Transition can ask an
// interpreter to perform. Transition never performs them itself.
type Action interface {
	isAction()
}

// ConnectAction asks the interpreter to dial the next relay.
type ConnectAction struct{}

// DisconnectAction asks the interpreter to close the transport
// connection without a Bye message (used on abrupt failure paths).
type DisconnectAction struct{}

// StartHandshakeAction asks the interpreter to send Hello and await
// Welcome.
type StartHandshakeAction struct{}

// SendByeAction asks the interpreter to send a Bye message before
// closing, used for intentional disconnects.
type SendByeAction struct {
	Reason string
}

// ProcessMessageAction asks the interpreter to hand envelope to the
// client's message handling (updating cursors, buffers, notifying
// callers of new data).
type ProcessMessageAction struct {
	Envelope wire.Envelope
}

// StartReconnectTimerAction asks the interpreter to start a backoff
// timer for the given attempt number and fire ReconnectTimerFired when
// it elapses. The interpreter computes the actual jittered delay (see
// JitteredBackoff) since Transition itself performs no randomness.
type StartReconnectTimerAction struct {
	Attempt int
}

// CancelReconnectAction asks the interpreter to cancel any pending
// reconnect timer.
type CancelReconnectAction struct{}

// EmitEventAction asks the interpreter to surface a SyncEvent to
// whatever is observing the client (a callback, a channel).
type EmitEventAction struct {
	Event SyncEvent
}

func (ConnectAction) isAction()             {}
func (DisconnectAction) isAction()          {}
func (StartHandshakeAction) isAction()      {}
func (SendByeAction) isAction()             {}
func (ProcessMessageAction) isAction()      {}
func (StartReconnectTimerAction) isAction() {}
func (CancelReconnectAction) isAction()     {}
func (EmitEventAction) isAction()           {}

// SyncEventKind categorizes a SyncEvent surfaced to an observer.
type SyncEventKind int

const (
	SyncEventConnected SyncEventKind = iota
	SyncEventDisconnected
	SyncEventDataReceived
)

// SyncEvent is a user-facing notification emitted via EmitEventAction.
type SyncEvent struct {
	Kind   SyncEventKind
	Cursor wire.Cursor
	Reason string
}

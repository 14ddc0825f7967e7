package syncstate

import "github.com/zeroksync/0k-sync/internal/wire"

// Event is the closed set of inputs the state machine reacts to. Each
// concrete type below implements it.
type Event interface {
	isEvent()
}

// ConnectRequested asks the client to begin connecting, from Disconnected.
type ConnectRequested struct{}

// ConnectSucceeded reports that the transport connected and a handshake
// can now start.
type ConnectSucceeded struct{}

// ConnectFailed reports that the transport failed to connect.
type ConnectFailed struct {
	Err error
}

// HandshakeCompleted reports a successful Hello/Welcome exchange and the
// cursor the relay reported.
type HandshakeCompleted struct {
	Cursor wire.Cursor
}

// HandshakeFailed reports that Hello/Welcome did not complete.
type HandshakeFailed struct {
	Err error
}

// MessageReceived delivers one decoded message while Connected. Cursor
// is non-nil when the message type carries a cursor value (PushAck,
// PullResponse, Notify); nil for messages that do not.
type MessageReceived struct {
	Envelope wire.Envelope
	Cursor   *wire.Cursor
}

// PeerDisconnected reports that the transport connection was lost,
// distinct from a locally requested disconnect.
type PeerDisconnected struct {
	Reason string
}

// DisconnectRequested asks the client to tear down the connection
// intentionally.
type DisconnectRequested struct{}

// ReconnectTimerFired reports that the backoff timer started by a
// StartReconnectTimerAction has elapsed.
type ReconnectTimerFired struct{}

func (ConnectRequested) isEvent()    {}
func (ConnectSucceeded) isEvent()    {}
func (ConnectFailed) isEvent()       {}
func (HandshakeCompleted) isEvent()  {}
func (HandshakeFailed) isEvent()     {}
func (MessageReceived) isEvent()     {}
func (PeerDisconnected) isEvent()    {}
func (DisconnectRequested) isEvent() {}
func (ReconnectTimerFired) isEvent() {}

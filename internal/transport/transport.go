// Package transport provides the two wire-level transports 0k-Sync relays
// and clients speak: QUIC as primary, WebSocket as the fallback for
// networks that block UDP. Both carry the same framed wire.Envelope
// stream on a single connection — 0k-Sync has no use for multiple
// streams per peer, so PeerConn exposes exactly one.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"
)

// TransportType identifies the transport protocol.
type TransportType string

const (
	TransportQUIC      TransportType = "quic"
	TransportWebSocket TransportType = "ws"
)

// Transport creates and accepts peer connections.
type Transport interface {
	// Dial connects to a remote peer.
	Dial(ctx context.Context, addr string, opts DialOptions) (PeerConn, error)

	// Listen creates a listener for incoming connections.
	Listen(addr string, opts ListenOptions) (Listener, error)

	// Type returns the transport type identifier.
	Type() TransportType

	// Close shuts down the transport.
	Close() error
}

// Listener accepts incoming peer connections.
type Listener interface {
	// Accept waits for and returns the next connection.
	Accept(ctx context.Context) (PeerConn, error)

	// Addr returns the listener's network address.
	Addr() net.Addr

	// Close stops the listener.
	Close() error
}

// PeerConn represents a connection to a peer.
type PeerConn interface {
	// OpenStream creates a new outgoing stream.
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream waits for an incoming stream.
	AcceptStream(ctx context.Context) (Stream, error)

	// Close terminates the connection.
	Close() error

	// LocalAddr returns the local address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote address.
	RemoteAddr() net.Addr

	// IsDialer returns true if this side initiated the connection.
	IsDialer() bool

	// TransportType returns the transport protocol type.
	TransportType() TransportType
}

// PublicKeyProvider is implemented by PeerConn values that can report the
// remote endpoint's static public key, when the connection was
// authenticated with a peer TLS certificate. The relay session layer uses
// this to derive a stable DeviceID (see internal/relaysession), the way
// spec'd identity-from-endpoint-key schemes generally work. Connections
// on other transports (WebSocket, with or without TLS, and the in-process
// MemoryTransport used by tests) don't implement this interface.
type PublicKeyProvider interface {
	PeerPublicKey() ([]byte, bool)
}

// Stream is a bidirectional byte stream with half-close support.
type Stream interface {
	io.Reader
	io.Writer

	// StreamID returns the stream identifier.
	StreamID() uint64

	// CloseWrite sends a half-close (FIN) - signals done sending.
	CloseWrite() error

	// Close fully closes the stream in both directions.
	Close() error

	// SetDeadline sets read and write deadlines.
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// DialOptions contains options for dialing a peer.
type DialOptions struct {
	// TLSConfig is the TLS configuration for the connection.
	TLSConfig *tls.Config

	// InsecureSkipVerify allows skipping TLS certificate verification.
	// WARNING: Only use this for development/testing. In production, always
	// provide a proper TLSConfig with certificate verification enabled.
	InsecureSkipVerify bool

	// Timeout is the connection timeout.
	Timeout time.Duration

	// ProxyURL is the HTTP proxy URL (for WebSocket transport).
	ProxyURL string

	// ProxyUsername is the proxy authentication username.
	ProxyUsername string

	// ProxyPassword is the proxy authentication password.
	ProxyPassword string

	// StrictVerify enables TLS certificate verification for WebSocket
	// dials. Off by default: the group-secret encryption layer already
	// authenticates the relay's content, so TLS here only needs to resist
	// passive network observation, not impersonation.
	StrictVerify bool

	// WSSubprotocol overrides the WebSocket subprotocol identifier.
	// Empty uses DefaultWSSubprotocol.
	WSSubprotocol string
}

// ListenOptions contains options for creating a listener.
type ListenOptions struct {
	// TLSConfig is the TLS configuration for the listener.
	TLSConfig *tls.Config

	// Path is the HTTP path (for WebSocket transport).
	Path string

	// MaxStreams is the maximum number of concurrent streams per connection.
	MaxStreams int

	// PlainText allows a WebSocket listener without TLS, for deployments
	// that terminate TLS at a reverse proxy in front of the relay.
	PlainText bool

	// WSSubprotocol overrides the WebSocket subprotocol identifier.
	// Empty uses DefaultWSSubprotocol.
	WSSubprotocol string
}

// DefaultDialOptions returns DialOptions with sensible defaults.
func DefaultDialOptions() DialOptions {
	return DialOptions{
		Timeout: 30 * time.Second,
	}
}

// DefaultListenOptions returns ListenOptions with sensible defaults.
func DefaultListenOptions() ListenOptions {
	return ListenOptions{
		MaxStreams: 10000,
	}
}

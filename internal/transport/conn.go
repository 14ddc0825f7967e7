package transport

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"sync"

	"github.com/zeroksync/0k-sync/internal/wire"
)

// Conn is the single-stream, envelope-framed connection that the relay
// session handler and the sync client both speak over, regardless of
// which Transport carried it. QUIC opens exactly one bidirectional
// stream per connection; WebSocket's native message framing already
// gives one logical stream per connection. Neither side of 0k-Sync
// needs more than that, so Conn hides the PeerConn/Stream split behind
// a single handle.
type Conn struct {
	peer   PeerConn
	stream Stream
	reader *wire.Reader
	writer *wire.Writer

	deviceIDOnce sync.Once
	deviceID     wire.DeviceID
}

// DialConn dials addr with the given Transport and opens the one stream
// 0k-Sync uses, returning a ready-to-use Conn.
func DialConn(ctx context.Context, t Transport, addr string, opts DialOptions) (*Conn, error) {
	peer, err := t.Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return newConn(ctx, peer)
}

// AcceptConn accepts the next connection on l and opens/accepts the one
// stream 0k-Sync uses, returning a ready-to-use Conn.
func AcceptConn(ctx context.Context, l Listener) (*Conn, error) {
	peer, err := l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return newConn(ctx, peer)
}

// AcceptConnFromPeer establishes the one stream 0k-Sync uses over a
// PeerConn the caller has already accepted (e.g. after running
// connection-level admission checks against it), returning a ready-to-use
// Conn. Use this instead of AcceptConn when the listener's Accept must be
// called directly so the raw PeerConn is available before a Conn exists.
func AcceptConnFromPeer(ctx context.Context, peer PeerConn) (*Conn, error) {
	return newConn(ctx, peer)
}

func newConn(ctx context.Context, peer PeerConn) (*Conn, error) {
	var stream Stream
	var err error
	if peer.IsDialer() {
		stream, err = peer.OpenStream(ctx)
	} else {
		stream, err = peer.AcceptStream(ctx)
	}
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("transport: establish stream: %w", err)
	}
	return &Conn{
		peer:   peer,
		stream: stream,
		reader: wire.NewReader(stream),
		writer: wire.NewWriter(stream),
	}, nil
}

// Send frames and writes env to the peer.
func (c *Conn) Send(env wire.Envelope) error {
	return c.writer.WriteEnvelope(env)
}

// Recv blocks until the next framed envelope arrives, or the stream is
// closed or errors.
func (c *Conn) Recv() (wire.Envelope, error) {
	return c.reader.ReadEnvelope()
}

// Close tears down the stream and the underlying peer connection.
func (c *Conn) Close() error {
	streamErr := c.stream.Close()
	peerErr := c.peer.Close()
	if streamErr != nil {
		return streamErr
	}
	return peerErr
}

// IsDialer reports whether this side initiated the connection.
func (c *Conn) IsDialer() bool {
	return c.peer.IsDialer()
}

// TransportType reports which wire transport carries this connection.
func (c *Conn) TransportType() TransportType {
	return c.peer.TransportType()
}

// RemoteAddr returns the remote endpoint's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.peer.RemoteAddr()
}

// PeerDeviceID derives a stable DeviceID for the remote endpoint of this
// connection, hashing its static public key when the underlying PeerConn
// exposes one (QUIC, when the peer presented a certificate). Other
// connections (WebSocket, with or without TLS, and MemoryTransport in
// tests) fall back to a random per-connection id: a
// reconnecting device on one of those transports registers as a new
// session rather than replacing its previous one. The result is memoized
// so repeated calls on one Conn always return the same id.
func (c *Conn) PeerDeviceID() wire.DeviceID {
	c.deviceIDOnce.Do(func() {
		if provider, ok := c.peer.(PublicKeyProvider); ok {
			if pk, ok := provider.PeerPublicKey(); ok {
				sum := sha256.Sum256(pk)
				if id, err := wire.DeviceIDFromBytes(sum[:]); err == nil {
					c.deviceID = id
					return
				}
			}
		}
		if id, err := wire.NewDeviceID(); err == nil {
			c.deviceID = id
		}
	})
	return c.deviceID
}

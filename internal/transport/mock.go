package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// MemoryTransport is an in-process Transport backed by net.Pipe, used by
// client/relay tests that need a real PeerConn/Stream pair without a
// socket or TLS handshake. A MemoryTransport only ever has one listener;
// dialing it delivers a connection to that listener's Accept.
type MemoryTransport struct {
	mu     sync.Mutex
	ln     *memoryListener
	closed bool
}

// NewMemoryTransport creates an in-process transport for tests.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

func (t *MemoryTransport) Type() TransportType { return "memory" }

func (t *MemoryTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	if t.ln != nil {
		return nil, fmt.Errorf("memory transport already has a listener")
	}
	ln := &memoryListener{addr: memAddr(addr), connCh: make(chan PeerConn, 16), closeCh: make(chan struct{})}
	t.ln = ln
	return ln, nil
}

func (t *MemoryTransport) Dial(ctx context.Context, addr string, opts DialOptions) (PeerConn, error) {
	t.mu.Lock()
	ln := t.ln
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("transport closed")
	}
	if ln == nil {
		return nil, fmt.Errorf("no listener for %q", addr)
	}

	clientSide, serverSide := net.Pipe()
	client := &memoryPeerConn{conn: clientSide, isDialer: true}
	server := &memoryPeerConn{conn: serverSide, isDialer: false}

	select {
	case ln.connCh <- server:
	case <-ctx.Done():
		clientSide.Close()
		serverSide.Close()
		return nil, ctx.Err()
	case <-ln.closeCh:
		clientSide.Close()
		serverSide.Close()
		return nil, fmt.Errorf("listener closed")
	}
	return client, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.ln != nil {
		return t.ln.Close()
	}
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "memory" }
func (a memAddr) String() string  { return string(a) }

type memoryListener struct {
	addr    memAddr
	connCh  chan PeerConn
	closeCh chan struct{}
	once    sync.Once
}

func (l *memoryListener) Accept(ctx context.Context) (PeerConn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, fmt.Errorf("listener closed")
	}
}

func (l *memoryListener) Addr() net.Addr { return l.addr }

func (l *memoryListener) Close() error {
	l.once.Do(func() { close(l.closeCh) })
	return nil
}

// memoryPeerConn treats the whole net.Pipe connection as the one stream
// 0k-Sync needs; OpenStream/AcceptStream both just return it.
type memoryPeerConn struct {
	conn     net.Conn
	isDialer bool
	once     sync.Once
	stream   Stream
}

func (c *memoryPeerConn) stream0() Stream {
	c.once.Do(func() {
		c.stream = &memoryStream{conn: c.conn}
	})
	return c.stream
}

func (c *memoryPeerConn) OpenStream(ctx context.Context) (Stream, error)   { return c.stream0(), nil }
func (c *memoryPeerConn) AcceptStream(ctx context.Context) (Stream, error) { return c.stream0(), nil }
func (c *memoryPeerConn) Close() error                                     { return c.conn.Close() }
func (c *memoryPeerConn) LocalAddr() net.Addr                              { return c.conn.LocalAddr() }
func (c *memoryPeerConn) RemoteAddr() net.Addr                             { return c.conn.RemoteAddr() }
func (c *memoryPeerConn) IsDialer() bool                                   { return c.isDialer }
func (c *memoryPeerConn) TransportType() TransportType                     { return "memory" }

type memoryStream struct {
	conn net.Conn
}

func (s *memoryStream) StreamID() uint64                   { return 1 }
func (s *memoryStream) Read(p []byte) (int, error)         { return s.conn.Read(p) }
func (s *memoryStream) Write(p []byte) (int, error)        { return s.conn.Write(p) }
func (s *memoryStream) CloseWrite() error                  { return nil }
func (s *memoryStream) Close() error                       { return s.conn.Close() }
func (s *memoryStream) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *memoryStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *memoryStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

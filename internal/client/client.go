// Package client implements SyncClient, the device-side orchestrator
// that drives internal/syncstate's pure state machine against a real
// relay connection. It owns the transport dial/handshake/reconnect
// loop, encrypts and decrypts blob payloads via internal/crypto, and
// tracks delivery progress via internal/cursor and internal/outbox.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeroksync/0k-sync/internal/crypto"
	"github.com/zeroksync/0k-sync/internal/cursor"
	"github.com/zeroksync/0k-sync/internal/outbox"
	"github.com/zeroksync/0k-sync/internal/syncstate"
	"github.com/zeroksync/0k-sync/internal/transport"
	"github.com/zeroksync/0k-sync/internal/wire"
)

// maxOutboxSize bounds how many unpushed blobs a client buffers before
// Push starts failing with an *outbox.ErrFull cause, mirroring the relay side's own
// per-group quota rather than letting a disconnected client grow
// without limit.
const maxOutboxSize = 1000

// Config configures a SyncClient.
type Config struct {
	// Transport dials the relay. Tests pass a transport.MemoryTransport;
	// production callers pass a transport.QUICTransport or
	// transport.WebSocketTransport.
	Transport transport.Transport

	// RelayAddrs lists relay addresses to try, in order, on each
	// (re)connect attempt; a successful dial to any one of them
	// satisfies ConnectAction.
	RelayAddrs []string

	// DialTimeout bounds each individual relay dial. Zero uses 10s.
	DialTimeout time.Duration

	// HandshakeTimeout bounds waiting for Welcome after Hello. Zero
	// uses 10s.
	HandshakeTimeout time.Duration

	GroupSecret crypto.GroupSecret
	DeviceID    wire.DeviceID
	DeviceName  string

	// InsecureSkipVerify is forwarded to every dial's transport.DialOptions.
	// Relays commonly present a self-signed identity (see
	// internal/relayidentity); the group-secret encryption layer already
	// authenticates the relay's content, so skipping certificate
	// verification here only gives up resistance to passive network
	// observation, not impersonation.
	InsecureSkipVerify bool

	// LastCursor is the cursor to report in Hello on first connect,
	// normally the value SyncClient last observed before process
	// restart.
	LastCursor wire.Cursor

	// OnEvent, if set, is invoked for every SyncEvent the state machine
	// emits (connected, disconnected, data received). Called from an
	// internal goroutine; must not block.
	OnEvent func(syncstate.SyncEvent)

	// OnBlob, if set, is invoked with the decrypted payload of each
	// blob delivered in a PullResponse (requested after each Notify).
	// Called from an internal goroutine; must not block.
	OnBlob func(blobID wire.BlobID, senderID wire.DeviceID, plaintext []byte)
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 10 * time.Second
}

func (c Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return 10 * time.Second
}

// SyncClient is one device's connection to its sync group. It is safe
// for concurrent use; Push and Status may be called from any goroutine
// while the client's internal run loop drives the connection.
type SyncClient struct {
	cfg     Config
	groupID wire.GroupID

	eventCh chan syncstate.Event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	state     syncstate.State
	conn      *transport.Conn
	relayIdx  int
	cursors   *cursor.Tracker
	out       *outbox.Buffer
	reconnect *time.Timer
}

// New constructs a SyncClient. It does not dial anything; call Connect
// to start the connection loop.
func New(cfg Config) (*SyncClient, error) {
	if cfg.Transport == nil {
		return nil, newError(ErrInvalidConfig, "Transport is required", nil)
	}
	if len(cfg.RelayAddrs) == 0 {
		return nil, newError(ErrInvalidConfig, "RelayAddrs must not be empty", nil)
	}
	groupID := crypto.DeriveGroupID(cfg.GroupSecret)

	ctx, cancel := context.WithCancel(context.Background())
	c := &SyncClient{
		cfg:     cfg,
		groupID: groupID,
		eventCh: make(chan syncstate.Event, 16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   syncstate.Initial,
		cursors: cursor.New(cfg.LastCursor),
		out:     outbox.NewBuffer(maxOutboxSize),
	}
	go c.run()
	return c, nil
}

// Connect requests that the client begin connecting. Returns
// immediately; connection progress is reported via Config.OnEvent.
func (c *SyncClient) Connect() {
	c.post(syncstate.ConnectRequested{})
}

// Disconnect requests a graceful disconnect. Returns immediately.
func (c *SyncClient) Disconnect() {
	c.post(syncstate.DisconnectRequested{})
}

// Close stops the client's run loop and releases its connection. After
// Close, the SyncClient must not be reused.
func (c *SyncClient) Close() error {
	c.cancel()
	<-c.done
	return nil
}

// Status returns the client's current connection state.
func (c *SyncClient) Status() syncstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client currently holds a live
// connection to a relay.
func (c *SyncClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Kind == syncstate.Connected
}

// ActiveRelay returns the address of the relay the client is currently
// connected to, and false if it is not connected to any.
func (c *SyncClient) ActiveRelay() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind != syncstate.Connected || c.conn == nil {
		return "", false
	}
	return c.cfg.RelayAddrs[c.relayIdx], true
}

// CurrentCursor returns the highest contiguously-received cursor this
// client has observed in its group, the value a restarted process
// should persist and resume from as Config.LastCursor.
func (c *SyncClient) CurrentCursor() wire.Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors.Contiguous()
}

// Push encrypts payload under a fresh content key and enqueues it for
// delivery. If the client is connected the blob is sent immediately;
// otherwise it waits in the outbox until the next successful handshake.
func (c *SyncClient) Push(blobID wire.BlobID, payload []byte) error {
	contentKey, err := crypto.DeriveContentKey(c.cfg.GroupSecret, blobID)
	if err != nil {
		return newError(ErrCryptoError, "derive content key", err)
	}
	ciphertext, err := crypto.Encrypt(contentKey, payload)
	if err != nil {
		return newError(ErrCryptoError, "encrypt payload", err)
	}
	msg := wire.Push{BlobID: blobID, Payload: ciphertext}

	c.mu.Lock()
	err = c.out.Enqueue(msg)
	connected := c.state.Kind == syncstate.Connected && c.conn != nil
	conn := c.conn
	c.mu.Unlock()
	if err != nil {
		return newError(ErrNotConnected, "enqueue push", err)
	}
	if connected {
		c.flushOutbox(conn)
	}
	return nil
}

// post enqueues an event for the run loop without blocking the caller
// indefinitely: a full channel means the client is being torn down.
func (c *SyncClient) post(ev syncstate.Event) {
	select {
	case c.eventCh <- ev:
	case <-c.ctx.Done():
	}
}

// run is the client's single-threaded actor: every state transition
// and every action it triggers happens here, so syncstate.Transition is
// never called concurrently for the same client.
func (c *SyncClient) run() {
	defer close(c.done)
	for {
		select {
		case ev := <-c.eventCh:
			c.mu.Lock()
			next, actions := syncstate.Transition(c.state, ev)
			c.state = next
			c.mu.Unlock()
			for _, a := range actions {
				c.execute(a)
			}
		case <-c.ctx.Done():
			c.teardown()
			return
		}
	}
}

func (c *SyncClient) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	timer := c.reconnect
	c.reconnect = nil
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if conn != nil {
		conn.Close()
	}
}

func (c *SyncClient) execute(a syncstate.Action) {
	switch act := a.(type) {
	case syncstate.ConnectAction:
		go c.doConnect()
	case syncstate.StartHandshakeAction:
		go c.doHandshake()
	case syncstate.DisconnectAction:
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	case syncstate.SendByeAction:
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			bye := wire.Bye{Reason: act.Reason}
			conn.Send(wire.Envelope{Type: wire.MsgBye, Payload: bye.Encode()})
		}
	case syncstate.ProcessMessageAction:
		c.processMessage(act.Envelope)
	case syncstate.StartReconnectTimerAction:
		delay := syncstate.JitteredBackoff(act.Attempt)
		timer := time.AfterFunc(delay, func() {
			c.post(syncstate.ReconnectTimerFired{})
		})
		c.mu.Lock()
		c.reconnect = timer
		c.mu.Unlock()
	case syncstate.CancelReconnectAction:
		c.mu.Lock()
		timer := c.reconnect
		c.reconnect = nil
		c.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	case syncstate.EmitEventAction:
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(act.Event)
		}
	}
}

// doConnect dials relays in order starting from the last one that
// worked, posting ConnectSucceeded or ConnectFailed back to the run
// loop. Failover across relays happens within one ConnectAction: only
// exhausting every address reports failure to the state machine, since
// a single down relay should not trigger a reconnect backoff the way a
// total outage should.
func (c *SyncClient) doConnect() {
	c.mu.Lock()
	start := c.relayIdx
	c.mu.Unlock()

	n := len(c.cfg.RelayAddrs)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		addr := c.cfg.RelayAddrs[idx]

		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.dialTimeout())
		conn, err := transport.DialConn(ctx, c.cfg.Transport, addr, transport.DialOptions{
			Timeout:            c.cfg.dialTimeout(),
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		})
		cancel()
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.relayIdx = idx
		c.mu.Unlock()
		c.post(syncstate.ConnectSucceeded{})
		return
	}
	c.post(syncstate.ConnectFailed{Err: newError(ErrAllRelaysFailed, fmt.Sprintf("all %d relays unreachable", n), nil)})
}

// doHandshake sends Hello and waits for Welcome, then starts the
// receive loop that feeds ProcessMessageAction for the rest of the
// connection's life, and pulls whatever lies past the contiguous cursor
// when Welcome reports a higher max_cursor.
func (c *SyncClient) doHandshake() {
	c.mu.Lock()
	conn := c.conn
	lastCursor := c.cursors.Contiguous()
	c.mu.Unlock()
	if conn == nil {
		c.post(syncstate.HandshakeFailed{Err: fmt.Errorf("client: no connection")})
		return
	}

	hello := wire.Hello{
		Version:    wire.ProtocolVersion,
		DeviceName: c.cfg.DeviceName,
		GroupID:    c.groupID,
		LastCursor: lastCursor,
	}
	if err := conn.Send(wire.Envelope{Type: wire.MsgHello, Payload: hello.Encode()}); err != nil {
		c.post(syncstate.HandshakeFailed{Err: err})
		return
	}

	type result struct {
		env wire.Envelope
		err error
	}
	recvCh := make(chan result, 1)
	go func() {
		env, err := conn.Recv()
		recvCh <- result{env, err}
	}()

	select {
	case r := <-recvCh:
		if r.err != nil {
			c.post(syncstate.HandshakeFailed{Err: r.err})
			return
		}
		if r.env.Type != wire.MsgWelcome {
			c.post(syncstate.HandshakeFailed{Err: fmt.Errorf("client: expected WELCOME, got %v", r.env.Type)})
			return
		}
		welcome, err := wire.DecodeWelcome(r.env.Payload)
		if err != nil {
			c.post(syncstate.HandshakeFailed{Err: err})
			return
		}
		c.post(syncstate.HandshakeCompleted{Cursor: welcome.MaxCursor})
		go c.readLoop(conn)
		c.requestPull(conn, welcome.MaxCursor)
		c.flushOutbox(conn)
	case <-time.After(c.cfg.handshakeTimeout()):
		c.post(syncstate.HandshakeFailed{Err: fmt.Errorf("client: handshake timed out")})
	case <-c.ctx.Done():
	}
}

// readLoop delivers every subsequent envelope on conn as a
// MessageReceived event until it errors, at which point it reports
// PeerDisconnected. It exits on its own once the connection it was
// started for is replaced or closed.
func (c *SyncClient) readLoop(conn *transport.Conn) {
	for {
		env, err := conn.Recv()
		if err != nil {
			c.mu.Lock()
			stillCurrent := c.conn == conn
			c.mu.Unlock()
			if stillCurrent {
				c.post(syncstate.PeerDisconnected{Reason: err.Error()})
			}
			return
		}
		cur := cursorOf(env)
		c.post(syncstate.MessageReceived{Envelope: env, Cursor: cur})
	}
}

// cursorOf extracts the cursor a message carries, or nil if it carries
// none. Hello/Bye carry none; the others advance delivery progress.
func cursorOf(env wire.Envelope) *wire.Cursor {
	switch env.Type {
	case wire.MsgPushAck:
		if m, err := wire.DecodePushAck(env.Payload); err == nil {
			return &m.Cursor
		}
	case wire.MsgPullResponse:
		if m, err := wire.DecodePullResponse(env.Payload); err == nil {
			return &m.MaxCursor
		}
	case wire.MsgNotify:
		if m, err := wire.DecodeNotify(env.Payload); err == nil {
			return &m.LatestCursor
		}
	}
	return nil
}

// processMessage interprets one decoded envelope delivered via
// ProcessMessageAction: advances cursor tracking, retires acknowledged
// outbox entries, and decrypts delivered blobs for Config.OnBlob.
func (c *SyncClient) processMessage(env wire.Envelope) {
	switch env.Type {
	case wire.MsgPushAck:
		ack, err := wire.DecodePushAck(env.Payload)
		if err != nil {
			return
		}
		c.out.Ack(ack.BlobID)
		c.mu.Lock()
		c.cursors.Received(ack.Cursor)
		c.mu.Unlock()
	case wire.MsgPullResponse:
		resp, err := wire.DecodePullResponse(env.Payload)
		if err != nil {
			return
		}
		for _, b := range resp.Blobs {
			c.deliverBlob(b.BlobID, b.SenderID, b.Payload)
		}
		c.mu.Lock()
		c.cursors.AcknowledgeUpTo(resp.MaxCursor)
		c.mu.Unlock()
	case wire.MsgNotify:
		notify, err := wire.DecodeNotify(env.Payload)
		if err != nil {
			return
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.requestPull(conn, notify.LatestCursor)
		}
	}
}

func (c *SyncClient) deliverBlob(blobID wire.BlobID, senderID wire.DeviceID, ciphertext []byte) {
	contentKey, err := crypto.DeriveContentKey(c.cfg.GroupSecret, blobID)
	if err != nil {
		return
	}
	plaintext, err := crypto.Decrypt(contentKey, ciphertext)
	if err != nil {
		return
	}
	if c.cfg.OnBlob != nil {
		c.cfg.OnBlob(blobID, senderID, plaintext)
	}
}

// requestPull asks the relay for everything after our current
// contiguous cursor, since a Notify only reports that more data exists
// without carrying it.
func (c *SyncClient) requestPull(conn *transport.Conn, latest wire.Cursor) {
	c.mu.Lock()
	after := c.cursors.Contiguous()
	c.mu.Unlock()
	if after >= latest {
		return
	}
	pull := wire.Pull{AfterCursor: after, Limit: 256}
	conn.Send(wire.Envelope{Type: wire.MsgPull, Payload: pull.Encode()})
}

// flushOutbox sends every buffered-but-not-yet-sent Push over conn. The
// blobs stay in the outbox's pending set until PushAck arrives; a
// disconnect before the ack causes a future handshake to resend them.
func (c *SyncClient) flushOutbox(conn *transport.Conn) {
	for {
		msg, ok := c.out.Dequeue()
		if !ok {
			return
		}
		if err := conn.Send(wire.Envelope{Type: wire.MsgPush, Payload: msg.Encode()}); err != nil {
			c.out.Nack(msg.BlobID)
			return
		}
	}
}

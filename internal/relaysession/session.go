// Package relaysession implements the relay's per-connection protocol
// handler: the AwaitingHello -> Active -> Closing state machine of
// spec.md §4.6, grounded on the teacher's internal/peer.Handshaker (the
// HELLO-timeout-via-context shape) and internal/socks5.Handler (a single
// blocking Handle loop owning one connection's state for its lifetime).
package relaysession

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeroksync/0k-sync/internal/logging"
	"github.com/zeroksync/0k-sync/internal/metrics"
	"github.com/zeroksync/0k-sync/internal/recovery"
	"github.com/zeroksync/0k-sync/internal/relaycoord"
	"github.com/zeroksync/0k-sync/internal/relaystore"
	"github.com/zeroksync/0k-sync/internal/transport"
	"github.com/zeroksync/0k-sync/internal/wire"
)

// State is one step of the per-connection state machine.
type State int

const (
	StateAwaitingHello State = iota
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Config bundles the admission and quota limits spec.md §6 lists, all
// with the configured-default-vs-explicit-value resolution the handlers
// below apply.
type Config struct {
	HelloTimeout     time.Duration
	DefaultTTL       time.Duration
	MaxBlobSize      int
	MaxGroupStorage  int64
	MaxDeviceNameLen int
	MaxPullLimit     int
	DefaultPullLimit int
}

// DefaultConfig returns spec.md §6's configuration defaults.
func DefaultConfig() Config {
	return Config{
		HelloTimeout:     10 * time.Second,
		DefaultTTL:       7 * 24 * time.Hour,
		MaxBlobSize:      1 << 20,
		MaxGroupStorage:  100 << 20,
		MaxDeviceNameLen: 256,
		MaxPullLimit:     1000,
		DefaultPullLimit: 100,
	}
}

// Session owns one accepted connection for its whole lifetime: reading
// each request, dispatching it by state, and writing the reply, the way
// the teacher's socks5.Handler.Handle owns one net.Conn end to end.
type Session struct {
	conn    *transport.Conn
	store   *relaystore.Store
	coord   *relaycoord.Coordinator
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	state      State
	groupID    wire.GroupID
	deviceID   wire.DeviceID
	deviceName string
	lastCursor wire.Cursor
}

// New returns a Session ready to Run over conn. store and coord are
// shared across every session the relay process is handling. m may be
// nil, in which case metrics recording is skipped.
func New(conn *transport.Conn, store *relaystore.Store, coord *relaycoord.Coordinator, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Session{
		conn:    conn,
		store:   store,
		coord:   coord,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		state:   StateAwaitingHello,
	}
}

// Run drives the session until the connection closes, BYE is received,
// or the HELLO deadline expires. It always returns nil on a clean
// shutdown; the caller is responsible for conn.Close().
func (s *Session) Run(ctx context.Context) error {
	defer recovery.RecoverWithLog(s.logger, "relaysession.Session")
	defer s.cleanupRegistration()

	for {
		env, err := s.recv(ctx)
		if err != nil {
			if s.state == StateAwaitingHello {
				s.logger.Debug("connection ended before hello", logging.KeyError, err)
			}
			return nil
		}

		reply := s.dispatch(env)
		if reply != nil {
			if sendErr := s.conn.Send(*reply); sendErr != nil {
				s.logger.Debug("send failed, ending session", logging.KeyError, sendErr)
				return nil
			}
		}
		if s.state == StateClosing {
			return nil
		}
	}
}

// recv waits for the next envelope, applying the HELLO-await timeout of
// spec.md §4.6 only while in StateAwaitingHello; an Active session reads
// without an artificial deadline, relying on transport keepalives and
// BYE/close to end it.
func (s *Session) recv(ctx context.Context) (wire.Envelope, error) {
	if s.state != StateAwaitingHello {
		return s.conn.Recv()
	}

	type result struct {
		env wire.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := s.conn.Recv()
		ch <- result{env: env, err: err}
	}()

	timer := time.NewTimer(s.cfg.HelloTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.env, r.err
	case <-timer.C:
		s.logger.Warn("hello timeout", logging.KeyDuration, s.cfg.HelloTimeout)
		return wire.Envelope{}, fmt.Errorf("relaysession: hello timeout after %s", s.cfg.HelloTimeout)
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	}
}

// dispatch handles one envelope according to the current state and
// returns the envelope to send back, if any. Protocol-level rejections
// (wrong state, quota, rate limit, malformed request) are reported via a
// wire.MsgError reply and never end the session on their own — per
// spec.md §7's "return protocol-level error; do not disconnect" rule for
// admission and quota failures, the connection stays open for the next
// message. Only BYE (handleBye) moves the session to StateClosing.
func (s *Session) dispatch(env wire.Envelope) *wire.Envelope {
	switch s.state {
	case StateAwaitingHello:
		if env.Type != wire.MsgHello {
			return s.errorReply(wire.ErrCodeNotAuthenticated, "hello required first")
		}
		return s.handleHello(env)

	case StateActive:
		switch env.Type {
		case wire.MsgPush:
			return s.handlePush(env)
		case wire.MsgPull:
			return s.handlePull(env)
		case wire.MsgBye:
			return s.handleBye(env)
		case wire.MsgHello:
			return s.errorReply(wire.ErrCodeUnexpectedMessage, "already active")
		default:
			return s.errorReply(wire.ErrCodeUnexpectedMessage, fmt.Sprintf("unexpected message %s while active", env.Type))
		}

	default: // StateClosing
		return nil
	}
}

func (s *Session) errorReply(code wire.ErrorCode, msg string) *wire.Envelope {
	if s.metrics != nil {
		s.metrics.RecordError(code.String())
		if code == wire.ErrCodeRateLimited {
			s.metrics.RecordRateLimitHit("message")
		}
	}
	env := wire.Envelope{Type: wire.MsgError, Payload: wire.Error{Code: code, Message: msg}.Encode()}
	return &env
}

// handleHello authenticates the connection: derives the device id from
// the transport's peer key, truncates an over-long device name at a
// rune boundary rather than splitting a multi-byte character, registers
// the session with the coordinator, and replies WELCOME.
func (s *Session) handleHello(env wire.Envelope) *wire.Envelope {
	hello, err := wire.DecodeHello(env.Payload)
	if err != nil {
		return s.errorReply(wire.ErrCodeInvalidMessage, "malformed hello")
	}
	if hello.Version != wire.ProtocolVersion {
		return s.errorReply(wire.ErrCodeVersionMismatch, fmt.Sprintf("server speaks version %d", wire.ProtocolVersion))
	}

	s.deviceID = s.conn.PeerDeviceID()
	s.groupID = hello.GroupID
	s.deviceName = truncateRunes(hello.DeviceName, s.cfg.MaxDeviceNameLen)
	s.lastCursor = hello.LastCursor
	s.state = StateActive

	s.coord.Register(s.groupID, s.deviceID, s.conn, s.lastCursor)
	if s.metrics != nil {
		s.metrics.RecordSession(string(s.conn.TransportType()))
	}

	maxCursor := s.store.GetMaxCursor(s.groupID)
	pending := s.store.GetPendingCount(s.groupID, s.deviceID)

	s.logger.Info("session active",
		logging.KeyGroupID, s.groupID.String(),
		logging.KeyDeviceID, s.deviceID.String())

	env2 := wire.Envelope{Type: wire.MsgWelcome, Payload: wire.Welcome{
		Version:      wire.ProtocolVersion,
		MaxCursor:    maxCursor,
		PendingCount: uint32(pending),
	}.Encode()}
	return &env2
}

// handlePush stores a pushed blob and fans out NOTIFY, or rejects the
// push in-band when it violates the wire cap, the configured blob-size
// limit, the group storage quota, or the message rate limit — none of
// which close the connection.
func (s *Session) handlePush(env wire.Envelope) *wire.Envelope {
	if !s.coord.Limiters().AllowMessage(s.deviceID, time.Now()) {
		return s.errorReply(wire.ErrCodeRateLimited, "message rate limit exceeded")
	}

	push, err := wire.DecodePush(env.Payload)
	if err != nil {
		return s.errorReply(wire.ErrCodeInvalidMessage, "malformed push")
	}

	if len(push.Payload) > wire.MaxFrameSize {
		return s.errorReply(wire.ErrCodeBlobTooLarge, fmt.Sprintf("payload exceeds wire frame limit of %d bytes", wire.MaxFrameSize))
	}
	if len(push.Payload) > s.cfg.MaxBlobSize {
		return s.errorReply(wire.ErrCodeBlobTooLarge, fmt.Sprintf("payload exceeds configured limit of %d bytes", s.cfg.MaxBlobSize))
	}

	current := s.store.GetGroupStorage(s.groupID)
	if current+int64(len(push.Payload)) > s.cfg.MaxGroupStorage {
		return s.errorReply(wire.ErrCodeQuotaExceeded, fmt.Sprintf("group storage quota of %d bytes exceeded", s.cfg.MaxGroupStorage))
	}

	ttl := s.cfg.DefaultTTL
	if push.TTL != 0 {
		ttl = time.Duration(push.TTL) * time.Second
	}

	cursor, err := s.store.StoreBlob(relaystore.StoreBlobRequest{
		BlobID:   push.BlobID,
		GroupID:  s.groupID,
		SenderID: s.deviceID,
		Payload:  push.Payload,
		TTL:      ttl,
	}, time.Now())
	if err != nil {
		return s.errorReply(wire.ErrCodeInvalidMessage, err.Error())
	}

	s.lastCursor = cursor
	s.coord.UpdateLastCursor(s.groupID, s.deviceID, cursor)
	s.coord.NotifyGroup(s.groupID, cursor, s.deviceID)
	if s.metrics != nil {
		s.metrics.RecordPush(len(push.Payload))
	}

	reply := wire.Envelope{Type: wire.MsgPushAck, Payload: wire.PushAck{BlobID: push.BlobID, Cursor: cursor}.Encode()}
	return &reply
}

// handlePull answers a PULL with a page of blobs, clamping limit to the
// configured default (when 0) and maximum, and records the returned blobs
// as delivered to this device, which removes them from its pending count.
// Which blobs a PULL returns depends only on its after_cursor. max_cursor
// in the reply is the last returned blob's cursor, or after_cursor when
// the page is empty.
func (s *Session) handlePull(env wire.Envelope) *wire.Envelope {
	if !s.coord.Limiters().AllowMessage(s.deviceID, time.Now()) {
		return s.errorReply(wire.ErrCodeRateLimited, "message rate limit exceeded")
	}

	pull, err := wire.DecodePull(env.Payload)
	if err != nil {
		return s.errorReply(wire.ErrCodeInvalidMessage, "malformed pull")
	}

	limit := int(pull.Limit)
	if limit <= 0 {
		limit = s.cfg.DefaultPullLimit
	}
	if limit > s.cfg.MaxPullLimit {
		limit = s.cfg.MaxPullLimit
	}

	blobs := s.store.GetBlobsAfter(s.groupID, pull.AfterCursor, limit+1)
	hasMore := len(blobs) > limit
	if hasMore {
		blobs = blobs[:limit]
	}

	syncBlobs := make([]wire.SyncBlob, 0, len(blobs))
	ids := make([]wire.BlobID, 0, len(blobs))
	for _, b := range blobs {
		syncBlobs = append(syncBlobs, wire.SyncBlob{
			BlobID:    b.BlobID,
			SenderID:  b.SenderID,
			Cursor:    b.Cursor,
			Timestamp: uint64(b.Timestamp.Unix()),
			Payload:   b.Payload,
		})
		ids = append(ids, b.BlobID)
	}
	s.store.MarkDeliveredBatch(ids, s.deviceID, time.Now())

	maxCursor := pull.AfterCursor
	if len(syncBlobs) > 0 {
		s.lastCursor = syncBlobs[len(syncBlobs)-1].Cursor
		s.coord.UpdateLastCursor(s.groupID, s.deviceID, s.lastCursor)
		maxCursor = s.lastCursor
	}

	if s.metrics != nil {
		total := 0
		for _, b := range syncBlobs {
			total += len(b.Payload)
		}
		s.metrics.RecordPull(total)
	}

	reply := wire.Envelope{Type: wire.MsgPullResponse, Payload: wire.PullResponse{
		Blobs:     syncBlobs,
		HasMore:   hasMore,
		MaxCursor: maxCursor,
	}.Encode()}
	return &reply
}

// handleBye logs the graceful disconnect and transitions to Closing; no
// reply is sent, matching spec.md §4.6's "log + transition" handling.
func (s *Session) handleBye(env wire.Envelope) *wire.Envelope {
	bye, err := wire.DecodeBye(env.Payload)
	if err == nil && bye.Reason != "" {
		s.logger.Info("bye", logging.KeyDeviceID, s.deviceID.String(), "reason", bye.Reason)
	} else {
		s.logger.Info("bye", logging.KeyDeviceID, s.deviceID.String())
	}
	s.state = StateClosing
	return nil
}

func (s *Session) cleanupRegistration() {
	if s.state == StateAwaitingHello {
		return
	}
	s.coord.Unregister(s.groupID, s.deviceID, s.conn)
}

// truncateRunes truncates s to at most n runes, never splitting a
// multi-byte UTF-8 character.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

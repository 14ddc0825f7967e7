// Package relayserver owns the relay's accept loop: it is the piece that
// sits above internal/relaysession and decides whether a newly accepted
// transport connection is even allowed to start a session, before any
// per-connection state exists. Grounded on the teacher's
// internal/agent.Agent.acceptLoop/handleIncomingConnection pair (a
// select-on-stopCh accept loop handing each connection to its own
// goroutine), generalized from the teacher's peer-mesh admission (no
// concept of a session cap or storage quota) to spec.md §4.7's
// connection-level admission: a per-endpoint connection rate limiter and
// a server-wide concurrent-session cap, both enforced before a
// relaysession.Session is constructed.
package relayserver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeroksync/0k-sync/internal/logging"
	"github.com/zeroksync/0k-sync/internal/metrics"
	"github.com/zeroksync/0k-sync/internal/recovery"
	"github.com/zeroksync/0k-sync/internal/relaycoord"
	"github.com/zeroksync/0k-sync/internal/relaysession"
	"github.com/zeroksync/0k-sync/internal/relaystore"
	"github.com/zeroksync/0k-sync/internal/transport"
)

// Config bundles the admission limits of spec.md §6 that apply before a
// session exists: the server-wide concurrent-session cap. Per-connection
// and per-message rate limits live in relaycoord.LimiterConfig; per-session
// behavior (HELLO timeout, quotas) lives in relaysession.Config.
type Config struct {
	// MaxConcurrentSessions caps sessions server-wide; 0 means unlimited.
	MaxConcurrentSessions int64
	SessionConfig         relaysession.Config
}

// DefaultConfig returns spec.md §6's max_concurrent_sessions default of
// 10,000, paired with relaysession.DefaultConfig.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSessions: 10_000,
		SessionConfig:         relaysession.DefaultConfig(),
	}
}

// Server accepts connections on one or more transport.Listener values and
// runs a relaysession.Session for each admitted connection.
type Server struct {
	store   *relaystore.Store
	coord   *relaycoord.Coordinator
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped sync.Once

	activeSessions atomic.Int64
}

// New returns a Server ready to Serve one or more listeners. store and
// coord are shared with relaysession; m may be nil.
func New(store *relaystore.Store, coord *relaycoord.Coordinator, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{
		store:   store,
		coord:   coord,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		stopCh:  make(chan struct{}),
	}
}

// Serve runs the accept loop for l until Stop is called or Accept returns
// a permanent error. It does not return until the loop exits.
func (s *Server) Serve(l transport.Listener) error {
	s.wg.Add(1)
	defer s.wg.Done()
	defer recovery.RecoverWithLog(s.logger, "relayserver.Serve")

	for {
		select {
		case <-s.stopCh:
			return nil
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		peerConn, err := l.Accept(ctx)
		cancel()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			s.logger.Debug("accept error", logging.KeyLocalAddr, l.Addr(), logging.KeyError, err)
			return err
		}

		s.wg.Add(1)
		go s.handleIncoming(peerConn)
	}
}

// Stop signals every running Serve loop and session goroutine spawned by
// this server to wind down, and blocks until they have.
func (s *Server) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// handleIncoming applies connection-level admission (per-endpoint rate
// limit, session cap) before establishing the single wire stream and
// running a relaysession.Session. Neither check has a session object to
// reject through yet, so a rejected connection is simply closed —
// analogous to the original Rust relay's connection.close(code, reason)
// at the same point in its accept path.
func (s *Server) handleIncoming(peerConn transport.PeerConn) {
	defer s.wg.Done()
	defer recovery.RecoverWithLog(s.logger, "relayserver.handleIncoming")

	endpointID := peerConn.RemoteAddr().String()
	if !s.coord.Limiters().AllowConnection(endpointID, time.Now()) {
		s.logger.Debug("connection rate limited", logging.KeyRemoteAddr, endpointID)
		if s.metrics != nil {
			s.metrics.RecordRateLimitHit("connection")
		}
		peerConn.Close()
		return
	}

	if s.cfg.MaxConcurrentSessions > 0 && s.activeSessions.Load() >= s.cfg.MaxConcurrentSessions {
		s.logger.Debug("session cap reached", logging.KeyRemoteAddr, endpointID)
		if s.metrics != nil {
			s.metrics.RecordRateLimitHit("session_cap")
		}
		peerConn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	conn, err := transport.AcceptConnFromPeer(ctx, peerConn)
	cancel()
	if err != nil {
		s.logger.Debug("establish stream failed", logging.KeyRemoteAddr, endpointID, logging.KeyError, err)
		peerConn.Close()
		return
	}

	s.activeSessions.Add(1)
	defer s.activeSessions.Add(-1)

	if s.metrics != nil {
		s.metrics.RecordConnect()
		defer s.metrics.RecordDisconnect()
	}

	sess := relaysession.New(conn, s.store, s.coord, s.cfg.SessionConfig, s.logger, s.metrics)
	_ = sess.Run(context.Background())
	conn.Close()
}

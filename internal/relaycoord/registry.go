// Package relaycoord holds the relay's cross-session coordination state:
// which devices are online in which groups, NOTIFY fan-out to them, and
// the three token-bucket rate limiters spec.md §4.7 describes. Grounded
// on the teacher's internal/peer.Manager (an RWMutex-guarded registry
// keyed by peer id) generalized from a single global peer set to a
// per-group one, and internal/filetransfer/ratelimit.go's
// golang.org/x/time/rate token buckets, generalized from byte-rate to
// request-rate limiting.
package relaycoord

import (
	"log/slog"
	"sync"

	"github.com/zeroksync/0k-sync/internal/logging"
	"github.com/zeroksync/0k-sync/internal/transport"
	"github.com/zeroksync/0k-sync/internal/wire"
)

// sessionKey identifies one registered (group, device) slot. A
// reconnecting device replaces its previous registration under the same
// key rather than coexisting with it.
type sessionKey struct {
	group  wire.GroupID
	device wire.DeviceID
}

type registeredSession struct {
	conn       *transport.Conn
	lastCursor wire.Cursor
}

// Coordinator is the relay's active-session registry plus rate limiters.
// One Coordinator is shared by every relaysession connection handler on
// a relay process.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*registeredSession

	limiters *Limiters
	logger   *slog.Logger
}

// New returns an empty Coordinator using cfg for its rate limiters. A
// nil logger runs silently.
func New(cfg LimiterConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{
		sessions: make(map[sessionKey]*registeredSession),
		limiters: NewLimiters(cfg),
		logger:   logger,
	}
}

// Limiters exposes the coordinator's rate limiters so a relaysession
// handler can check them directly.
func (c *Coordinator) Limiters() *Limiters {
	return c.limiters
}

// Register records device as online in group on conn, replacing any
// previous registration for the same (group, device) — the new
// connection handle is what NOTIFY fan-out will use from now on.
func (c *Coordinator) Register(group wire.GroupID, device wire.DeviceID, conn *transport.Conn, lastCursor wire.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionKey{group: group, device: device}] = &registeredSession{conn: conn, lastCursor: lastCursor}
}

// Unregister removes device's registration in group, but only if it is
// still pointing at conn — guarding against a stale unregister call from
// a connection that has already been replaced by a newer one for the
// same device.
func (c *Coordinator) Unregister(group wire.GroupID, device wire.DeviceID, conn *transport.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := sessionKey{group: group, device: device}
	if s, ok := c.sessions[key]; ok && s.conn == conn {
		delete(c.sessions, key)
	}
}

// UpdateLastCursor records the highest cursor device is known to have
// seen in group, so a later NOTIFY can report an accurate count.
func (c *Coordinator) UpdateLastCursor(group wire.GroupID, device wire.DeviceID, cursor wire.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionKey{group: group, device: device}]; ok {
		s.lastCursor = cursor
	}
}

// OnlineCount reports how many devices are currently registered in
// group.
func (c *Coordinator) OnlineCount(group wire.GroupID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for k := range c.sessions {
		if k.group == group {
			n++
		}
	}
	return n
}

// Stats reports the number of currently registered sessions and the
// number of distinct groups with at least one of them, for the relay's
// /health and /metrics side channel (spec.md §6).
func (c *Coordinator) Stats() (connections, groups int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[wire.GroupID]struct{}, len(c.sessions))
	for k := range c.sessions {
		seen[k.group] = struct{}{}
	}
	return len(c.sessions), len(seen)
}

// NotifyGroup sends NOTIFY{latest_cursor, count} to every device
// registered in group other than exclude, best-effort: a send failure
// just drops that device's notification rather than retrying it, per
// spec.md §4.7's "dropped, not queued" back-pressure rule. A device
// whose connection has gone bad is unregistered so a later send doesn't
// keep failing against it.
func (c *Coordinator) NotifyGroup(group wire.GroupID, latestCursor wire.Cursor, exclude wire.DeviceID) {
	type target struct {
		device wire.DeviceID
		conn   *transport.Conn
		count  uint32
	}

	c.mu.RLock()
	targets := make([]target, 0, len(c.sessions))
	for key, s := range c.sessions {
		if key.group != group || key.device == exclude {
			continue
		}
		count := uint32(0)
		if latestCursor > s.lastCursor {
			count = uint32(latestCursor - s.lastCursor)
		}
		targets = append(targets, target{device: key.device, conn: s.conn, count: count})
	}
	c.mu.RUnlock()

	notify := wire.Notify{LatestCursor: latestCursor}
	for _, t := range targets {
		notify.Count = t.count
		env := wire.Envelope{Type: wire.MsgNotify, Payload: notify.Encode()}
		if err := t.conn.Send(env); err != nil {
			c.logger.Debug("notify delivery failed, dropping session",
				logging.KeyGroupID, group.String(),
				logging.KeyDeviceID, t.device.String(),
				logging.KeyError, err)
			c.Unregister(group, t.device, t.conn)
		}
	}
}

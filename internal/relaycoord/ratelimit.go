package relaycoord

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeroksync/0k-sync/internal/wire"
)

// keyedLimiter is one token bucket plus the time it was last consulted,
// so idle entries can be evicted once their bucket is certain to have
// refilled, generalizing internal/filetransfer/ratelimit.go's single
// byte-rate bucket to a per-key registry of request-rate buckets.
type keyedLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// keyedLimiterSet is a registry of per-key token buckets sharing one
// rate/burst configuration.
type keyedLimiterSet[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyedLimiter
	rate    rate.Limit
	burst   int
}

func newKeyedLimiterSet[K comparable](perMinute int) *keyedLimiterSet[K] {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &keyedLimiterSet[K]{
		entries: make(map[K]*keyedLimiter),
		rate:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
	}
}

// Allow reports whether an event for key is permitted right now,
// consuming one token from its bucket if so.
func (s *keyedLimiterSet[K]) Allow(key K, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &keyedLimiter{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.entries[key] = e
	}
	e.lastUsed = now
	return e.limiter.AllowN(now, 1)
}

// EvictIdle drops entries whose bucket has had long enough to fully
// refill since its last use, bounding the registry's memory against a
// relay that has seen many distinct keys (endpoints, devices) over its
// lifetime. idleFor should be comfortably longer than the time a full
// bucket takes to drain and refill.
func (s *keyedLimiterSet[K]) EvictIdle(now time.Time, idleFor time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for k, e := range s.entries {
		if now.Sub(e.lastUsed) >= idleFor {
			delete(s.entries, k)
			evicted++
		}
	}
	return evicted
}

// Limiters bundles the three token-bucket limiters spec.md §4.7
// requires: a connection-accept limiter keyed on endpoint id, a
// message-rate limiter keyed on device id, and one unkeyed global
// limiter.
type Limiters struct {
	conn   *keyedLimiterSet[string]
	msg    *keyedLimiterSet[wire.DeviceID]
	global *rate.Limiter
}

// LimiterConfig controls the three quotas.
type LimiterConfig struct {
	ConnectionsPerMinutePerEndpoint int
	MessagesPerMinutePerDevice      int
	GlobalMessagesPerSecond         int
}

// DefaultLimiterConfig returns conservative but non-degenerate quotas.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		ConnectionsPerMinutePerEndpoint: 20,
		MessagesPerMinutePerDevice:      600,
		GlobalMessagesPerSecond:         2000,
	}
}

// NewLimiters builds the three limiters from cfg.
func NewLimiters(cfg LimiterConfig) *Limiters {
	globalRate := cfg.GlobalMessagesPerSecond
	if globalRate <= 0 {
		globalRate = 1
	}
	return &Limiters{
		conn:   newKeyedLimiterSet[string](cfg.ConnectionsPerMinutePerEndpoint),
		msg:    newKeyedLimiterSet[wire.DeviceID](cfg.MessagesPerMinutePerDevice),
		global: rate.NewLimiter(rate.Limit(globalRate), globalRate),
	}
}

// AllowConnection checks the per-endpoint connection-accept quota.
func (l *Limiters) AllowConnection(endpointID string, now time.Time) bool {
	return l.conn.Allow(endpointID, now)
}

// AllowMessage checks both the global and the per-device message quota,
// as spec.md §4.6 requires both to be checked at their respective layers.
func (l *Limiters) AllowMessage(device wire.DeviceID, now time.Time) bool {
	if !l.global.AllowN(now, 1) {
		return false
	}
	return l.msg.Allow(device, now)
}

// EvictIdle sweeps both keyed limiter sets, returning the total number
// of entries evicted.
func (l *Limiters) EvictIdle(now time.Time, idleFor time.Duration) int {
	return l.conn.EvictIdle(now, idleFor) + l.msg.EvictIdle(now, idleFor)
}

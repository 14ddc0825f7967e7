package syncstate

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"
)

// maxBackoff caps the exponential term before jitter is added.
const maxBackoff = 30 * time.Second

// maxJitter bounds the uniform random component added on top of the
// exponential term.
const maxJitter = 5 * time.Second

// BaseBackoff computes the exponential part of the reconnect delay for
// a given attempt number: min(30s, 2^min(attempt,5) seconds). Pure and
// deterministic — the jitter that turns this into an actual sleep
// duration is added by JitteredBackoff.
func BaseBackoff(attempt int) time.Duration {
	capped := attempt
	if capped > 5 {
		capped = 5
	}
	if capped < 0 {
		capped = 0
	}
	seconds := math.Pow(2, float64(capped))
	d := time.Duration(seconds * float64(time.Second))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// JitteredBackoff adds a uniform random delay in [0, 5000ms) on top of
// BaseBackoff(attempt), so that many clients reconnecting to the same
// relay after an outage do not all retry in lockstep. This is the only
// impure function in this package — it is meant to be called by the
// interpreter when executing a StartReconnectTimerAction, never by
// Transition itself.
func JitteredBackoff(attempt int) time.Duration {
	return BaseBackoff(attempt) + randDuration(maxJitter)
}

// randDuration returns a uniformly random duration in [0, max).
func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	n := binary.BigEndian.Uint64(b[:])
	return time.Duration(n % uint64(max))
}

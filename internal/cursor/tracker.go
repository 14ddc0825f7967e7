// Package cursor tracks which per-group cursor values a client has
// actually received, so it can tell a contiguous prefix from data that
// arrived out of order and is waiting on a gap to fill.
package cursor

import (
	"sync"

	"github.com/zeroksync/0k-sync/internal/wire"
)

// MaxGap bounds how large a hole between the contiguous prefix and the
// highest received cursor Missing() will enumerate. Beyond this, the gap
// is reported as empty rather than allocating a slice proportional to
// an attacker- or bug-induced cursor jump.
const MaxGap = 10000

// Tracker is a pure bookkeeping structure: contiguous is the highest
// cursor value such that every value up to and including it has been
// received, and received holds every value strictly greater than
// contiguous that has arrived out of order. Safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	contiguous  wire.Cursor
	received    map[wire.Cursor]struct{}
	maxReceived wire.Cursor
}

// New creates a tracker starting from initial — the highest cursor
// already known to be contiguous (0 if nothing has been received yet).
func New(initial wire.Cursor) *Tracker {
	return &Tracker{
		contiguous:  initial,
		received:    make(map[wire.Cursor]struct{}),
		maxReceived: initial,
	}
}

// Received records that cursor c has arrived, then advances the
// contiguous prefix as far as the received set allows.
func (t *Tracker) Received(c wire.Cursor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c <= t.contiguous {
		return
	}
	t.received[c] = struct{}{}
	if c > t.maxReceived {
		t.maxReceived = c
	}
	t.advanceLocked()
}

// advanceLocked walks contiguous forward while its successor is already
// in the received set, removing each consumed value.
func (t *Tracker) advanceLocked() {
	for {
		next := t.contiguous.Next()
		if _, ok := t.received[next]; !ok {
			return
		}
		delete(t.received, next)
		t.contiguous = next
		if len(t.received) == 0 {
			t.maxReceived = t.contiguous
		}
	}
}

// Contiguous returns the highest cursor such that every value up to it
// has been received.
func (t *Tracker) Contiguous() wire.Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.contiguous
}

// HasGaps reports whether any cursor beyond the contiguous prefix has
// been received out of order, meaning something between contiguous+1
// and that value is still missing.
func (t *Tracker) HasGaps() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.received) > 0
}

// Missing enumerates the cursor values between the contiguous prefix and
// the highest received cursor that have not themselves been received.
// If that span exceeds MaxGap, it returns nil rather than allocate a
// slice sized to an arbitrarily large jump.
func (t *Tracker) Missing() []wire.Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.received) == 0 {
		return nil
	}
	gap := uint64(t.maxReceived) - uint64(t.contiguous)
	if gap > MaxGap {
		return nil
	}

	missing := make([]wire.Cursor, 0, gap)
	for c := t.contiguous.Next(); ; c = c.Next() {
		if _, ok := t.received[c]; !ok {
			missing = append(missing, c)
		}
		if c == t.maxReceived {
			break
		}
	}
	return missing
}

// AcknowledgeUpTo force-advances the contiguous prefix to at least c,
// discarding any received entries at or below it. Used when a relay's
// PullResponse reports a max_cursor beyond what was actually delivered
// as usable data (e.g. some blobs were skipped after failing to
// decrypt) — the client does not re-request skipped data, so the
// tracker must not keep reporting it as missing forever.
func (t *Tracker) AcknowledgeUpTo(c wire.Cursor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c <= t.contiguous {
		return
	}
	for received := range t.received {
		if received <= c {
			delete(t.received, received)
		}
	}
	t.contiguous = c
	if len(t.received) == 0 {
		t.maxReceived = t.contiguous
	}
	t.advanceLocked()
}

// Reset clears all tracked state and sets the contiguous prefix to c,
// used when a client reconnects and starts pulling from a fresh cursor.
func (t *Tracker) Reset(c wire.Cursor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contiguous = c
	t.maxReceived = c
	t.received = make(map[wire.Cursor]struct{})
}

// Package outbox buffers outgoing blobs between a client's push() calls
// and their acknowledgment by a relay, so a dropped connection can retry
// in-flight pushes without losing data or reordering them.
package outbox

import (
	"fmt"
	"sync"

	"github.com/zeroksync/0k-sync/internal/wire"
)

// ErrFull is returned by Enqueue when the buffer is already holding
// Capacity items across its queue and in-flight set combined.
type ErrFull struct {
	Capacity int
}

func (e *ErrFull) Error() string {
	return fmt.Sprintf("outbox: buffer full at capacity %d", e.Capacity)
}

// Buffer is a FIFO queue of not-yet-sent pushes plus a set of pushes
// that have been sent and are awaiting a PushAck. A Nack puts a message
// back at the front of the queue rather than the back, so retries
// preserve the original send order instead of reordering behind
// messages that arrived later.
type Buffer struct {
	mu      sync.Mutex
	maxSize int
	queue   []wire.Push
	pending map[wire.BlobID]wire.Push
}

// NewBuffer creates an outbox that rejects Enqueue once queued+pending
// reaches maxSize.
func NewBuffer(maxSize int) *Buffer {
	return &Buffer{
		maxSize: maxSize,
		pending: make(map[wire.BlobID]wire.Push),
	}
}

// Enqueue appends msg to the back of the queue, or returns ErrFull if
// the buffer is already at capacity.
func (b *Buffer) Enqueue(msg wire.Push) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue)+len(b.pending) >= b.maxSize {
		return &ErrFull{Capacity: b.maxSize}
	}
	b.queue = append(b.queue, msg)
	return nil
}

// Dequeue moves the front of the queue into the pending (in-flight) set
// and returns it, ready to be sent. Returns false if the queue is empty.
func (b *Buffer) Dequeue() (wire.Push, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return wire.Push{}, false
	}
	msg := b.queue[0]
	b.queue = b.queue[1:]
	b.pending[msg.BlobID] = msg
	return msg, true
}

// Ack removes id from the pending set, confirming the relay stored it.
// Returns false if id was not pending.
func (b *Buffer) Ack(id wire.BlobID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

// Nack moves id from the pending set back to the front of the queue for
// retry, preserving its original position relative to messages enqueued
// after it. Returns false if id was not pending.
func (b *Buffer) Nack(id wire.BlobID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.pending[id]
	if !ok {
		return false
	}
	delete(b.pending, id)
	b.queue = append([]wire.Push{msg}, b.queue...)
	return true
}

// IsPending reports whether id is currently in-flight (dequeued but not
// yet acked or nacked).
func (b *Buffer) IsPending(id wire.BlobID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[id]
	return ok
}

// Len returns the number of messages still waiting in the queue (not
// counting in-flight pending messages).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// PendingCount returns the number of in-flight messages awaiting ack.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// TotalCount returns queued plus pending messages.
func (b *Buffer) TotalCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + len(b.pending)
}

// PendingBlobIDs returns the blob ids currently in flight, in no
// particular order.
func (b *Buffer) PendingBlobIDs() []wire.BlobID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]wire.BlobID, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	return ids
}

// Clear discards every queued and pending message.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
	b.pending = make(map[wire.BlobID]wire.Push)
}

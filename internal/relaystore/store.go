// Package relaystore implements the relay's durable state: per-group
// cursor assignment, blob storage, and per-device delivery tracking.
//
// No SQL driver is exercised anywhere in the retrieved example corpus,
// so the relational schema of the design (group_cursors/blobs/deliveries)
// is realized directly as in-process, mutex-guarded maps instead, the way
// the teacher's internal/peer.Manager and internal/stream.Manager guard
// their own connection registries with a single sync.RWMutex rather than
// an external store.
package relaystore

import (
	"errors"
	"sync"
	"time"

	"github.com/zeroksync/0k-sync/internal/wire"
)

// ErrDuplicateBlobID is returned by StoreBlob when the request's BlobID
// already exists, matching the schema's PRIMARY KEY(blob_id) constraint.
var ErrDuplicateBlobID = errors.New("relaystore: duplicate blob id")

// Blob is one stored, relay-assigned item.
type Blob struct {
	BlobID    wire.BlobID
	GroupID   wire.GroupID
	Cursor    wire.Cursor
	SenderID  wire.DeviceID
	Payload   []byte
	Timestamp time.Time
	ExpiresAt time.Time
}

// StoreBlobRequest is the input to Store.StoreBlob. BlobID is chosen by
// the client, not the relay: it is the schema's primary key, and PUSH_ACK
// echoes it back so the client can match the ack to its outbox entry.
type StoreBlobRequest struct {
	BlobID   wire.BlobID
	GroupID  wire.GroupID
	SenderID wire.DeviceID
	Payload  []byte
	TTL      time.Duration
}

type deliveryKey struct {
	blobID   wire.BlobID
	deviceID wire.DeviceID
}

// Store is the relay's in-process storage engine. It is safe for
// concurrent use by many session goroutines.
type Store struct {
	mu sync.RWMutex

	nextCursor map[wire.GroupID]wire.Cursor
	blobs      map[wire.BlobID]*Blob
	byGroup    map[wire.GroupID][]*Blob // ascending by cursor; cursors are
	// assigned strictly increasing under mu, so appending under the same
	// lock keeps this slice sorted with no separate sort step.
	deliveries map[deliveryKey]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextCursor: make(map[wire.GroupID]wire.Cursor),
		blobs:      make(map[wire.BlobID]*Blob),
		byGroup:    make(map[wire.GroupID][]*Blob),
		deliveries: make(map[deliveryKey]time.Time),
	}
}

// StoreBlob assigns the next cursor for req.GroupID, inserts the blob,
// and returns the assigned cursor. Cursor assignment is atomic: under
// the single store-wide lock, concurrent pushes to the same group
// observe strictly increasing cursors and never a hole, the equivalent
// of the design's `INSERT ... ON CONFLICT DO UPDATE ... RETURNING`
// upsert.
func (s *Store) StoreBlob(req StoreBlobRequest, now time.Time) (wire.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blobs[req.BlobID]; exists {
		return 0, ErrDuplicateBlobID
	}

	cur := s.nextCursor[req.GroupID] + 1
	s.nextCursor[req.GroupID] = cur

	b := &Blob{
		BlobID:    req.BlobID,
		GroupID:   req.GroupID,
		Cursor:    cur,
		SenderID:  req.SenderID,
		Payload:   req.Payload,
		Timestamp: now,
		ExpiresAt: now.Add(req.TTL),
	}
	s.blobs[req.BlobID] = b
	s.byGroup[req.GroupID] = append(s.byGroup[req.GroupID], b)
	return cur, nil
}

// GetBlobsAfter returns up to limit blobs in group with cursor > after,
// ordered ascending by cursor.
func (s *Store) GetBlobsAfter(group wire.GroupID, after wire.Cursor, limit int) []Blob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byGroup[group]
	out := make([]Blob, 0, limit)
	for _, b := range all {
		if b.Cursor <= after {
			continue
		}
		out = append(out, *b)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// GetMaxCursor returns the highest assigned cursor in group, or 0 if the
// group has never stored a blob.
func (s *Store) GetMaxCursor(group wire.GroupID) wire.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCursor[group]
}

// MarkDeliveredBatch records that device has received every blob in
// blobIDs, as of now. Idempotent: re-marking an already-delivered blob
// just overwrites its timestamp.
func (s *Store) MarkDeliveredBatch(blobIDs []wire.BlobID, device wire.DeviceID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range blobIDs {
		s.deliveries[deliveryKey{blobID: id, deviceID: device}] = now
	}
}

// GetPendingCount returns the number of blobs in group sent by a device
// other than device that device has not yet been marked as having
// received. A device never counts its own blobs as pending.
func (s *Store) GetPendingCount(group wire.GroupID, device wire.DeviceID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, b := range s.byGroup[group] {
		if b.SenderID == device {
			continue
		}
		if _, delivered := s.deliveries[deliveryKey{blobID: b.BlobID, deviceID: device}]; delivered {
			continue
		}
		count++
	}
	return count
}

// GetGroupStorage returns the sum of payload lengths currently stored
// for group.
func (s *Store) GetGroupStorage(group wire.GroupID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, b := range s.byGroup[group] {
		total += int64(len(b.Payload))
	}
	return total
}

// CleanupExpired deletes every blob whose ExpiresAt is at or before now,
// along with its delivery rows, and returns the number of blobs removed.
func (s *Store) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for group, blobs := range s.byGroup {
		kept := blobs[:0:0]
		for _, b := range blobs {
			if !b.ExpiresAt.After(now) {
				delete(s.blobs, b.BlobID)
				for dev := range s.devicesWithDeliveryLocked(b.BlobID) {
					delete(s.deliveries, deliveryKey{blobID: b.BlobID, deviceID: dev})
				}
				removed++
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			delete(s.byGroup, group)
		} else {
			s.byGroup[group] = kept
		}
	}
	return removed
}

// devicesWithDeliveryLocked returns the set of devices with a delivery
// row for blobID. Callers must hold mu.
func (s *Store) devicesWithDeliveryLocked(blobID wire.BlobID) map[wire.DeviceID]struct{} {
	out := make(map[wire.DeviceID]struct{})
	for key := range s.deliveries {
		if key.blobID == blobID {
			out[key.deviceID] = struct{}{}
		}
	}
	return out
}

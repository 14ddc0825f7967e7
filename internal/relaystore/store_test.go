package relaystore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zeroksync/0k-sync/internal/wire"
)

func testGroupID(t *testing.T) wire.GroupID {
	t.Helper()
	return wire.GroupIDFromSecret([]byte("test-group-secret"))
}

func testDeviceID(t *testing.T) wire.DeviceID {
	t.Helper()
	id, err := wire.NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}
	return id
}

func TestStore_StoreBlobAssignsIncreasingCursors(t *testing.T) {
	s := New()
	group := testGroupID(t)
	sender := testDeviceID(t)
	now := time.Now()

	c1, err := s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: []byte("a"), TTL: time.Hour}, now)
	if err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}
	c2, err := s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: []byte("b"), TTL: time.Hour}, now)
	if err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}
	if c1 != 1 || c2 != 2 {
		t.Fatalf("cursors = %d, %d, want 1, 2", c1, c2)
	}
	if got := s.GetMaxCursor(group); got != 2 {
		t.Errorf("GetMaxCursor() = %d, want 2", got)
	}
}

func TestStore_StoreBlobRejectsDuplicateBlobID(t *testing.T) {
	s := New()
	group := testGroupID(t)
	sender := testDeviceID(t)
	now := time.Now()
	id := wire.NewBlobID()

	if _, err := s.StoreBlob(StoreBlobRequest{BlobID: id, GroupID: group, SenderID: sender, Payload: []byte("a"), TTL: time.Hour}, now); err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}
	if _, err := s.StoreBlob(StoreBlobRequest{BlobID: id, GroupID: group, SenderID: sender, Payload: []byte("b"), TTL: time.Hour}, now); !errors.Is(err, ErrDuplicateBlobID) {
		t.Fatalf("StoreBlob() error = %v, want ErrDuplicateBlobID", err)
	}
}

func TestStore_ConcurrentStoreBlobNeverCollides(t *testing.T) {
	s := New()
	group := testGroupID(t)
	sender := testDeviceID(t)
	now := time.Now()

	const n = 200
	cursors := make([]wire.Cursor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: []byte("x"), TTL: time.Hour}, now)
			if err != nil {
				t.Errorf("StoreBlob() error = %v", err)
				return
			}
			cursors[i] = c
		}(i)
	}
	wg.Wait()

	seen := make(map[wire.Cursor]bool, n)
	for _, c := range cursors {
		if seen[c] {
			t.Fatalf("duplicate cursor %d", c)
		}
		seen[c] = true
	}
	if got := s.GetMaxCursor(group); got != wire.Cursor(n) {
		t.Errorf("GetMaxCursor() = %d, want %d", got, n)
	}
}

func TestStore_GetBlobsAfterOrderedAndLimited(t *testing.T) {
	s := New()
	group := testGroupID(t)
	sender := testDeviceID(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		if _, err := s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: []byte{byte(i)}, TTL: time.Hour}, now); err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}
	}

	got := s.GetBlobsAfter(group, 2, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Cursor != 3 || got[1].Cursor != 4 {
		t.Errorf("cursors = %d, %d, want 3, 4", got[0].Cursor, got[1].Cursor)
	}
}

func TestStore_GetPendingCountExcludesOwnBlobsAndDelivered(t *testing.T) {
	s := New()
	group := testGroupID(t)
	alice := testDeviceID(t)
	bob := testDeviceID(t)
	now := time.Now()

	if _, err := s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: alice, Payload: []byte("a"), TTL: time.Hour}, now); err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}
	req2 := StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: alice, Payload: []byte("b"), TTL: time.Hour}
	c2, err := s.StoreBlob(req2, now)
	if err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}

	if got := s.GetPendingCount(group, alice); got != 0 {
		t.Errorf("alice pending = %d, want 0 (own blobs excluded)", got)
	}
	if got := s.GetPendingCount(group, bob); got != 2 {
		t.Errorf("bob pending = %d, want 2", got)
	}

	blobs := s.GetBlobsAfter(group, 0, 10)
	_ = c2
	s.MarkDeliveredBatch([]wire.BlobID{blobs[0].BlobID}, bob, now)
	if got := s.GetPendingCount(group, bob); got != 1 {
		t.Errorf("bob pending after one delivery = %d, want 1", got)
	}
}

func TestStore_GetGroupStorageSumsPayloadLengths(t *testing.T) {
	s := New()
	group := testGroupID(t)
	sender := testDeviceID(t)
	now := time.Now()

	s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: make([]byte, 10), TTL: time.Hour}, now)
	s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: make([]byte, 20), TTL: time.Hour}, now)

	if got := s.GetGroupStorage(group); got != 30 {
		t.Errorf("GetGroupStorage() = %d, want 30", got)
	}
}

func TestStore_CleanupExpiredRemovesExpiredBlobsAndDeliveries(t *testing.T) {
	s := New()
	group := testGroupID(t)
	sender := testDeviceID(t)
	device := testDeviceID(t)
	now := time.Now()

	s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: []byte("expired"), TTL: -time.Minute}, now)
	s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: []byte("fresh"), TTL: time.Hour}, now)

	blobs := s.GetBlobsAfter(group, 0, 10)
	s.MarkDeliveredBatch([]wire.BlobID{blobs[0].BlobID}, device, now)

	n := s.CleanupExpired(now)
	if n != 1 {
		t.Fatalf("CleanupExpired() = %d, want 1", n)
	}

	remaining := s.GetBlobsAfter(group, 0, 10)
	if len(remaining) != 1 {
		t.Fatalf("remaining blobs = %d, want 1", len(remaining))
	}
	if remaining[0].Payload[0] != 'f' {
		t.Errorf("surviving blob should be the fresh one")
	}
	if got := s.GetPendingCount(group, device); got != 1 {
		t.Errorf("pending for device after cleanup = %d, want 1 (fresh blob still undelivered)", got)
	}
}

func TestStore_CleanupExpiredNothingToDo(t *testing.T) {
	s := New()
	group := testGroupID(t)
	sender := testDeviceID(t)
	now := time.Now()
	s.StoreBlob(StoreBlobRequest{BlobID: wire.NewBlobID(), GroupID: group, SenderID: sender, Payload: []byte("x"), TTL: time.Hour}, now)

	if n := s.CleanupExpired(now); n != 0 {
		t.Errorf("CleanupExpired() = %d, want 0", n)
	}
}

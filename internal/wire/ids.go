// Package wire defines the identifier types, envelope, and message
// encodings exchanged between 0k-Sync clients and relays.
package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

// IDSize is the byte length of DeviceID, GroupID, and RelayNodeID.
const IDSize = 32

// groupIDContext is mixed into the GroupID derivation so the hash can
// never collide with a different use of SHA-256 over the same secret.
const groupIDContext = "0k-sync-group-id-v1"

// DeviceID is a device's opaque per-device public identifier, derived
// from the endpoint public key at the transport layer.
type DeviceID [IDSize]byte

// GroupID identifies a sync group. It is a deterministic function of the
// group secret, so every device in a group computes the same value.
type GroupID [IDSize]byte

// RelayNodeID is a relay's endpoint public key.
type RelayNodeID [IDSize]byte

var (
	zeroDeviceID DeviceID
	zeroGroupID  GroupID
)

// NewDeviceID generates a random DeviceID. Production callers derive a
// DeviceID from a transport endpoint public key instead; this is used by
// tests and by callers that have no transport identity yet.
func NewDeviceID() (DeviceID, error) {
	var id DeviceID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		return zeroDeviceID, fmt.Errorf("generate device id: %w", err)
	}
	return id, nil
}

// DeviceIDFromBytes builds a DeviceID from an endpoint public key.
func DeviceIDFromBytes(b []byte) (DeviceID, error) {
	var id DeviceID
	if len(b) != IDSize {
		return zeroDeviceID, fmt.Errorf("device id must be %d bytes, got %d", IDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the URL-safe base64, unpadded encoding of the id.
func (id DeviceID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// GoString redacts most of the id for %#v / debug-style formatting,
// keeping only a short, non-reversible prefix for log correlation.
func (id DeviceID) GoString() string {
	return fmt.Sprintf("DeviceID(%s...)", id.String()[:8])
}

// IsZero reports whether the id is uninitialized.
func (id DeviceID) IsZero() bool {
	return id == zeroDeviceID
}

// GroupIDFromSecret derives the group identifier from a group secret:
// SHA-256("0k-sync-group-id-v1" || secret). Identical on every device
// that holds the same group secret.
func GroupIDFromSecret(secret []byte) GroupID {
	h := sha256.New()
	h.Write([]byte(groupIDContext))
	h.Write(secret)
	var id GroupID
	copy(id[:], h.Sum(nil))
	return id
}

// String returns the URL-safe base64, unpadded encoding of the id.
func (id GroupID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// IsZero reports whether the id is uninitialized.
func (id GroupID) IsZero() bool {
	return id == zeroGroupID
}

// RelayNodeIDFromBytes builds a RelayNodeID from a relay endpoint public key.
func RelayNodeIDFromBytes(b []byte) (RelayNodeID, error) {
	var id RelayNodeID
	if len(b) != IDSize {
		return id, fmt.Errorf("relay node id must be %d bytes, got %d", IDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the URL-safe base64, unpadded encoding of the id.
func (id RelayNodeID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// BlobID is a client-assigned, unique-per-push identifier in the shape of
// a version-4 UUID.
type BlobID uuid.UUID

// NewBlobID generates a new random (v4) BlobID.
func NewBlobID() BlobID {
	return BlobID(uuid.New())
}

// ParseBlobID parses a BlobID from its canonical string form.
func ParseBlobID(s string) (BlobID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return BlobID{}, fmt.Errorf("parse blob id: %w", err)
	}
	return BlobID(u), nil
}

// String returns the canonical UUID string representation.
func (b BlobID) String() string {
	return uuid.UUID(b).String()
}

// Bytes returns the 16 raw bytes of the BlobID.
func (b BlobID) Bytes() []byte {
	return b[:]
}

// IsZero reports whether the BlobID is the nil UUID.
func (b BlobID) IsZero() bool {
	return b == BlobID{}
}

// Cursor is a monotonically increasing per-group sequence number. Zero
// means "no data yet".
type Cursor uint64

// Next returns the cursor advanced by one, saturating at math.MaxUint64
// instead of wrapping to zero.
func (c Cursor) Next() Cursor {
	if c == math.MaxUint64 {
		return c
	}
	return c + 1
}

// IsZero reports whether the cursor is the zero value.
func (c Cursor) IsZero() bool {
	return c == 0
}

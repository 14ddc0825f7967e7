package wire

import "fmt"

// Hello is the client's opening message on a fresh connection (tag 1).
type Hello struct {
	Version    uint8
	DeviceName string
	GroupID    GroupID
	LastCursor Cursor
}

func (m Hello) Encode() []byte {
	w := newWriter(1 + 2 + len(m.DeviceName) + IDSize + 8)
	w.byte(m.Version)
	w.str(m.DeviceName)
	w.raw(m.GroupID[:])
	w.uint64(uint64(m.LastCursor))
	return w.bytesOut()
}

func DecodeHello(b []byte) (Hello, error) {
	r := newReader(b)
	var m Hello
	v, err := r.byte()
	if err != nil {
		return m, err
	}
	m.Version = v
	name, err := r.str()
	if err != nil {
		return m, err
	}
	m.DeviceName = name
	gid, err := r.raw(IDSize)
	if err != nil {
		return m, err
	}
	copy(m.GroupID[:], gid)
	cur, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.LastCursor = Cursor(cur)
	return m, nil
}

// Welcome is the relay's reply to a valid Hello (tag 8, unassigned by the
// protocol table).
type Welcome struct {
	Version      uint8
	MaxCursor    Cursor
	PendingCount uint32
}

func (m Welcome) Encode() []byte {
	w := newWriter(1 + 8 + 4)
	w.byte(m.Version)
	w.uint64(uint64(m.MaxCursor))
	w.uint32(m.PendingCount)
	return w.bytesOut()
}

func DecodeWelcome(b []byte) (Welcome, error) {
	r := newReader(b)
	var m Welcome
	v, err := r.byte()
	if err != nil {
		return m, err
	}
	m.Version = v
	cur, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.MaxCursor = Cursor(cur)
	pc, err := r.uint32()
	if err != nil {
		return m, err
	}
	m.PendingCount = pc
	return m, nil
}

// Push delivers an encrypted blob to the relay (tag 2). Payload is the
// content cipher's wire form: nonce || ciphertext. TTL of 0 asks the
// relay to apply its configured default.
type Push struct {
	BlobID  BlobID
	Payload []byte
	TTL     uint32
}

func (m Push) Encode() []byte {
	w := newWriter(16 + 4 + len(m.Payload) + 4)
	w.raw(m.BlobID.Bytes())
	w.bytes(m.Payload)
	w.uint32(m.TTL)
	return w.bytesOut()
}

func DecodePush(b []byte) (Push, error) {
	r := newReader(b)
	var m Push
	idBytes, err := r.raw(16)
	if err != nil {
		return m, err
	}
	copy(m.BlobID[:], idBytes)
	payload, err := r.bytes()
	if err != nil {
		return m, err
	}
	m.Payload = payload
	ttl, err := r.uint32()
	if err != nil {
		return m, err
	}
	m.TTL = ttl
	return m, nil
}

// PushAck confirms storage of a pushed blob and assigns it a cursor
// (tag 3).
type PushAck struct {
	BlobID BlobID
	Cursor Cursor
}

func (m PushAck) Encode() []byte {
	w := newWriter(16 + 8)
	w.raw(m.BlobID.Bytes())
	w.uint64(uint64(m.Cursor))
	return w.bytesOut()
}

func DecodePushAck(b []byte) (PushAck, error) {
	r := newReader(b)
	var m PushAck
	idBytes, err := r.raw(16)
	if err != nil {
		return m, err
	}
	copy(m.BlobID[:], idBytes)
	cur, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.Cursor = Cursor(cur)
	return m, nil
}

// Pull requests blobs after a cursor, up to limit (0 asks the relay to
// apply its configured default) (tag 4).
type Pull struct {
	AfterCursor Cursor
	Limit       uint32
}

func (m Pull) Encode() []byte {
	w := newWriter(8 + 4)
	w.uint64(uint64(m.AfterCursor))
	w.uint32(m.Limit)
	return w.bytesOut()
}

func DecodePull(b []byte) (Pull, error) {
	r := newReader(b)
	var m Pull
	cur, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.AfterCursor = Cursor(cur)
	limit, err := r.uint32()
	if err != nil {
		return m, err
	}
	m.Limit = limit
	return m, nil
}

// SyncBlob is one delivered item inside a PullResponse.
type SyncBlob struct {
	BlobID    BlobID
	SenderID  DeviceID
	Cursor    Cursor
	Timestamp uint64
	Payload   []byte
}

func (b SyncBlob) encodeInto(w *writer) {
	w.raw(b.BlobID.Bytes())
	w.raw(b.SenderID[:])
	w.uint64(uint64(b.Cursor))
	w.uint64(b.Timestamp)
	w.bytes(b.Payload)
}

func decodeSyncBlob(r *reader) (SyncBlob, error) {
	var b SyncBlob
	idBytes, err := r.raw(16)
	if err != nil {
		return b, err
	}
	copy(b.BlobID[:], idBytes)
	sender, err := r.raw(IDSize)
	if err != nil {
		return b, err
	}
	copy(b.SenderID[:], sender)
	cur, err := r.uint64()
	if err != nil {
		return b, err
	}
	b.Cursor = Cursor(cur)
	ts, err := r.uint64()
	if err != nil {
		return b, err
	}
	b.Timestamp = ts
	payload, err := r.bytes()
	if err != nil {
		return b, err
	}
	b.Payload = payload
	return b, nil
}

// PullResponse answers a Pull with a page of blobs (tag 5).
type PullResponse struct {
	Blobs     []SyncBlob
	HasMore   bool
	MaxCursor Cursor
}

func (m PullResponse) Encode() []byte {
	w := newWriter(4 + len(m.Blobs)*64)
	w.uint32(uint32(len(m.Blobs)))
	for _, b := range m.Blobs {
		b.encodeInto(w)
	}
	if m.HasMore {
		w.byte(1)
	} else {
		w.byte(0)
	}
	w.uint64(uint64(m.MaxCursor))
	return w.bytesOut()
}

func DecodePullResponse(b []byte) (PullResponse, error) {
	r := newReader(b)
	var m PullResponse
	n, err := r.uint32()
	if err != nil {
		return m, err
	}
	m.Blobs = make([]SyncBlob, 0, n)
	for i := uint32(0); i < n; i++ {
		blob, err := decodeSyncBlob(r)
		if err != nil {
			return m, err
		}
		m.Blobs = append(m.Blobs, blob)
	}
	hasMore, err := r.byte()
	if err != nil {
		return m, err
	}
	m.HasMore = hasMore != 0
	cur, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.MaxCursor = Cursor(cur)
	return m, nil
}

// Notify is the relay's best-effort push-side nudge telling a device new
// data is available since its last known cursor (tag 6).
type Notify struct {
	LatestCursor Cursor
	Count        uint32
}

func (m Notify) Encode() []byte {
	w := newWriter(8 + 4)
	w.uint64(uint64(m.LatestCursor))
	w.uint32(m.Count)
	return w.bytesOut()
}

func DecodeNotify(b []byte) (Notify, error) {
	r := newReader(b)
	var m Notify
	cur, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.LatestCursor = Cursor(cur)
	count, err := r.uint32()
	if err != nil {
		return m, err
	}
	m.Count = count
	return m, nil
}

// Bye closes a connection gracefully, either side may send it, with an
// optional human-readable reason (tag 7).
type Bye struct {
	Reason string
}

func (m Bye) Encode() []byte {
	w := newWriter(2 + len(m.Reason))
	w.str(m.Reason)
	return w.bytesOut()
}

func DecodeBye(b []byte) (Bye, error) {
	r := newReader(b)
	var m Bye
	reason, err := r.str()
	if err != nil {
		return m, err
	}
	m.Reason = reason
	return m, nil
}

// ContentRef points at a large blob stored out-of-band instead of
// inline in a Push, carrying just enough to fetch and verify it
// (tag 9, unassigned by the protocol table). ContentHash and
// EncryptionNonce are secret-adjacent and must never appear in logs;
// see (ContentRef).LogValue.
type ContentRef struct {
	BlobID          BlobID
	ContentHash     [32]byte
	EncryptionNonce [24]byte
	ContentSize     uint64
	EncryptedSize   uint64
}

func (m ContentRef) Encode() []byte {
	w := newWriter(16 + 32 + 24 + 8 + 8)
	w.raw(m.BlobID.Bytes())
	w.raw(m.ContentHash[:])
	w.raw(m.EncryptionNonce[:])
	w.uint64(m.ContentSize)
	w.uint64(m.EncryptedSize)
	return w.bytesOut()
}

func DecodeContentRef(b []byte) (ContentRef, error) {
	r := newReader(b)
	var m ContentRef
	idBytes, err := r.raw(16)
	if err != nil {
		return m, err
	}
	copy(m.BlobID[:], idBytes)
	hash, err := r.raw(32)
	if err != nil {
		return m, err
	}
	copy(m.ContentHash[:], hash)
	nonce, err := r.raw(24)
	if err != nil {
		return m, err
	}
	copy(m.EncryptionNonce[:], nonce)
	size, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.ContentSize = size
	encSize, err := r.uint64()
	if err != nil {
		return m, err
	}
	m.EncryptedSize = encSize
	return m, nil
}

// GoString redacts the hash and nonce, matching the redaction required
// of every secret-adjacent type in this package.
func (m ContentRef) GoString() string {
	return fmt.Sprintf("ContentRef(blob=%s, content_size=%d, encrypted_size=%d)",
		m.BlobID, m.ContentSize, m.EncryptedSize)
}

// ContentAck confirms receipt of an out-of-band content fetch
// (tag 10, unassigned by the protocol table).
type ContentAck struct {
	ContentHash [32]byte
}

func (m ContentAck) Encode() []byte {
	w := newWriter(32)
	w.raw(m.ContentHash[:])
	return w.bytesOut()
}

func DecodeContentAck(b []byte) (ContentAck, error) {
	r := newReader(b)
	var m ContentAck
	hash, err := r.raw(32)
	if err != nil {
		return m, err
	}
	copy(m.ContentHash[:], hash)
	return m, nil
}

func (m ContentAck) GoString() string {
	return "ContentAck(content_hash=<redacted>)"
}

// ErrorCode classifies an Error reply, so a client can branch on the
// failure kind without parsing the human-readable message.
type ErrorCode uint8

const (
	ErrCodeUnspecified ErrorCode = iota
	ErrCodeNotAuthenticated
	ErrCodeUnexpectedMessage
	ErrCodeInvalidMessage
	ErrCodeBlobTooLarge
	ErrCodeQuotaExceeded
	ErrCodeRateLimited
	ErrCodeVersionMismatch
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case ErrCodeUnexpectedMessage:
		return "UNEXPECTED_MESSAGE"
	case ErrCodeInvalidMessage:
		return "INVALID_MESSAGE"
	case ErrCodeBlobTooLarge:
		return "BLOB_TOO_LARGE"
	case ErrCodeQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case ErrCodeRateLimited:
		return "RATE_LIMITED"
	case ErrCodeVersionMismatch:
		return "VERSION_MISMATCH"
	case ErrCodeInternal:
		return "INTERNAL"
	default:
		return "UNSPECIFIED"
	}
}

// Error is the relay's in-band rejection reply to a single request
// (tag 11, unassigned by the protocol table). Unlike Bye, sending an
// Error does not end the session: spec.md's admission/quota errors are
// defined to reject the offending request without disconnecting, so the
// relay writes an Error in place of the request's normal ack and keeps
// the connection open for the next message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (m Error) Encode() []byte {
	w := newWriter(1 + 2 + len(m.Message))
	w.byte(byte(m.Code))
	w.str(m.Message)
	return w.bytesOut()
}

func DecodeError(b []byte) (Error, error) {
	r := newReader(b)
	var m Error
	c, err := r.byte()
	if err != nil {
		return m, err
	}
	m.Code = ErrorCode(c)
	msg, err := r.str()
	if err != nil {
		return m, err
	}
	m.Message = msg
	return m, nil
}

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is the only wire version this implementation speaks.
const ProtocolVersion = 1

// MsgType tags the kind of payload carried by a frame.
type MsgType uint8

// Message tags fixed by the protocol. 1-7 are assigned directly; the
// relay greeting, the large-blob side channel, and the in-band error
// reply are left unassigned by the protocol, so 8-11 are this
// implementation's own choice.
const (
	MsgHello        MsgType = 1
	MsgPush         MsgType = 2
	MsgPushAck      MsgType = 3
	MsgPull         MsgType = 4
	MsgPullResponse MsgType = 5
	MsgNotify       MsgType = 6
	MsgBye          MsgType = 7
	MsgWelcome      MsgType = 8
	MsgContentRef   MsgType = 9
	MsgContentAck   MsgType = 10
	MsgError        MsgType = 11
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "HELLO"
	case MsgPush:
		return "PUSH"
	case MsgPushAck:
		return "PUSH_ACK"
	case MsgPull:
		return "PULL"
	case MsgPullResponse:
		return "PULL_RESPONSE"
	case MsgNotify:
		return "NOTIFY"
	case MsgBye:
		return "BYE"
	case MsgWelcome:
		return "WELCOME"
	case MsgContentRef:
		return "CONTENT_REF"
	case MsgContentAck:
		return "CONTENT_ACK"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// MaxFrameSize is the largest frame this implementation will read off the
// wire. Enforced on the raw length prefix, before any payload allocation.
const MaxFrameSize = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned when a peer's length prefix exceeds MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("wire: frame exceeds %d byte limit", MaxFrameSize)

// ErrUnknownMsgType is returned when a frame's tag byte is not one of the
// known message types.
type ErrUnknownMsgType struct {
	Tag uint8
}

func (e *ErrUnknownMsgType) Error() string {
	return fmt.Sprintf("wire: unknown message type %d", e.Tag)
}

// Envelope is the outer shape of every message exchanged over a
// connection: a tag identifying the payload's type plus its encoded
// body. Framing (the 4-byte length prefix) lives one layer below, in
// Reader/Writer.
type Envelope struct {
	Type    MsgType
	Payload []byte
}

// Encode serializes the envelope to its wire form: one tag byte followed
// by the raw payload bytes.
func (e Envelope) Encode() []byte {
	out := make([]byte, 1+len(e.Payload))
	out[0] = byte(e.Type)
	copy(out[1:], e.Payload)
	return out
}

// DecodeEnvelope parses a frame body produced by Encode.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < 1 {
		return Envelope{}, fmt.Errorf("wire: empty frame")
	}
	return Envelope{Type: MsgType(b[0]), Payload: b[1:]}, nil
}

// Reader reads length-prefixed frames from an underlying stream and
// decodes them into envelopes. Each frame is a 4-byte big-endian length
// followed by exactly that many bytes of envelope encoding.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for frame-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadEnvelope blocks until a full frame has arrived, or returns an error.
// A length prefix over MaxFrameSize is rejected before any payload buffer
// is allocated, so an adversarial peer cannot force an oversized alloc.
func (fr *Reader) ReadEnvelope() (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return Envelope{}, fmt.Errorf("wire: read frame body: %w", err)
	}
	env, err := DecodeEnvelope(body)
	if err != nil {
		return Envelope{}, err
	}
	if !isKnownMsgType(env.Type) {
		return Envelope{}, &ErrUnknownMsgType{Tag: uint8(env.Type)}
	}
	return env, nil
}

// Writer writes envelopes to an underlying stream, each wrapped in a
// 4-byte big-endian length prefix.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame-at-a-time writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEnvelope encodes and writes env as a single length-prefixed frame.
func (fw *Writer) WriteEnvelope(env Envelope) error {
	body := env.Encode()
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	_, err := fw.w.Write(out)
	return err
}

func isKnownMsgType(t MsgType) bool {
	switch t {
	case MsgHello, MsgPush, MsgPushAck, MsgPull, MsgPullResponse, MsgNotify, MsgBye,
		MsgWelcome, MsgContentRef, MsgContentAck, MsgError:
		return true
	default:
		return false
	}
}

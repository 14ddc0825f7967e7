package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a buffer ends before a field can be read.
var ErrTruncated = errors.New("wire: buffer truncated")

// writer accumulates a tagged binary encoding of a message payload. It is
// the shared building block for every message type's Encode method, in
// place of per-type manual offset arithmetic.
type writer struct {
	buf []byte
}

func newWriter(sizeHint int) *writer {
	return &writer{buf: make([]byte, 0, sizeHint)}
}

func (w *writer) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// bytes writes a length-prefixed (uint32) byte string.
func (w *writer) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// str writes a length-prefixed (uint16) UTF-8 string.
func (w *writer) str(s string) {
	w.uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) bytesOut() []byte {
	return w.buf
}

// reader walks a byte slice produced by writer, tracking position.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// bytes reads a length-prefixed (uint32) byte string.
func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.raw(int(n))
}

// str reads a length-prefixed (uint16) UTF-8 string.
func (r *reader) str() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.raw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) remaining() []byte {
	return r.buf[r.pos:]
}

func (r *reader) atEnd() bool {
	return r.pos >= len(r.buf)
}

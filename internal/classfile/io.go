package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// reader is a big-endian cursor over class file bytes with a sticky error,
// so parse code can read a whole structure and check once.
type reader struct {
	data []byte
	pos  int
	err  error
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrClassFormat, fmt.Sprintf(format, args...))
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if r.pos+n > len(r.data) {
		r.fail("truncated at offset %d (want %d bytes)", r.pos, n)
		return nil
	}

	out := r.data[r.pos : r.pos+n]
	r.pos += n

	return out
}

func (r *reader) u1() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}

	return b[0]
}

func (r *reader) u2() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}

	return binary.BigEndian.Uint16(b)
}

func (r *reader) u4() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}

	return binary.BigEndian.Uint32(b)
}

func (r *reader) skip(n int) {
	r.take(n)
}

// writer accumulates big-endian class file bytes.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u1(v uint8)      { w.buf.WriteByte(v) }
func (w *writer) u2(v uint16)     { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) u4(v uint32)     { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) raw(b []byte)    { w.buf.Write(b) }
func (w *writer) bytes() []byte   { return w.buf.Bytes() }
func (w *writer) length() int     { return w.buf.Len() }

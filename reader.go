// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// errShortBuffer is the internal "not enough bytes yet" signal every Try*
// primitive returns instead of a real error. On the streaming reader,
// callers rewind to their mark and ask the byte source for more data,
// then retry. Block and payload decoders read fully-buffered sub-readers
// where no more data can arrive: there a short read means the body is
// smaller than its contents declare, and Parse returns it wrapped in a
// FormatError.
var errShortBuffer = errors.New("nettrace: short buffer")

// reader is the primitive decoder over a growable byte window. Every
// Try* method either fully advances the cursor and returns a value, or
// leaves the cursor untouched and returns errShortBuffer. Composite
// decoders snapshot the cursor with Mark and roll back with Reset on
// errShortBuffer.
type reader struct {
	buf  []byte // bytes currently buffered, not yet permanently discarded
	off  int    // read cursor into buf; buf[off:] is unread
	base int64  // absolute stream position of buf[0]
}

func newReader() *reader {
	return &reader{}
}

// newSubReader wraps a fully-buffered byte slice (e.g. a block body whose
// size was already known from its length prefix) as a reader anchored at
// absolute position base, so FormatError positions stay meaningful.
func newSubReader(buf []byte, base int64) *reader {
	return &reader{buf: buf, base: base}
}

// atEnd reports whether the cursor has consumed the entire buffer.
func (r *reader) atEnd() bool { return r.off == len(r.buf) }

// feed appends newly received bytes to the buffer.
func (r *reader) feed(chunk []byte) {
	r.buf = append(r.buf, chunk...)
}

// compact drops the permanently-consumed prefix of buf. Only safe to call
// when no outstanding Mark() from an in-flight composite read is older
// than the current cursor.
func (r *reader) compact() {
	if r.off == 0 {
		return
	}
	r.base += int64(r.off)
	r.buf = append(r.buf[:0], r.buf[r.off:]...)
	r.off = 0
}

// pos returns the absolute stream position of the read cursor.
func (r *reader) pos() int64 { return r.base + int64(r.off) }

// mark snapshots the cursor for a composite read.
func (r *reader) mark() int { return r.off }

// reset rolls the cursor back to a previously returned mark.
func (r *reader) reset(mark int) { r.off = mark }

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) tryBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, errShortBuffer
	}
	if r.remaining() < n {
		return nil, errShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) advance(n int) error {
	if r.remaining() < n {
		return errShortBuffer
	}
	r.off += n
	return nil
}

func (r *reader) tryUint8() (uint8, error) {
	b, err := r.tryBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) tryInt16() (int16, error) {
	v, err := r.tryUint16()
	return int16(v), err
}

func (r *reader) tryUint16() (uint16, error) {
	b, err := r.tryBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) tryInt32() (int32, error) {
	v, err := r.tryUint32()
	return int32(v), err
}

func (r *reader) tryUint32() (uint32, error) {
	b, err := r.tryBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) tryInt64() (int64, error) {
	v, err := r.tryUint64()
	return int64(v), err
}

func (r *reader) tryUint64() (uint64, error) {
	b, err := r.tryBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) tryFloat32() (float32, error) {
	v, err := r.tryUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *reader) tryFloat64() (float64, error) {
	v, err := r.tryUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// tryGUID reads a 16-byte GUID in the Microsoft mixed-endian layout: the
// first three fields (4+2+2 bytes) are little-endian, the trailing 8
// bytes are taken as-is (stream order).
func (r *reader) tryGUID() (uuid.UUID, error) {
	mark := r.mark()
	b, err := r.tryBytes(16)
	if err != nil {
		r.reset(mark)
		return uuid.UUID{}, err
	}
	var out uuid.UUID
	binary.BigEndian.PutUint32(out[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(out[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(out[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(out[8:16], b[8:16])
	return out, nil
}

// tryVarUint32 reads an unsigned LEB128 value bounded to 5 bytes (max for
// a 32-bit quantity).
func (r *reader) tryVarUint32() (uint32, error) {
	v, err := r.tryVarUint(5)
	return uint32(v), err
}

// tryVarUint64 reads an unsigned LEB128 value bounded to 10 bytes.
func (r *reader) tryVarUint64() (uint64, error) {
	return r.tryVarUint(10)
}

func (r *reader) tryVarUint(maxBytes int) (uint64, error) {
	mark := r.mark()
	var result uint64
	var shift uint
	for i := 0; i < maxBytes; i++ {
		b, err := r.tryUint8()
		if err != nil {
			r.reset(mark)
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	r.reset(mark)
	return 0, formatErrorf(r.pos(), ErrUnexpectedTag)
}

// Signed deltas on the wire are encoded as unsigned LEB128, never
// zigzag: callers reconstruct them as `previous + unsigned-as-delta`
// arithmetic rather than zigzag-decoding here.

// tryUTF16LenPrefixed reads an i32 character count followed by 2*count
// bytes of UTF-16LE.
func (r *reader) tryUTF16LenPrefixed() (string, error) {
	mark := r.mark()
	n, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return "", err
	}
	if n < 0 {
		r.reset(mark)
		return "", formatErrorf(r.pos(), ErrUnexpectedTag)
	}
	b, err := r.tryBytes(int(n) * 2)
	if err != nil {
		r.reset(mark)
		return "", err
	}
	s, decErr := decodeUTF16LE(b)
	if decErr != nil {
		return "", formatErrorf(r.pos(), decErr)
	}
	return s, nil
}

// tryUTF16NullTerminated consumes UTF-16LE code units until a 0x0000
// terminator (inclusive).
func (r *reader) tryUTF16NullTerminated() (string, error) {
	mark := r.mark()
	start := r.off
	for {
		if r.remaining() < 2 {
			r.reset(mark)
			return "", errShortBuffer
		}
		if r.buf[r.off] == 0 && r.buf[r.off+1] == 0 {
			raw := r.buf[start:r.off]
			r.off += 2
			s, err := decodeUTF16LE(raw)
			if err != nil {
				return "", formatErrorf(r.pos(), err)
			}
			return s, nil
		}
		r.off += 2
	}
}

func decodeUTF16LE(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

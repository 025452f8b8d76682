// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package stream implements the little-endian byte-cursor reader
// shared by the TPI, DBI and symbol-record decoders: sequential
// fixed-width reads, the CodeView "numeric leaf" convention, and the
// 4-byte alignment rule used throughout CodeView record framing.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned whenever a read would run past the end of
// the underlying buffer.
var ErrTruncated = errors.New("stream: truncated record")

// Reader is a cursor over an in-memory byte slice. It never copies
// the backing slice; callers that need to retain bytes past the
// Reader's lifetime should copy them explicitly.
type Reader struct {
	buf []byte
	pos int
}

// New wraps buf in a Reader positioned at offset 0.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset reports the current cursor position.
func (r *Reader) Offset() int { return r.pos }

// Len reports the total buffer length.
func (r *Reader) Len() int { return len(r.buf) }

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return ErrTruncated
	}
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Align advances the cursor to the next multiple of n bytes.
func (r *Reader) Align(n int) error {
	pad := (n - r.pos%n) % n
	return r.Skip(pad)
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadI16 reads a little-endian int16.
func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadI32 reads a little-endian int32.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadI64 reads a little-endian int64.
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadCString reads a zero-terminated UTF-8 string, consuming the
// terminator.
func (r *Reader) ReadCString() (string, error) {
	n := -1
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			n = i
			break
		}
	}
	if n < 0 {
		return "", ErrTruncated
	}
	s := string(r.buf[r.pos:n])
	r.pos = n + 1
	return s, nil
}

// ReadLengthPrefixedString reads a Pascal-style string: a one-byte
// length followed by that many bytes (the LF_*_ST "ST" name form).
func (r *Reader) ReadLengthPrefixedString() (string, error) {
	n, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Numeric-leaf discriminator tags, mirroring the low bits of eLeafKind
// in the CodeView type-record format (values at/above LF_CHAR).
const (
	LFChar      = 0x8000
	LFShort     = 0x8001
	LFUShort    = 0x8002
	LFLong      = 0x8003
	LFULong     = 0x8004
	LFQuadword  = 0x8009
	LFUQuadword = 0x800a
)

// Numeric is a decoded CodeView "numeric leaf": a signed or unsigned
// value of varying width embedded ahead of a name in member offsets,
// enumerate values, and structure/union/array sizes.
type Numeric struct {
	Signed   int64
	Unsigned uint64
	HasSign  bool
}

// Int64 returns the numeric value as a signed 64-bit integer
// regardless of the original encoding's signedness.
func (n Numeric) Int64() int64 {
	if n.HasSign {
		return n.Signed
	}
	return int64(n.Unsigned)
}

// Uint64 returns the numeric value as an unsigned 64-bit integer.
func (n Numeric) Uint64() uint64 {
	if n.HasSign {
		return uint64(n.Signed)
	}
	return n.Unsigned
}

// ReadNumeric decodes the CodeView "numeric leaf" convention: a raw
// uint16 below LF_CHAR, or a tag-prefixed value at or above it.
func (r *Reader) ReadNumeric() (Numeric, error) {
	tag, err := r.ReadU16()
	if err != nil {
		return Numeric{}, err
	}
	if tag < LFChar {
		return Numeric{Unsigned: uint64(tag)}, nil
	}
	switch tag {
	case LFChar:
		v, err := r.ReadU8()
		if err != nil {
			return Numeric{}, err
		}
		return Numeric{Signed: int64(int8(v)), HasSign: true}, nil
	case LFShort:
		v, err := r.ReadI16()
		if err != nil {
			return Numeric{}, err
		}
		return Numeric{Signed: int64(v), HasSign: true}, nil
	case LFUShort:
		v, err := r.ReadU16()
		if err != nil {
			return Numeric{}, err
		}
		return Numeric{Unsigned: uint64(v)}, nil
	case LFLong:
		v, err := r.ReadI32()
		if err != nil {
			return Numeric{}, err
		}
		return Numeric{Signed: int64(v), HasSign: true}, nil
	case LFULong:
		v, err := r.ReadU32()
		if err != nil {
			return Numeric{}, err
		}
		return Numeric{Unsigned: uint64(v)}, nil
	case LFQuadword:
		v, err := r.ReadI64()
		if err != nil {
			return Numeric{}, err
		}
		return Numeric{Signed: v, HasSign: true}, nil
	case LFUQuadword:
		v, err := r.ReadU64()
		if err != nil {
			return Numeric{}, err
		}
		return Numeric{Unsigned: v}, nil
	default:
		return Numeric{}, fmt.Errorf("stream: unsupported numeric leaf tag 0x%04x", tag)
	}
}

// ReadNumericWithName reads a numeric leaf followed immediately by a
// zero-terminated name, the shape used by LF_MEMBER offsets,
// LF_ENUMERATE values, and LF_STRUCTURE/LF_UNION/LF_ARRAY sizes.
func (r *Reader) ReadNumericWithName() (Numeric, string, error) {
	n, err := r.ReadNumeric()
	if err != nil {
		return Numeric{}, "", err
	}
	name, err := r.ReadCString()
	if err != nil {
		return Numeric{}, "", err
	}
	return n, name, nil
}

// PeekU8 returns the next byte without advancing the cursor.
func (r *Reader) PeekU8() (uint8, bool) {
	if r.pos >= len(r.buf) {
		return 0, false
	}
	return r.buf[r.pos], true
}

// SkipPad consumes a trailing LF_PADn marker if present: any peeked
// byte greater than 0xF0 encodes, in its low nibble, the total number
// of padding bytes, the marker byte itself included.
func (r *Reader) SkipPad() error {
	b, ok := r.PeekU8()
	if !ok || b <= 0xF0 {
		return nil
	}
	return r.Skip(int(b & 0x0F))
}

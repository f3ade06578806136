// Package wire is a small cursor over protobuf-encoded buffers.
//
// It understands only the wire types emitted by the gateway-bridge messages
// this module consumes: varint (0), 64-bit (1), length-delimited (2) and
// 32-bit (5). Group encodings (3, 4) end decoding of the current message.
// Field numbers are never interpreted here; the frame and location packages
// match them by hand.
package wire

import (
	"errors"
	"fmt"
	"math"
)

// WireType is the 3-bit tag carried in every field header.
type WireType uint8

const (
	Varint     WireType = 0
	Fixed64    WireType = 1
	Bytes      WireType = 2
	StartGroup WireType = 3
	EndGroup   WireType = 4
	Fixed32    WireType = 5
)

// String returns the wire type name
func (t WireType) String() string {
	switch t {
	case Varint:
		return "varint"
	case Fixed64:
		return "fixed64"
	case Bytes:
		return "bytes"
	case StartGroup:
		return "start_group"
	case EndGroup:
		return "end_group"
	case Fixed32:
		return "fixed32"
	default:
		return fmt.Sprintf("wiretype(%d)", uint8(t))
	}
}

// maxVarintLen is the longest encoding of a 64-bit varint.
const maxVarintLen = 10

var (
	ErrTruncated        = errors.New("wire: truncated buffer")
	ErrMalformedVarint  = errors.New("wire: varint overflows 64 bits")
	ErrGroupUnsupported = errors.New("wire: group encoding not supported")
	ErrUnknownWireType  = errors.New("wire: unknown wire type")
	ErrInvalidField     = errors.New("wire: invalid field number")
)

// ReadVarint64 reads a varint at off without losing magnitude. Negative
// int32/int64 values arrive as ten-byte encodings and are recovered by a
// signed conversion of the result.
func ReadVarint64(buf []byte, off int) (uint64, int, error) {
	var v uint64
	for i := 0; i < maxVarintLen; i++ {
		if off >= len(buf) {
			return 0, off, ErrTruncated
		}
		b := buf[off]
		off++
		if i == maxVarintLen-1 && b > 1 {
			return 0, off, ErrMalformedVarint
		}
		v |= uint64(b&0x7f) << uint(7*i)
		if b < 0x80 {
			return v, off, nil
		}
	}
	return 0, off, ErrMalformedVarint
}

// ReadFixed64 reads 8 little-endian bytes at off.
func ReadFixed64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) || off+8 < off {
		return 0, off, ErrTruncated
	}
	b := buf[off : off+8]
	v := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	return v, off + 8, nil
}

// ReadFixed32 reads 4 little-endian bytes at off.
func ReadFixed32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) || off+4 < off {
		return 0, off, ErrTruncated
	}
	b := buf[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, off + 4, nil
}

// ReadBytes reads a length-delimited span at off. The returned slice aliases buf.
func ReadBytes(buf []byte, off int) ([]byte, int, error) {
	n, next, err := ReadVarint64(buf, off)
	if err != nil {
		return nil, off, err
	}
	if n > uint64(len(buf)-next) {
		return nil, off, ErrTruncated
	}
	end := next + int(n)
	return buf[next:end], end, nil
}

// Field is one decoded field. Only the member matching Type is meaningful.
type Field struct {
	Number uint32
	Type   WireType

	raw   uint64
	bytes []byte
}

// ReadField decodes the field header at off and its value. It returns the
// offset just past the field. Group wire types yield ErrGroupUnsupported
// without advancing.
func ReadField(buf []byte, off int) (Field, int, error) {
	key, next, err := ReadVarint64(buf, off)
	if err != nil {
		return Field{}, off, err
	}
	f := Field{Type: WireType(key & 0x7)}
	num := key >> 3
	if num == 0 || num > math.MaxInt32 {
		return Field{}, off, ErrInvalidField
	}
	f.Number = uint32(num)

	switch f.Type {
	case Varint:
		f.raw, next, err = ReadVarint64(buf, next)
	case Fixed64:
		f.raw, next, err = ReadFixed64(buf, next)
	case Bytes:
		f.bytes, next, err = ReadBytes(buf, next)
	case Fixed32:
		var v uint32
		v, next, err = ReadFixed32(buf, next)
		f.raw = uint64(v)
	case StartGroup, EndGroup:
		return f, off, ErrGroupUnsupported
	default:
		return f, off, ErrUnknownWireType
	}
	if err != nil {
		return Field{}, off, err
	}
	return f, next, nil
}

// Uint32 returns a varint field's low 32 bits. Wider values are truncated,
// which is what counters and enums expect; the whole encoding has already
// been consumed so the cursor stays aligned.
func (f Field) Uint32() uint32 { return uint32(f.raw) }

// Uint64 returns the full varint magnitude.
func (f Field) Uint64() uint64 { return f.raw }

// Int32 reinterprets the varint as a protobuf int32.
func (f Field) Int32() int32 { return int32(uint32(f.raw)) }

// Int64 reinterprets the varint as a protobuf int64.
func (f Field) Int64() int64 { return int64(f.raw) }

// Bool is true for any non-zero varint.
func (f Field) Bool() bool { return f.raw != 0 }

// Double interprets a 64-bit field as an IEEE-754 double.
func (f Field) Double() float64 { return math.Float64frombits(f.raw) }

// Float interprets a 32-bit field as an IEEE-754 single.
func (f Field) Float() float32 { return math.Float32frombits(uint32(f.raw)) }

// Bytes returns the span of a length-delimited field.
func (f Field) Bytes() []byte { return f.bytes }

// String returns a length-delimited field as a string.
func (f Field) String() string { return string(f.bytes) }

// Decoder walks the fields of one message.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a decoder positioned at the start of buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Next returns the next field. It returns false at the end of the buffer or
// when a field cannot be read; Err distinguishes the two. Fields returned
// before a failure remain valid.
func (d *Decoder) Next() (Field, bool) {
	if d.err != nil || d.off >= len(d.buf) {
		return Field{}, false
	}
	f, next, err := ReadField(d.buf, d.off)
	if err != nil {
		d.err = err
		return Field{}, false
	}
	d.off = next
	return f, true
}

// Err reports why decoding stopped early, or nil if the buffer was consumed.
func (d *Decoder) Err() error { return d.err }

// Package serializer encodes and decodes fixed-width big-endian values over a
// caller-supplied byte slice.
//
// A Serializer never grows its buffer. Every Put/Get either moves the cursor by
// the exact width of the value or fails with ErrUnderflow and leaves both the
// cursor and the buffer untouched.
package serializer

import (
	"encoding/binary"
	"errors"
	"math"
)

var ErrUnderflow = errors.New("serializer: not enough bytes remaining")

// Serializer is a cursor over a borrowed byte slice.
type Serializer struct {
	buf    []byte
	offset int
}

// New returns a Serializer positioned at the start of buf. The capacity is
// len(buf) and does not change.
func New(buf []byte) *Serializer {
	return &Serializer{buf: buf}
}

func (s *Serializer) Offset() int    { return s.offset }
func (s *Serializer) Capacity() int  { return len(s.buf) }
func (s *Serializer) Remaining() int { return len(s.buf) - s.offset }

// IsComplete reports whether every byte of the buffer has been consumed.
func (s *Serializer) IsComplete() bool { return s.offset == len(s.buf) }

// Reset moves the cursor back to the start of the buffer.
func (s *Serializer) Reset() { s.offset = 0 }

// Written returns the bytes between the start of the buffer and the cursor.
func (s *Serializer) Written() []byte { return s.buf[:s.offset] }

// reserve returns the next n bytes and advances the cursor, or fails without
// moving it.
func (s *Serializer) reserve(n int) ([]byte, error) {
	if n < 0 || n > len(s.buf)-s.offset {
		return nil, ErrUnderflow
	}
	b := s.buf[s.offset : s.offset+n]
	s.offset += n
	return b, nil
}

func (s *Serializer) PutUint8(v uint8) error {
	b, err := s.reserve(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (s *Serializer) PutUint16(v uint16) error {
	b, err := s.reserve(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

func (s *Serializer) PutUint32(v uint32) error {
	b, err := s.reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func (s *Serializer) PutUint64(v uint64) error {
	b, err := s.reserve(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

func (s *Serializer) PutInt8(v int8) error   { return s.PutUint8(uint8(v)) }
func (s *Serializer) PutInt16(v int16) error { return s.PutUint16(uint16(v)) }
func (s *Serializer) PutInt32(v int32) error { return s.PutUint32(uint32(v)) }
func (s *Serializer) PutInt64(v int64) error { return s.PutUint64(uint64(v)) }

func (s *Serializer) PutFloat32(v float32) error { return s.PutUint32(math.Float32bits(v)) }
func (s *Serializer) PutFloat64(v float64) error { return s.PutUint64(math.Float64bits(v)) }

// PutBool writes a single byte, 1 for true and 0 for false.
func (s *Serializer) PutBool(v bool) error {
	if v {
		return s.PutUint8(1)
	}
	return s.PutUint8(0)
}

// PutBytes copies v verbatim.
func (s *Serializer) PutBytes(v []byte) error {
	b, err := s.reserve(len(v))
	if err != nil {
		return err
	}
	copy(b, v)
	return nil
}

// PutFloat32s writes a fixed-size float array.
func (s *Serializer) PutFloat32s(vs []float32) error {
	b, err := s.reserve(4 * len(vs))
	if err != nil {
		return err
	}
	for i, v := range vs {
		binary.BigEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return nil
}

// PutUint16s writes a fixed-size uint16 array.
func (s *Serializer) PutUint16s(vs []uint16) error {
	b, err := s.reserve(2 * len(vs))
	if err != nil {
		return err
	}
	for i, v := range vs {
		binary.BigEndian.PutUint16(b[2*i:], v)
	}
	return nil
}

// PutFixedString writes v into an n byte slot, truncating or padding with NUL.
func (s *Serializer) PutFixedString(v string, n int) error {
	b, err := s.reserve(n)
	if err != nil {
		return err
	}
	k := copy(b, v)
	clear(b[k:])
	return nil
}

func (s *Serializer) Uint8() (uint8, error) {
	b, err := s.reserve(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Serializer) Uint16() (uint16, error) {
	b, err := s.reserve(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (s *Serializer) Uint32() (uint32, error) {
	b, err := s.reserve(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (s *Serializer) Uint64() (uint64, error) {
	b, err := s.reserve(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (s *Serializer) Int8() (int8, error) {
	v, err := s.Uint8()
	return int8(v), err
}

func (s *Serializer) Int16() (int16, error) {
	v, err := s.Uint16()
	return int16(v), err
}

func (s *Serializer) Int32() (int32, error) {
	v, err := s.Uint32()
	return int32(v), err
}

func (s *Serializer) Int64() (int64, error) {
	v, err := s.Uint64()
	return int64(v), err
}

func (s *Serializer) Float32() (float32, error) {
	v, err := s.Uint32()
	return math.Float32frombits(v), err
}

func (s *Serializer) Float64() (float64, error) {
	v, err := s.Uint64()
	return math.Float64frombits(v), err
}

// Bool reads one byte; any non-zero value is true.
func (s *Serializer) Bool() (bool, error) {
	v, err := s.Uint8()
	return v != 0, err
}

// Bytes returns a view of the next n bytes. The slice aliases the buffer.
func (s *Serializer) Bytes(n int) ([]byte, error) {
	return s.reserve(n)
}

// CopyBytes fills dst from the next len(dst) bytes.
func (s *Serializer) CopyBytes(dst []byte) error {
	b, err := s.reserve(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Float32s fills dst with len(dst) consecutive float32 values.
func (s *Serializer) Float32s(dst []float32) error {
	b, err := s.reserve(4 * len(dst))
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(b[4*i:]))
	}
	return nil
}

// Uint16s fills dst with len(dst) consecutive uint16 values.
func (s *Serializer) Uint16s(dst []uint16) error {
	b, err := s.reserve(2 * len(dst))
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return nil
}

// FixedString reads an n byte slot and trims it at the first NUL.
func (s *Serializer) FixedString(n int) (string, error) {
	b, err := s.reserve(n)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}

package packet

import "fmt"

// Builder assembles one outgoing frame in a fixed buffer.
type Builder struct {
	buf  [MaxPacketLength]byte
	used int
}

func NewBuilder(descSet uint8) *Builder {
	b := &Builder{}
	b.Reset(descSet)
	return b
}

// Reset discards all fields and starts a new frame for descSet.
func (b *Builder) Reset(descSet uint8) {
	b.buf[indexSync1] = SyncByte1
	b.buf[indexSync2] = SyncByte2
	b.buf[indexDescriptorSet] = descSet
	b.buf[indexPayloadLength] = 0
	b.used = 0
}

func (b *Builder) PayloadLength() int { return b.used }

// Remaining is the largest field payload that can still be added.
func (b *Builder) Remaining() int {
	n := MaxPayloadLength - b.used - FieldHeaderLength
	if n < 0 {
		return 0
	}
	return n
}

// AllocField reserves a field of n payload bytes and returns the region to
// fill in.
func (b *Builder) AllocField(desc uint8, n int) ([]byte, error) {
	if n < 0 || b.used+FieldHeaderLength+n > MaxPayloadLength {
		return nil, fmt.Errorf("%w: field 0x%02X needs %d bytes, %d left", ErrPayloadFull, desc, n, b.Remaining())
	}
	start := HeaderLength + b.used
	b.buf[start] = byte(FieldHeaderLength + n)
	b.buf[start+1] = desc
	b.used += FieldHeaderLength + n
	return b.buf[start+FieldHeaderLength : start+FieldHeaderLength+n], nil
}

// AddField appends a field with a copy of payload.
func (b *Builder) AddField(desc uint8, payload []byte) error {
	dst, err := b.AllocField(desc, len(payload))
	if err != nil {
		return err
	}
	copy(dst, payload)
	return nil
}

// Finalize writes the length and checksum and returns the frame. The slice
// aliases the builder and is valid until the next Reset or AllocField.
func (b *Builder) Finalize() []byte {
	b.buf[indexPayloadLength] = byte(b.used)
	end := HeaderLength + b.used
	sum := ComputeChecksum(b.buf[:end])
	b.buf[end] = byte(sum >> 8)
	b.buf[end+1] = byte(sum)
	return b.buf[:end+ChecksumLength]
}

// Build is a shorthand for a single-field frame. The returned slice is a
// fresh copy.
func Build(descSet, desc uint8, payload []byte) ([]byte, error) {
	b := NewBuilder(descSet)
	if err := b.AddField(desc, payload); err != nil {
		return nil, err
	}
	return append([]byte(nil), b.Finalize()...), nil
}

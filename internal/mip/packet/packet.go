// Package packet validates MIP frames and exposes their fields.
//
// Wire layout:
//
//	[0x75][0x65][descriptor set][payload length N][payload N bytes][checksum 2 bytes BE]
//
// The payload is a run of fields, each [length][descriptor][length-2 bytes].
package packet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaunagostinho/goimu/internal/mip/serializer"
)

const (
	SyncByte1 byte = 0x75
	SyncByte2 byte = 0x65

	HeaderLength          = 4
	ChecksumLength        = 2
	MaxPayloadLength      = 255
	MaxPacketLength       = HeaderLength + MaxPayloadLength + ChecksumLength
	MinPacketLength       = HeaderLength + ChecksumLength
	FieldHeaderLength     = 2
	MaxFieldPayloadLength = MaxPayloadLength - FieldHeaderLength

	indexSync1         = 0
	indexSync2         = 1
	indexDescriptorSet = 2
	indexPayloadLength = 3
)

var (
	ErrMalformedPacket = errors.New("packet: malformed packet")
	ErrMalformedField  = fmt.Errorf("%w: malformed field", ErrMalformedPacket)
	ErrPayloadFull     = errors.New("packet: payload full")
)

// Packet is a read-only view over one validated frame. It aliases the bytes it
// was parsed from and must not outlive them.
type Packet struct {
	raw []byte
}

// Parse validates b as exactly one complete frame.
func Parse(b []byte) (Packet, error) {
	if len(b) < MinPacketLength {
		return Packet{}, fmt.Errorf("%w: short frame (%d bytes)", ErrMalformedPacket, len(b))
	}
	if b[indexSync1] != SyncByte1 || b[indexSync2] != SyncByte2 {
		return Packet{}, fmt.Errorf("%w: bad sync % X", ErrMalformedPacket, b[:2])
	}
	payloadLen := int(b[indexPayloadLength])
	if HeaderLength+payloadLen+ChecksumLength != len(b) {
		return Packet{}, fmt.Errorf("%w: length %d does not match frame size %d",
			ErrMalformedPacket, payloadLen, len(b))
	}
	end := len(b) - ChecksumLength
	got := uint16(b[end])<<8 | uint16(b[end+1])
	if want := ComputeChecksum(b[:end]); got != want {
		return Packet{}, fmt.Errorf("%w: checksum got=0x%04X want=0x%04X", ErrMalformedPacket, got, want)
	}

	p := Packet{raw: b}
	it := p.Fields()
	for it.Next() {
	}
	if err := it.Err(); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// ComputeChecksum returns the Fletcher-16 checksum used by MIP frames.
func ComputeChecksum(b []byte) uint16 {
	var a, c uint8
	for _, v := range b {
		a += v
		c += a
	}
	return uint16(a)<<8 | uint16(c)
}

// PacketLength returns the full frame size announced by a header, or 0 when
// hdr is too short to tell.
func PacketLength(hdr []byte) int {
	if len(hdr) < HeaderLength {
		return 0
	}
	return HeaderLength + int(hdr[indexPayloadLength]) + ChecksumLength
}

// IsValid reports whether p holds a frame. The accessors below return zero
// values on the zero Packet.
func (p Packet) IsValid() bool    { return len(p.raw) >= MinPacketLength }
func (p Packet) TotalLength() int { return len(p.raw) }
func (p Packet) Bytes() []byte    { return p.raw }

func (p Packet) DescriptorSet() uint8 {
	if !p.IsValid() {
		return 0
	}
	return p.raw[indexDescriptorSet]
}

func (p Packet) PayloadLength() int {
	if !p.IsValid() {
		return 0
	}
	return int(p.raw[indexPayloadLength])
}

func (p Packet) Payload() []byte {
	if !p.IsValid() {
		return nil
	}
	return p.raw[HeaderLength : HeaderLength+p.PayloadLength()]
}

func (p Packet) Checksum() uint16 {
	if !p.IsValid() {
		return 0
	}
	end := len(p.raw) - ChecksumLength
	return uint16(p.raw[end])<<8 | uint16(p.raw[end+1])
}

// Fields starts a new pass over the packet's fields.
func (p Packet) Fields() *FieldIterator {
	if !p.IsValid() {
		return &FieldIterator{}
	}
	return &FieldIterator{descSet: p.DescriptorSet(), payload: p.Payload()}
}

// AllFields collects every field of the packet.
func (p Packet) AllFields() ([]Field, error) {
	var out []Field
	it := p.Fields()
	for it.Next() {
		out = append(out, it.Field())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p Packet) String() string {
	if !p.IsValid() {
		return "packet(invalid)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "set=0x%02X len=%d fields=[", p.DescriptorSet(), p.PayloadLength())
	it := p.Fields()
	first := true
	for it.Next() {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&sb, "%02X", it.Field().Descriptor())
	}
	sb.WriteByte(']')
	return sb.String()
}

// Field is a view of one field inside a Packet.
type Field struct {
	descSet uint8
	desc    uint8
	payload []byte
}

// NewField builds a free-standing field view, mostly useful in tests.
func NewField(descSet, desc uint8, payload []byte) Field {
	return Field{descSet: descSet, desc: desc, payload: payload}
}

func (f Field) DescriptorSet() uint8 { return f.descSet }
func (f Field) Descriptor() uint8    { return f.desc }
func (f Field) Payload() []byte      { return f.payload }
func (f Field) PayloadLength() int   { return len(f.payload) }

// Serializer returns a decoder positioned at the start of the payload.
func (f Field) Serializer() *serializer.Serializer {
	return serializer.New(f.payload)
}

// FieldIterator walks the length-delimited fields of a payload. Once it reports
// an error it yields nothing further.
type FieldIterator struct {
	descSet uint8
	payload []byte
	offset  int
	current Field
	err     error
}

func (it *FieldIterator) Next() bool {
	if it.err != nil || it.offset >= len(it.payload) {
		return false
	}
	remaining := len(it.payload) - it.offset
	if remaining < FieldHeaderLength {
		it.err = fmt.Errorf("%w: %d trailing bytes at offset %d", ErrMalformedField, remaining, it.offset)
		return false
	}
	length := int(it.payload[it.offset])
	if length < FieldHeaderLength || length > remaining {
		it.err = fmt.Errorf("%w: length %d at offset %d with %d bytes left",
			ErrMalformedField, length, it.offset, remaining)
		return false
	}
	it.current = Field{
		descSet: it.descSet,
		desc:    it.payload[it.offset+1],
		payload: it.payload[it.offset+FieldHeaderLength : it.offset+length],
	}
	it.offset += length
	return true
}

func (it *FieldIterator) Field() Field { return it.current }
func (it *FieldIterator) Err() error   { return it.err }

package packet

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	return b
}

func withChecksum(b []byte) []byte {
	sum := ComputeChecksum(b)
	return append(append([]byte(nil), b...), byte(sum>>8), byte(sum))
}

func TestParsePingCommand(t *testing.T) {
	// Base set ping, as documented for the protocol.
	raw := decodeHex(t, "756501020201E0C6")
	p, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint8(0x01), p.DescriptorSet())
	require.Equal(t, 2, p.PayloadLength())
	require.Equal(t, uint16(0xE0C6), p.Checksum())

	fields, err := p.AllFields()
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, uint8(0x01), fields[0].Descriptor())
	require.Zero(t, fields[0].PayloadLength())
}

func TestParseSingleSensorField(t *testing.T) {
	raw := withChecksum([]byte{SyncByte1, SyncByte2, 0x80, 0x06, 0x06, 0x04, 0x3F, 0x80, 0x00, 0x00})
	p, err := Parse(raw)
	require.NoError(t, err)

	it := p.Fields()
	require.True(t, it.Next())
	f := it.Field()
	require.Equal(t, uint8(0x80), f.DescriptorSet())
	require.Equal(t, uint8(0x04), f.Descriptor())
	require.Equal(t, []byte{0x3F, 0x80, 0x00, 0x00}, f.Payload())
	require.False(t, it.Next())
	require.NoError(t, it.Err())

	// Fields can be walked again from the start.
	again, err := p.AllFields()
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func TestParseRejectsAnySingleBitFlip(t *testing.T) {
	b := NewBuilder(0x80)
	require.NoError(t, b.AddField(0x04, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}))
	require.NoError(t, b.AddField(0x05, []byte{0xFF, 0x00, 0x7F, 0x80}))
	good := append([]byte(nil), b.Finalize()...)
	_, err := Parse(good)
	require.NoError(t, err)

	for i := range good {
		for bit := 0; bit < 8; bit++ {
			bad := append([]byte(nil), good...)
			bad[i] ^= 1 << bit
			_, err := Parse(bad)
			require.ErrorIs(t, err, ErrMalformedPacket, "byte %d bit %d", i, bit)
		}
	}
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	raw := withChecksum([]byte{SyncByte1, SyncByte2, 0x80, 0x02, 0x02, 0x04})
	_, err := Parse(raw[:len(raw)-1])
	require.ErrorIs(t, err, ErrMalformedPacket)

	_, err = Parse(append(raw, 0x00))
	require.ErrorIs(t, err, ErrMalformedPacket)

	_, err = Parse([]byte{SyncByte1, SyncByte2, 0x80})
	require.ErrorIs(t, err, ErrMalformedPacket)
}

func TestParseRejectsBadFieldAccounting(t *testing.T) {
	// Field claims 5 bytes but the payload only has 3.
	raw := withChecksum([]byte{SyncByte1, SyncByte2, 0x80, 0x03, 0x05, 0x04, 0x00})
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrMalformedField)
	require.ErrorIs(t, err, ErrMalformedPacket)

	// Zero-length field can never make progress.
	raw = withChecksum([]byte{SyncByte1, SyncByte2, 0x80, 0x02, 0x00, 0x04})
	_, err = Parse(raw)
	require.ErrorIs(t, err, ErrMalformedField)

	// One stray byte after a valid field.
	raw = withChecksum([]byte{SyncByte1, SyncByte2, 0x80, 0x03, 0x02, 0x04, 0x09})
	_, err = Parse(raw)
	require.ErrorIs(t, err, ErrMalformedField)
}

func TestFieldIteratorStopsAfterError(t *testing.T) {
	it := &FieldIterator{descSet: 0x80, payload: []byte{0x03, 0x04, 0xAA, 0x07, 0x05}}
	require.True(t, it.Next())
	require.Equal(t, []byte{0xAA}, it.Field().Payload())
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrMalformedField)
	require.False(t, it.Next())
}

func TestBuilderRoundTrip(t *testing.T) {
	b := NewBuilder(0x0C)
	dst, err := b.AllocField(0x0F, 3)
	require.NoError(t, err)
	copy(dst, []byte{1, 0x80, 0})
	require.NoError(t, b.AddField(0x11, []byte{1, 0x80, 1}))
	raw := b.Finalize()

	p, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "set=0x0C len=10 fields=[0F 11]", p.String())
}

func TestBuilderPayloadFull(t *testing.T) {
	b := NewBuilder(0x80)
	_, err := b.AllocField(0x01, MaxFieldPayloadLength)
	require.NoError(t, err)
	require.Zero(t, b.Remaining())
	require.ErrorIs(t, b.AddField(0x02, nil), ErrPayloadFull)

	_, err = Build(0x01, 0x01, make([]byte, MaxFieldPayloadLength+1))
	require.ErrorIs(t, err, ErrPayloadFull)
}

func TestPacketLength(t *testing.T) {
	require.Equal(t, 0, PacketLength([]byte{SyncByte1, SyncByte2}))
	require.Equal(t, 8, PacketLength([]byte{SyncByte1, SyncByte2, 0x01, 0x02}))
}

func TestZeroPacketAccessors(t *testing.T) {
	var p Packet
	require.False(t, p.IsValid())
	require.Zero(t, p.DescriptorSet())
	require.Zero(t, p.PayloadLength())
	require.Nil(t, p.Payload())
	require.Zero(t, p.Checksum())
	require.Zero(t, p.TotalLength())
	require.Equal(t, "packet(invalid)", p.String())

	fields, err := p.AllFields()
	require.NoError(t, err)
	require.Empty(t, fields)
}

package sensordata

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/goimu/internal/mip/dispatch"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/serializer"
)

func buildSensorPacket(t *testing.T, fields map[uint8][]byte, order ...uint8) packet.Packet {
	t.Helper()
	b := packet.NewBuilder(DescriptorSet)
	for _, d := range order {
		require.NoError(t, b.AddField(d, fields[d]))
	}
	p, err := packet.Parse(append([]byte(nil), b.Finalize()...))
	require.NoError(t, err)
	return p
}

func TestDecodeScaledAccel(t *testing.T) {
	f := packet.NewField(DescriptorSet, DataAccelScaled, []byte{
		0x3F, 0x80, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0xBF, 0x80, 0x00, 0x00,
	})
	v, err := DecodeVector3(f)
	require.NoError(t, err)
	require.Equal(t, Vector3{1, 0, -1}, v)

	_, err = DecodeVector3(packet.NewField(DescriptorSet, DataAccelScaled, []byte{0x3F, 0x80}))
	require.ErrorIs(t, err, serializer.ErrUnderflow)
}

func TestDecodeGPSTimestamp(t *testing.T) {
	buf := make([]byte, 12)
	s := serializer.New(buf)
	require.NoError(t, s.PutFloat64(345600.25))
	require.NoError(t, s.PutUint16(2200))
	require.NoError(t, s.PutUint16(GPSValidPPS|GPSValidTOW))

	g, err := DecodeGPSTimestamp(packet.NewField(DescriptorSet, DataTimeStampGPS, buf))
	require.NoError(t, err)
	require.Equal(t, GPSTimestamp{TOW: 345600.25, WeekNumber: 2200, ValidFlags: 0x0009}, g)

	_, err = DecodeGPSTimestamp(packet.NewField(DescriptorSet, DataOdometer, buf))
	require.Error(t, err)
}

func TestParseSample(t *testing.T) {
	euler := make([]byte, 12)
	s := serializer.New(euler)
	require.NoError(t, s.PutFloat32s([]float32{0.1, -0.2, 3}))

	pkt := buildSensorPacket(t, map[uint8][]byte{
		DataAccelScaled:     EncodeVector3(Vector3{0, 0, -1}),
		DataGyroScaled:      EncodeVector3(Vector3{0.01, 0.02, 0.03}),
		DataCompEulerAngles: euler,
		DataOverrangeStatus: {0x00, 0x11},
		0x7E:                {0xAA},
	}, DataAccelScaled, DataGyroScaled, DataCompEulerAngles, DataOverrangeStatus, 0x7E)

	sample, err := ParseSample(pkt, 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, sample.Time)
	require.Equal(t, Vector3{0, 0, -1}, *sample.Accel)
	require.Equal(t, Vector3{0.01, 0.02, 0.03}, *sample.Gyro)
	require.Nil(t, sample.Mag)
	require.Equal(t, EulerAngles{Roll: 0.1, Pitch: -0.2, Yaw: 3}, *sample.Euler)
	require.Equal(t, OverrangeAccelX|OverrangeGyroX, *sample.Overrange)
	require.Equal(t, []uint8{0x7E}, sample.UnknownFields)
}

func TestSubscribe(t *testing.T) {
	l := zerolog.Nop()
	r := dispatch.NewRegistry(&l)
	var got []Sample
	Subscribe(r, func(s Sample) { got = append(got, s) })

	good := buildSensorPacket(t, map[uint8][]byte{DataMagScaled: EncodeVector3(Vector3{0.2, 0, 0.4})}, DataMagScaled)
	short := buildSensorPacket(t, map[uint8][]byte{DataMagScaled: {0x00}}, DataMagScaled)
	r.Dispatch(good, 1)
	r.Dispatch(short, 2)

	require.Len(t, got, 1)
	require.Equal(t, Vector3{0.2, 0, 0.4}, *got[0].Mag)
	require.Equal(t, uint64(1), r.Failures())
}

func TestName(t *testing.T) {
	require.Equal(t, "accel_scaled", Name(DataAccelScaled))
	require.Equal(t, "0x7E", Name(0x7E))
}

func TestLookup(t *testing.T) {
	d, ok := Lookup("gyro_scaled")
	require.True(t, ok)
	require.Equal(t, DataGyroScaled, d)
	_, ok = Lookup("nope")
	require.False(t, ok)
}

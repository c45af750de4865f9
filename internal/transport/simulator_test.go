package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/cmdqueue"
	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/device"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
)

// manualTime is a wall clock that only moves when told to.
type manualTime struct{ t time.Time }

func (m *manualTime) Now() time.Time          { return m.t }
func (m *manualTime) Advance(d time.Duration) { m.t = m.t.Add(d) }

func newSimDevice(t *testing.T, cfg SimulatorConfig) (*Simulator, *device.Device) {
	t.Helper()
	sim := NewSimulator(cfg)
	l := zerolog.Nop()
	d := device.New(sim, device.Config{BaseTimeout: 500, PollInterval: time.Microsecond, Logger: &l})
	return sim, d
}

func TestSimulatorAnswersCommands(t *testing.T) {
	sim, d := newSimDevice(t, SimulatorConfig{})
	ctx := context.Background()

	require.NoError(t, commands.Ping(ctx, d))
	require.NoError(t, commands.SetIdle(ctx, d))
	require.True(t, sim.Idle())

	info, err := commands.GetDeviceInfo(ctx, d)
	require.NoError(t, err)
	require.Equal(t, "3DM-SIM-AHRS", info.ModelName)
	require.Equal(t, "1.1.05", info.FirmwareVersionString())

	rate, err := commands.GetBaseRate(ctx, d, sensordata.DescriptorSet)
	require.NoError(t, err)
	require.Equal(t, uint16(1000), rate)

	_, err = commands.GetBaseRate(ctx, d, 0x82)
	var nack *cmdqueue.NackError
	require.True(t, errors.As(err, &nack))
	require.Equal(t, cmdqueue.NackInvalidParam, nack.Code)

	require.NoError(t, commands.Resume(ctx, d))
	require.False(t, sim.Idle())
}

func TestSimulatorMagCalibrationRoundTrip(t *testing.T) {
	_, d := newSimDevice(t, SimulatorConfig{})
	ctx := context.Background()

	offset := [3]float32{-0.0132, 0.0091, -0.0154}
	require.NoError(t, commands.WriteMagHardIronOffset(ctx, d, offset))
	require.NoError(t, commands.SaveMagHardIronOffset(ctx, d))
	require.NoError(t, commands.DefaultMagHardIronOffset(ctx, d))
	got, err := commands.ReadMagHardIronOffset(ctx, d)
	require.NoError(t, err)
	require.Equal(t, [3]float32{}, got)
	require.NoError(t, commands.LoadMagHardIronOffset(ctx, d))
	got, err = commands.ReadMagHardIronOffset(ctx, d)
	require.NoError(t, err)
	require.Equal(t, offset, got)

	m, err := commands.ReadMagSoftIronMatrix(ctx, d)
	require.NoError(t, err)
	require.Equal(t, [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}, m)
}

func TestSimulatorRejectsMagWithoutMagnetometer(t *testing.T) {
	_, d := newSimDevice(t, SimulatorConfig{NoMagnetometer: true})
	rates := []commands.DescriptorRate{
		{Descriptor: sensordata.DataAccelScaled, Decimation: 10},
		{Descriptor: sensordata.DataMagScaled, Decimation: 10},
	}
	err := commands.WriteMessageFormat(context.Background(), d, sensordata.DescriptorSet, rates)
	require.ErrorIs(t, err, cmdqueue.ErrCommandNacked)
	require.NoError(t, commands.WriteMessageFormat(context.Background(), d, sensordata.DescriptorSet, rates[:1]))
}

func TestSimulatorStreamsAtDecimation(t *testing.T) {
	clock := &manualTime{t: time.Unix(1_700_000_000, 0)}
	_, d := newSimDevice(t, SimulatorConfig{Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, commands.SetIdle(ctx, d))
	require.NoError(t, commands.WriteMessageFormat(ctx, d, sensordata.DescriptorSet, []commands.DescriptorRate{
		{Descriptor: sensordata.DataAccelScaled, Decimation: 10},
		{Descriptor: sensordata.DataGyroScaled, Decimation: 20},
	}))
	require.NoError(t, commands.WriteDatastreamControl(ctx, d, sensordata.DescriptorSet, true))

	var samples []sensordata.Sample
	sensordata.Subscribe(d.Registry(), func(s sensordata.Sample) { samples = append(samples, s) })

	// Nothing streams while idle.
	clock.Advance(100 * time.Millisecond)
	require.NoError(t, d.Poll())
	require.Empty(t, samples)

	require.NoError(t, commands.Resume(ctx, d))
	clock.Advance(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Poll())
	}

	// 100 ms at 1 kHz: accel every 10 ticks, gyro every 20.
	require.Len(t, samples, 10)
	gyro := 0
	for _, s := range samples {
		require.NotNil(t, s.Accel)
		require.InDelta(t, -1.0, float64(s.Accel[2]), 0.05)
		if s.Gyro != nil {
			gyro++
		}
	}
	require.Equal(t, 5, gyro)
	require.Zero(t, d.Stats().MalformedFrames)
}

func TestSimulatorIgnoresGarbageAndAnswersUnknown(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{})
	frame, err := packet.Build(0x01, 0x7F, nil)
	require.NoError(t, err)
	require.NoError(t, sim.Send(append([]byte{0x00, 0x75, 0x00}, frame...)))

	buf := make([]byte, 64)
	n, err := sim.Receive(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	fields, err := p.AllFields()
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, mip.FieldDescriptorAckNack, fields[0].Descriptor())
	require.Equal(t, []byte{0x7F, byte(cmdqueue.NackUnknownCommand)}, fields[0].Payload())

	require.NoError(t, sim.Close())
	_, err = sim.Receive(buf)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCaptureAndReplay(t *testing.T) {
	clock := &manualTime{t: time.Unix(0, 0)}
	sim := NewSimulator(SimulatorConfig{Now: clock.Now})
	path := filepath.Join(t.TempDir(), "session.bin")
	capture, err := CaptureToFile(sim, path)
	require.NoError(t, err)

	l := zerolog.Nop()
	d := device.New(capture, device.Config{PollInterval: time.Microsecond, Logger: &l})
	ctx := context.Background()
	require.NoError(t, commands.WriteMessageFormat(ctx, d, sensordata.DescriptorSet, []commands.DescriptorRate{
		{Descriptor: sensordata.DataCompEulerAngles, Decimation: 50},
	}))
	clock.Advance(time.Second)
	require.NoError(t, d.Poll())
	live := d.Stats().Packets
	require.NoError(t, capture.Close())

	replay, err := OpenReplay(path)
	require.NoError(t, err)
	defer replay.Close()
	rd := device.New(replay, device.Config{Logger: &l})
	var err2 error
	for err2 == nil {
		err2 = rd.Poll()
	}
	require.ErrorIs(t, err2, io.EOF)
	require.Equal(t, live, rd.Stats().Packets)
	require.ErrorIs(t, replay.Send([]byte{1}), ErrReadOnly)
}

func TestReplayChunks(t *testing.T) {
	r := NewReplay("mem", bytes.NewReader(make([]byte, 10)), 4)
	buf := make([]byte, 16)
	var sizes []int
	for {
		n, err := r.Receive(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, n)
	}
	require.Equal(t, []int{4, 4, 2}, sizes)
}

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(Config{Type: "carrier-pigeon"})
	require.ErrorIs(t, err, ErrUnknownType)

	p, err := Open(Config{Type: TypeDemo})
	require.NoError(t, err)
	require.Equal(t, "Demo (Simulated)", p.Name())
}

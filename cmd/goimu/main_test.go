package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/goimu/internal/config"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
	"github.com/shaunagostinho/goimu/internal/transport"
)

func demoConfig(t *testing.T) config.DeviceConfig {
	t.Helper()
	cfg = config.DefaultConfig()
	cfg.Device.Type = transport.TypeDemo
	cfg.Device.PollIntervalMs = 1
	return cfg.Device
}

func TestInfo(t *testing.T) {
	s, err := openSession(demoConfig(t))
	require.NoError(t, err)
	defer s.Close()

	r, err := readInfo(s)
	require.NoError(t, err)
	require.Equal(t, "1.1.05", r.Firmware)
	require.Equal(t, uint16(1000), r.BaseRate)
	require.NotNil(t, r.HardIron)
	require.NotNil(t, r.SoftIron)
	require.Equal(t, float32(1), r.SoftIron[0])

	var out bytes.Buffer
	printInfo(&out, r)
	require.Contains(t, out.String(), "Model name:      3DM-SIM-AHRS")
	require.Contains(t, out.String(), "Sensor rate:     1000 Hz")
}

func TestConfigureStreamDropsMag(t *testing.T) {
	dc := demoConfig(t)
	dc.NoMagnetometer = true
	s, err := openSession(dc)
	require.NoError(t, err)
	defer s.Close()

	setup, err := configureStream(s.dev, config.StreamConfig{
		SampleHz:    100,
		Descriptors: []string{"accel_scaled", "gyro_scaled", "mag_scaled"},
	})
	require.NoError(t, err)
	require.True(t, setup.MagDropped)
	require.Len(t, setup.Rates, 2)
	require.Equal(t, uint16(10), setup.Rates[0].Decimation)
}

func TestConfigureStreamUnknownDescriptor(t *testing.T) {
	s, err := openSession(demoConfig(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = configureStream(s.dev, config.StreamConfig{SampleHz: 100, Descriptors: []string{"warp_core"}})
	require.Error(t, err)
}

func TestWatchPrintsSamples(t *testing.T) {
	s, err := openSession(demoConfig(t))
	require.NoError(t, err)
	defer s.Close()

	watchDuration = 150 * time.Millisecond
	watchPackets = true
	t.Cleanup(func() { watchPackets = false })

	var out bytes.Buffer
	require.NoError(t, runWatch(context.Background(), s, &out))
	text := out.String()
	require.Contains(t, text, "accel")
	require.Contains(t, text, "gyro")
	require.Contains(t, text, "mag")
	require.Contains(t, text, "Got packet with descriptor set 0x80: 04 05 06")
	require.Positive(t, s.dev.Stats().Packets)
	require.Zero(t, s.dev.Stats().MalformedFrames)
}

func TestMagWriteSaveAndDefault(t *testing.T) {
	s, err := openSession(demoConfig(t))
	require.NoError(t, err)
	defer s.Close()

	magHardIron = []float32{0.5, -0.25, 0.125}
	magSave = true
	var out bytes.Buffer
	require.NoError(t, runMag(s, &out))
	require.Contains(t, out.String(), "hard iron: [ 0.500000 -0.250000  0.125000]")

	magHardIron, magSave, magDefault = nil, false, true
	out.Reset()
	require.NoError(t, runMag(s, &out))
	require.Contains(t, out.String(), "hard iron: [ 0.000000  0.000000  0.000000]")

	magDefault, magLoad = false, true
	t.Cleanup(func() { magLoad = false })
	out.Reset()
	require.NoError(t, runMag(s, &out))
	require.Contains(t, out.String(), "hard iron: [ 0.500000 -0.250000  0.125000]")
}

func TestReplayDecodesCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.bin")
	dc := demoConfig(t)
	dc.CaptureFile = path
	s, err := openSession(dc)
	require.NoError(t, err)
	watchDuration = 100 * time.Millisecond
	require.NoError(t, runWatch(context.Background(), s, &bytes.Buffer{}))
	live := s.dev.Stats().Packets
	require.NoError(t, s.Close())

	rdc := cfg.Device
	rdc.Type = transport.TypeReplay
	rdc.ReplayFile = path
	rs, err := openSession(rdc)
	require.NoError(t, err)
	defer rs.Close()

	replayJSON = true
	t.Cleanup(func() { replayJSON = false })
	var out bytes.Buffer
	require.NoError(t, runReplay(rs, &out))
	require.Equal(t, live, rs.dev.Stats().Packets)

	samples := 0
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var sample sensordata.Sample
		require.NoError(t, json.Unmarshal([]byte(line), &sample))
		require.NotNil(t, sample.Accel)
		samples++
	}
	require.Positive(t, samples)
}

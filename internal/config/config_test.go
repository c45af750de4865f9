package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
	"github.com/shaunagostinho/goimu/internal/transport"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Equal(t, transport.TypeDemo, cfg.Device.Type)
	require.Equal(t, 100, cfg.Stream.SampleHz)
	require.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "goimu.yaml", `
device:
  type: serial
  port_path: /dev/ttyUSB3
  baud_rate: 921600
stream:
  sample_hz: 50
  descriptors: [gyro_scaled, euler_angles]
`)
	cfg := Load(p)
	require.Equal(t, "serial", cfg.Device.Type)
	require.Equal(t, "/dev/ttyUSB3", cfg.Device.PortPath)
	require.Equal(t, 921600, cfg.Device.BaudRate)
	require.Equal(t, 200, cfg.Device.BaseTimeoutMs)
	require.Equal(t, []string{"gyro_scaled", "euler_angles"}, cfg.Stream.Descriptors)
}

func TestLoadTOMLAndSave(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "goimu.toml", `
[device]
type = "replay"
replay_file = "/tmp/session.bin"

[recording]
enabled = true
interval_ms = 20
`)
	cfg := Load(p)
	require.Equal(t, transport.TypeReplay, cfg.Device.Type)
	require.Equal(t, "/tmp/session.bin", cfg.Device.ReplayFile)
	require.True(t, cfg.Recording.Enabled)
	require.Equal(t, 20, cfg.Recording.IntervalMs)

	cfg.Server.ListenAddr = ":9999"
	require.NoError(t, cfg.Save())
	again := Load(p)
	require.Equal(t, ":9999", again.Server.ListenAddr)
	require.Equal(t, "/tmp/session.bin", again.Device.ReplayFile)
}

func TestBrokenFileFallsBack(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.yaml", "device: [unterminated")
	cfg := Load(p)
	require.Equal(t, DefaultConfig().Device, cfg.Device)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "IMU_PORT=\"/dev/ttyFromDotEnv\"\n# comment\nIMU_BAUD=230400\n")
	p := writeFile(t, dir, "goimu.yaml", "device:\n  type: serial\n")

	t.Setenv("IMU_PORT", "")
	t.Setenv("IMU_BAUD", "")
	t.Setenv("IMU_TYPE", "demo")
	t.Setenv("REC_ENABLED", "yes")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:7000")

	cfg := Load(p)
	require.Equal(t, "demo", cfg.Device.Type)
	require.Equal(t, "/dev/ttyFromDotEnv", cfg.Device.PortPath)
	require.Equal(t, 230400, cfg.Device.BaudRate)
	require.True(t, cfg.Recording.Enabled)
	require.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddr)
}

func TestUpdateFromJSONMerges(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"device":{"baudRate":460800},"log":{"level":"debug"}}`)))
	require.Equal(t, 460800, cfg.Device.BaudRate)
	require.Equal(t, "/dev/ttyACM0", cfg.Device.PortPath)
	require.Equal(t, "debug", cfg.Log.Level)

	require.Error(t, cfg.UpdateFromJSON([]byte(`{not json`)))

	data, err := cfg.ToJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"baudRate":460800`)
}

func TestDeviceTransport(t *testing.T) {
	d := DefaultConfig().Device
	d.NoMagnetometer = true
	tc := d.Transport()
	require.Equal(t, transport.TypeDemo, tc.Type)
	require.Equal(t, 10*time.Millisecond, tc.ReadTimeout)
	require.True(t, tc.Simulator.NoMagnetometer)
	require.EqualValues(t, 200, d.BaseTimeout())
	require.Equal(t, 2*time.Millisecond, d.PollInterval())
}

func TestDescriptorRates(t *testing.T) {
	s := StreamConfig{SampleHz: 100, Descriptors: []string{"accel_scaled", "mag_scaled"}}
	rates, err := s.DescriptorRates(1000)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	require.Equal(t, sensordata.DataAccelScaled, rates[0].Descriptor)
	require.Equal(t, uint16(10), rates[1].Decimation)

	s.SampleHz = 5000
	rates, err = s.DescriptorRates(1000)
	require.NoError(t, err)
	require.Equal(t, uint16(1), rates[0].Decimation)

	s.Descriptors = append(s.Descriptors, "flux_capacitor")
	_, err = s.DescriptorRates(1000)
	require.Error(t, err)

	s.SampleHz = 0
	_, err = s.DescriptorRates(1000)
	require.Error(t, err)
}

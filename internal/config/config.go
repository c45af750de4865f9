// Package config loads goimu settings from YAML or TOML, a .env file and
// environment variables.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/device"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
	"github.com/shaunagostinho/goimu/internal/transport"
)

// Config holds all goimu configuration.
type Config struct {
	mu sync.RWMutex

	// Device link and engine tuning
	Device DeviceConfig `yaml:"device" json:"device" toml:"device"`

	// What the device streams
	Stream StreamConfig `yaml:"stream" json:"stream" toml:"stream"`

	// CSV recording
	Recording RecordingConfig `yaml:"recording" json:"recording" toml:"recording"`

	// Dashboard server
	Server ServerConfig `yaml:"server" json:"server" toml:"server"`

	Log LogConfig `yaml:"log" json:"log" toml:"log"`

	path string // file path for save/load
}

type DeviceConfig struct {
	Type            string `yaml:"type" json:"type" toml:"type"`               // "serial", "demo" or "replay"
	Driver          string `yaml:"driver" json:"driver" toml:"driver"`         // "bugst" or "tarm"
	PortPath        string `yaml:"port_path" json:"portPath" toml:"port_path"` // e.g. /dev/ttyACM0
	BaudRate        int    `yaml:"baud_rate" json:"baudRate" toml:"baud_rate"`
	ReadTimeoutMs   int    `yaml:"read_timeout_ms" json:"readTimeoutMs" toml:"read_timeout_ms"`
	BaseTimeoutMs   int    `yaml:"base_timeout_ms" json:"baseTimeoutMs" toml:"base_timeout_ms"` // command reply timeout
	PollIntervalMs  int    `yaml:"poll_interval_ms" json:"pollIntervalMs" toml:"poll_interval_ms"`
	ParseBufferSize int    `yaml:"parse_buffer_size" json:"parseBufferSize" toml:"parse_buffer_size"`
	ReplayFile      string `yaml:"replay_file" json:"replayFile" toml:"replay_file"`
	CaptureFile     string `yaml:"capture_file" json:"captureFile" toml:"capture_file"`          // record received bytes
	NoMagnetometer  bool   `yaml:"no_magnetometer" json:"noMagnetometer" toml:"no_magnetometer"` // demo only
}

type StreamConfig struct {
	SampleHz    int      `yaml:"sample_hz" json:"sampleHz" toml:"sample_hz"`
	Descriptors []string `yaml:"descriptors" json:"descriptors" toml:"descriptors"` // sensordata names, e.g. accel_scaled
}

type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Path       string `yaml:"path" json:"path" toml:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs" toml:"interval_ms"` // ms between rows
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr" toml:"listen_addr"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level" toml:"level"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:            transport.TypeDemo,
			Driver:          transport.DriverBugst,
			PortPath:        "/dev/ttyACM0",
			BaudRate:        transport.DefaultBaudRate,
			ReadTimeoutMs:   10,
			BaseTimeoutMs:   200,
			PollIntervalMs:  2,
			ParseBufferSize: 1024,
		},
		Stream: StreamConfig{
			SampleHz:    100,
			Descriptors: []string{"accel_scaled", "gyro_scaled", "mag_scaled"},
		},
		Recording: RecordingConfig{
			Enabled:    false,
			Path:       "/var/log/goimu",
			IntervalMs: 100,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads config from a YAML or TOML file (by extension), then applies
// .env and environment variable overrides. Falls back to defaults if the file
// is missing or broken.
func Load(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Info().Str("component", "config").Str("path", path).Msg("no config file, using defaults")
		} else if err := cfg.decode(path, data); err != nil {
			log.Warn().Str("component", "config").Str("path", path).Err(err).Msg("config parse failed, using defaults")
			cfg = DefaultConfig()
			cfg.path = path
		} else {
			log.Info().Str("component", "config").Str("path", path).Msg("config loaded")
		}
	}

	// .env next to the config, then in CWD
	envPaths := []string{".env"}
	if path != "" {
		envPaths = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envPaths...)
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func (c *Config) decode(path string, data []byte) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), c)
		return err
	}
	return yaml.Unmarshal(data, c)
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Debug().Str("component", "config").Str("path", path).Msg("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence.
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: IMU_TYPE, IMU_DRIVER, IMU_PORT, IMU_BAUD, IMU_BASE_TIMEOUT_MS,
// IMU_SAMPLE_HZ, IMU_REPLAY_FILE, LISTEN_ADDR, REC_ENABLED, REC_PATH,
// REC_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IMU_TYPE"); v != "" {
		c.Device.Type = v
	}
	if v := os.Getenv("IMU_DRIVER"); v != "" {
		c.Device.Driver = v
	}
	if v := os.Getenv("IMU_PORT"); v != "" {
		c.Device.PortPath = v
	}
	if v := os.Getenv("IMU_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Device.BaudRate = n
		}
	}
	if v := os.Getenv("IMU_BASE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Device.BaseTimeoutMs = n
		}
	}
	if v := os.Getenv("IMU_SAMPLE_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.SampleHz = n
		}
	}
	if v := os.Getenv("IMU_REPLAY_FILE"); v != "" {
		c.Device.ReplayFile = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("REC_ENABLED"); v != "" {
		c.Recording.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("REC_PATH"); v != "" {
		c.Recording.Path = v
	}
	if v := os.Getenv("REC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recording.IntervalMs = n
		}
	}
}

func (c *Config) Path() string { return c.path }

// Save writes the config back to its file in the format its extension names.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/goimu/config.yaml"
	}

	var data []byte
	if isTOML(c.path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return err
		}
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// Snapshot returns a copy of the settings safe to read without the lock.
func (c *Config) Snapshot() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Config{
		Device:    c.Device,
		Stream:    StreamConfig{SampleHz: c.Stream.SampleHz, Descriptors: append([]string(nil), c.Stream.Descriptors...)},
		Recording: c.Recording,
		Server:    c.Server,
		Log:       c.Log,
		path:      c.path,
	}
}

// Transport converts the device section into a transport.Config.
func (d DeviceConfig) Transport() transport.Config {
	return transport.Config{
		Type:        d.Type,
		Driver:      d.Driver,
		PortPath:    d.PortPath,
		BaudRate:    d.BaudRate,
		ReadTimeout: time.Duration(d.ReadTimeoutMs) * time.Millisecond,
		ReplayFile:  d.ReplayFile,
		Simulator:   transport.SimulatorConfig{NoMagnetometer: d.NoMagnetometer},
	}
}

func (d DeviceConfig) BaseTimeout() mip.Timeout {
	return mip.TimeoutFromDuration(time.Duration(d.BaseTimeoutMs) * time.Millisecond)
}

// PollInterval falls back to the device default when unset.
func (d DeviceConfig) PollInterval() time.Duration {
	if d.PollIntervalMs <= 0 {
		return device.DefaultPollInterval
	}
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

// DescriptorRates resolves the stream section against the device base rate.
// Decimation is base/sample rate, at least 1.
func (s StreamConfig) DescriptorRates(baseRate uint16) ([]commands.DescriptorRate, error) {
	hz := s.SampleHz
	if hz <= 0 {
		return nil, fmt.Errorf("config: sample_hz must be positive, got %d", hz)
	}
	dec := int(baseRate) / hz
	if dec < 1 {
		dec = 1
	}
	rates := make([]commands.DescriptorRate, 0, len(s.Descriptors))
	for _, name := range s.Descriptors {
		d, ok := sensordata.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("config: unknown descriptor %q", name)
		}
		rates = append(rates, commands.DescriptorRate{Descriptor: d, Decimation: uint16(dec)})
	}
	return rates, nil
}

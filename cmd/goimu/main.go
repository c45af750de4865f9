package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shaunagostinho/goimu/internal/config"
	"github.com/shaunagostinho/goimu/internal/logging"
	"github.com/shaunagostinho/goimu/internal/mip/device"
	"github.com/shaunagostinho/goimu/internal/transport"
)

var (
	rootCmd = &cobra.Command{
		Use:               "goimu",
		Short:             "Talk to MIP inertial sensors",
		Long:              "goimu configures, streams and records MIP inertial measurement units over serial, a simulator or a capture file.",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	configPath  string
	demo        bool
	portPath    string
	baudRate    int
	driver      string
	capturePath string
	logLevel    string

	cfg *config.Config
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "/etc/goimu/config.yaml", "path to config file (.yaml or .toml)")
	f.BoolVar(&demo, "demo", false, "use the simulated device")
	f.StringVar(&portPath, "port", "", "serial port path, selects the serial transport (e.g. /dev/ttyACM0)")
	f.IntVar(&baudRate, "baud", 0, "override baud rate")
	f.StringVar(&driver, "driver", "", "serial driver: bugst or tarm")
	f.StringVar(&capturePath, "capture", "", "record every received byte to this file")
	f.StringVar(&logLevel, "log-level", "", "override log level")

	rootCmd.AddCommand(infoCmd, watchCmd, serveCmd, replayCmd, magCmd, portsCmd)
}

func main() {
	logging.ConfigureRuntime()
	log.Info().Str("component", "main").Msg("goimu starting")

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("component", "main").Stringer("signal", sig).Msg("shutting down")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Str("component", "main").Err(err).Msg("exited")
		os.Exit(1)
	}
}

// setup loads the config and applies command line overrides.
func setup(cmd *cobra.Command, args []string) error {
	cfg = config.Load(configPath)

	if demo {
		cfg.Device.Type = transport.TypeDemo
	}
	if portPath != "" {
		cfg.Device.Type = transport.TypeSerial
		cfg.Device.PortPath = portPath
	}
	if baudRate > 0 {
		cfg.Device.BaudRate = baudRate
	}
	if driver != "" {
		cfg.Device.Driver = driver
	}
	if capturePath != "" {
		cfg.Device.CaptureFile = capturePath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	// The environment still wins over the config file.
	if os.Getenv(logging.EnvLogLevel) == "" || logLevel != "" {
		if lvl, ok := logging.ParseLevel(cfg.Log.Level); ok {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	return nil
}

// session is an open port with a device engine on top of it.
type session struct {
	port transport.Port
	dev  *device.Device
}

func (s *session) Close() error { return s.port.Close() }

// openSession opens the configured transport once.
func openSession(c config.DeviceConfig) (*session, error) {
	port, err := transport.Open(c.Transport())
	if err != nil {
		return nil, err
	}
	if c.CaptureFile != "" {
		capture, err := transport.CaptureToFile(port, c.CaptureFile)
		if err != nil {
			port.Close()
			return nil, err
		}
		log.Info().Str("component", "main").Str("path", c.CaptureFile).Msg("capturing received bytes")
		port = capture
	}

	logger := log.Logger.With().Str("port", port.Name()).Logger()
	dev := device.New(port, device.Config{
		BaseTimeout:     c.BaseTimeout(),
		ParseBufferSize: c.ParseBufferSize,
		PollInterval:    c.PollInterval(),
		Logger:          &logger,
	})
	return &session{port: port, dev: dev}, nil
}

// connectWithRetry opens a session with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, logs attempt numbers up to
// maxAttempts then keeps retrying at the max interval until ctx is done.
func connectWithRetry(ctx context.Context, c config.DeviceConfig, maxAttempts int) (*session, error) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := openSession(c)
		if err == nil {
			log.Info().Str("component", "main").Str("port", s.port.Name()).Int("attempt", attempt+1).Msg("connected")
			return s, nil
		}
		// A bad configuration will not fix itself.
		if errors.Is(err, transport.ErrUnknownType) {
			return nil, err
		}

		attempt++
		ev := log.Warn().Str("component", "main").Err(err).Dur("retry_in", delay)
		if attempt <= maxAttempts {
			ev = ev.Str("attempt", fmt.Sprintf("%d/%d", attempt, maxAttempts))
		} else {
			ev = ev.Int("attempt", attempt)
		}
		ev.Msg("connect failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// commandContext bounds a single setup command. It is detached from the
// signal context so the device can still be idled during shutdown.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

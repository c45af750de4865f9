// Package transport provides the byte links a device.Device runs over: serial
// ports (two drivers), an in-memory simulated IMU, and capture replay.
package transport

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Port is a device.Transport that can be closed.
type Port interface {
	Receive(buf []byte) (int, error)
	Send(data []byte) error
	Close() error
	Name() string
}

// Config selects and configures a Port.
type Config struct {
	Type        string        // "serial", "demo" or "replay"
	Driver      string        // serial driver: "bugst" (default) or "tarm"
	PortPath    string        // e.g. /dev/ttyACM0
	BaudRate    int           // default 115200
	ReadTimeout time.Duration // how long Receive may wait for the first byte
	ReplayFile  string
	Simulator   SimulatorConfig
}

const (
	TypeSerial = "serial"
	TypeDemo   = "demo"
	TypeReplay = "replay"

	DriverBugst = "bugst"
	DriverTarm  = "tarm"

	DefaultBaudRate    = 115200
	DefaultReadTimeout = 10 * time.Millisecond
)

var (
	ErrUnknownType = errors.New("transport: unknown type")
	ErrClosed      = errors.New("transport: closed")
)

// Open builds the Port described by cfg.
func Open(cfg Config) (Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	switch cfg.Type {
	case TypeSerial, "":
		switch cfg.Driver {
		case DriverBugst, "":
			return OpenSerial(cfg.PortPath, cfg.BaudRate, cfg.ReadTimeout)
		case DriverTarm:
			return OpenTarm(cfg.PortPath, cfg.BaudRate, cfg.ReadTimeout)
		default:
			return nil, fmt.Errorf("%w: serial driver %q", ErrUnknownType, cfg.Driver)
		}
	case TypeDemo:
		return NewSimulator(cfg.Simulator), nil
	case TypeReplay:
		return OpenReplay(cfg.ReplayFile)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, cfg.Type)
	}
}

// writeAll loops until every byte of data is written.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}

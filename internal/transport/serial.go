package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial is a Port over go.bug.st/serial. Reads wait at most the configured
// read timeout, so Receive returns (0, nil) when the line is quiet.
type Serial struct {
	path string
	mu   sync.Mutex
	port serial.Port
}

func OpenSerial(path string, baud int, readTimeout time.Duration) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: failed to set timeout: %w", err)
	}
	// Stale bytes from a previous session only produce resync noise.
	_ = port.ResetInputBuffer()
	return &Serial{path: path, port: port}, nil
}

func (s *Serial) Name() string { return "serial:" + s.path }

func (s *Serial) Receive(buf []byte) (int, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return 0, ErrClosed
	}
	n, err := port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("transport: read %s: %w", s.path, err)
	}
	return n, nil
}

func (s *Serial) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrClosed
	}
	if err := writeAll(s.port, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", s.path, err)
	}
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// ListPorts returns the serial ports the OS reports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

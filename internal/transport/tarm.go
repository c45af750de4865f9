package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Tarm is a Port over github.com/tarm/serial, for platforms where the default
// driver misbehaves. tarm reports a read timeout as io.EOF, which Receive
// turns into "no data".
type Tarm struct {
	path string
	mu   sync.Mutex
	port *serial.Port
}

func OpenTarm(path string, baud int, readTimeout time.Duration) (*Tarm, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baud,
		Parity:      serial.ParityNone,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", path, err)
	}
	_ = port.Flush()
	return &Tarm{path: path, port: port}, nil
}

func (t *Tarm) Name() string { return "tarm:" + t.path }

func (t *Tarm) Receive(buf []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return 0, ErrClosed
	}
	n, err := port.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("transport: read %s: %w", t.path, err)
	}
	return n, nil
}

func (t *Tarm) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	if err := writeAll(t.port, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", t.path, err)
	}
	return nil
}

func (t *Tarm) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var ErrReadOnly = errors.New("transport: replay is read-only")

// Replay feeds a raw byte capture to the device. Receive returns io.EOF once
// the capture is exhausted.
type Replay struct {
	name  string
	mu    sync.Mutex
	r     io.Reader
	c     io.Closer
	chunk int
}

// DefaultReplayChunk mimics a serial read of moderate size.
const DefaultReplayChunk = 64

func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transport: open capture: %w", err)
	}
	return &Replay{name: path, r: f, c: f, chunk: DefaultReplayChunk}, nil
}

// NewReplay replays r in chunks of at most chunk bytes.
func NewReplay(name string, r io.Reader, chunk int) *Replay {
	if chunk <= 0 {
		chunk = DefaultReplayChunk
	}
	return &Replay{name: name, r: r, chunk: chunk}
}

func (p *Replay) Name() string { return "replay:" + p.name }

func (p *Replay) Receive(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.r == nil {
		return 0, ErrClosed
	}
	if len(buf) > p.chunk {
		buf = buf[:p.chunk]
	}
	n, err := p.r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("transport: read capture: %w", err)
	}
	if errors.Is(err, io.EOF) && n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *Replay) Send([]byte) error { return ErrReadOnly }

func (p *Replay) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.r = nil
	if p.c != nil {
		return p.c.Close()
	}
	return nil
}

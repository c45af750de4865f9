package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// Capture wraps a Port and copies every received byte to a writer, producing
// files Replay can play back.
type Capture struct {
	Port
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	err error
}

func NewCapture(p Port, w io.Writer) *Capture {
	c := &Capture{Port: p, w: bufio.NewWriter(w)}
	if closer, ok := w.(io.Closer); ok {
		c.c = closer
	}
	return c
}

// CaptureToFile creates path and records into it.
func CaptureToFile(p Port, path string) (*Capture, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("transport: create capture: %w", err)
	}
	return NewCapture(p, f), nil
}

func (c *Capture) Receive(buf []byte) (int, error) {
	n, err := c.Port.Receive(buf)
	if n > 0 {
		c.mu.Lock()
		if c.err == nil {
			_, c.err = c.w.Write(buf[:n])
		}
		c.mu.Unlock()
	}
	return n, err
}

// Close flushes the capture and closes both the writer and the wrapped port.
func (c *Capture) Close() error {
	c.mu.Lock()
	ferr := c.w.Flush()
	if c.err != nil {
		ferr = c.err
	}
	if c.c != nil {
		if err := c.c.Close(); err != nil && ferr == nil {
			ferr = err
		}
	}
	c.mu.Unlock()
	if err := c.Port.Close(); err != nil {
		return err
	}
	return ferr
}

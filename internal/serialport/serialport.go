// Package serialport opens the controller's USB serial device and discovers
// candidate ports.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// ErrDisconnected reports that the device node vanished while reading.
var ErrDisconnected = errors.New("serialport: device disconnected")

// Config describes how to open one port.
type Config struct {
	Path        string
	Baud        int
	ReadTimeout time.Duration
}

// Port is an open serial device. Read blocks until data arrives, the device
// disappears, or the port is closed; idle read timeouts are absorbed.
type Port struct {
	path   string
	raw    io.ReadWriteCloser
	closed atomic.Bool
	stat   func(string) (os.FileInfo, error)
}

// Open opens cfg.Path with 8N1 framing.
func Open(cfg Config) (*Port, error) {
	raw, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Path,
		Baud:        cfg.Baud,
		Parity:      serial.ParityNone,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	return wrap(cfg.Path, raw), nil
}

func wrap(path string, raw io.ReadWriteCloser) *Port {
	return &Port{path: path, raw: raw, stat: os.Stat}
}

// Path returns the device path.
func (p *Port) Path() string {
	return p.path
}

func (p *Port) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, os.ErrClosed
		}
		n, err := p.raw.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		// A zero-byte read is a VTIME expiry unless the node is gone.
		if _, statErr := p.stat(p.path); statErr != nil {
			return 0, fmt.Errorf("%w: %s", ErrDisconnected, p.path)
		}
	}
}

func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	return p.raw.Write(b)
}

func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.raw.Close()
}

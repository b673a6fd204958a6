// Package transport implements the byte-level adapters Connection rides
// on: a serial tty for classic cradle HotSync, and a USB bulk endpoint
// for newer devices.
package transport

import (
	"time"

	"github.com/coldpalm/palmsync/palmerr"
)

// Port is the capability set a transport adapter must provide:
// read/write, drain, a select-style readiness wait with timeout, a
// speed change, and close.
type Port interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Drain() error
	Select(timeout time.Duration) error
	SetSpeed(rate uint32) error
	Close() error
}

// readWriterAdapter exposes a Port as the plain io.ReadWriter that
// conn.Connection's Transport embeds, translating Select-based timeouts
// into palmerr.Timeout on Read so upper layers see a uniform error.
type readWriterAdapter struct {
	Port
	timeout time.Duration
}

// WithTimeout wraps a Port so every Read first waits for readiness up to
// timeout, surfacing palmerr.Timeout instead of blocking past it — the
// mechanism upper layers use to detect a dead connection.
func WithTimeout(p Port, timeout time.Duration) *readWriterAdapter {
	return &readWriterAdapter{Port: p, timeout: timeout}
}

func (a *readWriterAdapter) Read(buf []byte) (int, error) {
	if a.timeout > 0 {
		if err := a.Port.Select(a.timeout); err != nil {
			return 0, err
		}
	}
	return a.Port.Read(buf)
}

func (a *readWriterAdapter) SetTimeout(d time.Duration) { a.timeout = d }

var errNotSupported = palmerr.New(palmerr.System, "transport: operation not supported on this adapter", nil)

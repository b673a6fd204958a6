package transport

import (
	"syscall"
	"time"

	"github.com/coldpalm/palmsync/palmerr"
)

// usbBufSize is the internal read buffer size, roughly 1 KiB: the
// USB driver hands back whole bulk packets, so callers are serviced
// from this buffer and it is refilled with a single bulk read when
// empty.
const usbBufSize = 1024

// USB is a bulk-endpoint transport for USB-connected devices; it
// replaces SLP+PADP with the NetSync framer at the Connection layer, so
// SetSpeed is a documented no-op here.
type USB struct {
	fd int

	buf    [usbBufSize]byte
	filled int
	pos    int
}

// OpenUSB opens a bulk endpoint device node directly; real enumeration
// (the vendor GetConnectionInfo control request that picks the HotSync
// endpoint) is out of scope here, so the caller is expected to have
// already resolved path to the right endpoint node.
func OpenUSB(path string) (*USB, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, palmerr.New(palmerr.System, "transport: open "+path, err)
	}
	return &USB{fd: fd}, nil
}

func (u *USB) refill() error {
	n, err := syscall.Read(u.fd, u.buf[:])
	if err != nil {
		return palmerr.New(palmerr.System, "transport: usb bulk read", err)
	}
	if n == 0 {
		return palmerr.New(palmerr.Eof, "transport: usb eof", nil)
	}
	u.filled = n
	u.pos = 0
	return nil
}

func (u *USB) Read(buf []byte) (int, error) {
	if u.pos >= u.filled {
		if err := u.refill(); err != nil {
			return 0, err
		}
	}
	n := copy(buf, u.buf[u.pos:u.filled])
	u.pos += n
	return n, nil
}

func (u *USB) Write(buf []byte) (int, error) {
	n, err := syscall.Write(u.fd, buf)
	if err != nil {
		return n, palmerr.New(palmerr.System, "transport: usb write", err)
	}
	return n, nil
}

// Drain is a no-op: USB bulk writes are synchronous from the adapter's
// point of view.
func (u *USB) Drain() error { return nil }

// Select returns nil at once, whether or not buffered bytes remain; it
// does not wait for readiness and never reports a timeout, so a
// following Read on an idle endpoint blocks.
func (u *USB) Select(timeout time.Duration) error {
	if u.pos < u.filled {
		return nil
	}
	return nil
}

// SetSpeed is a no-op for USB: the effective rate is whatever the link
// negotiates on its own.
func (u *USB) SetSpeed(rate uint32) error { return nil }

func (u *USB) Close() error {
	if err := syscall.Close(u.fd); err != nil {
		return palmerr.New(palmerr.System, "transport: close", err)
	}
	return nil
}

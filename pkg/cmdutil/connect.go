package cmdutil

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/coldpalm/palmsync/conn"
	"github.com/coldpalm/palmsync/palmerr"
	"github.com/coldpalm/palmsync/transport"
)

// ReadTimeout bounds every blocking read on a freshly opened connection,
// the same timeout the teacher's own CLIs apply to any I/O that waits on
// external hardware rather than trusting a bare blocking read.
const ReadTimeout = 60 * time.Second

// tcpPort adapts a net.Conn to transport.Port for "net:" addresses: a
// TCP-based HotSync peer speaks the NetSync framer directly over the
// socket, with no serial-style rate change or drain semantics.
type tcpPort struct {
	net.Conn
}

func (t tcpPort) Drain() error           { return nil }
func (t tcpPort) SetSpeed(rate uint32) error { return nil }

func (t tcpPort) Select(timeout time.Duration) error {
	if timeout > 0 {
		return t.Conn.SetReadDeadline(time.Now().Add(timeout))
	}
	return t.Conn.SetReadDeadline(time.Time{})
}

// ExpandHome resolves a leading "~" the way a shell would, since kong's
// default tags are evaluated before any shell expansion happens.
func ExpandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

// OpenConnection opens the transport named by port (as validated by
// PortMapper) and wraps it in the right conn.Connection stack: "net:"
// dials a TCP peer and rides the NetSync framer, "usb:" opens a bulk
// endpoint node and also rides NetSync, and anything else opens a
// serial tty under SLP+PADP+CMP.
func OpenConnection(port string) (*conn.Connection, error) {
	switch {
	case strings.HasPrefix(port, "net:"):
		addr := strings.TrimPrefix(port, "net:")
		nc, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, palmerr.New(palmerr.System, "cmdutil: dial "+addr, err)
		}
		return conn.NewNet(transport.WithTimeout(tcpPort{nc}, ReadTimeout)), nil

	case strings.HasPrefix(port, "usb:"):
		path := strings.TrimPrefix(port, "usb:")
		u, err := transport.OpenUSB(path)
		if err != nil {
			return nil, err
		}
		return conn.NewNet(transport.WithTimeout(u, ReadTimeout)), nil

	default:
		s, err := transport.OpenSerial(port)
		if err != nil {
			return nil, err
		}
		return conn.NewFull(transport.WithTimeout(s, ReadTimeout), conn.DefaultLocalAddr), nil
	}
}

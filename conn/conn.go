// Package conn owns the Connection object: the session-scoped composite
// of a transport, its SLP/PADP/CMP stack (or NetSync in its place), and
// the single message-level Send/Receive the dlp package drives.
package conn

import (
	"io"
	"log"

	"github.com/coldpalm/palmsync/cmp"
	"github.com/coldpalm/palmsync/netsync"
	"github.com/coldpalm/palmsync/padp"
	"github.com/coldpalm/palmsync/palmerr"
	"github.com/coldpalm/palmsync/slp"
)

// Mode identifies which protocol stack a Connection is running.
type Mode int

const (
	ModeNone Mode = iota
	ModeFull      // SLP + PADP + CMP
	ModeNet       // NetSync
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeNet:
		return "net"
	default:
		return "none"
	}
}

// Transport is the capability set a connection needs from the
// underlying serial or USB adapter.
type Transport interface {
	io.ReadWriter
	Drain() error
	SetSpeed(rate uint32) error
	Close() error
}

// Connection exclusively owns a Transport; no other component may read
// or write the wire directly.
type Connection struct {
	Mode Mode

	t Transport

	slpFramer  *slp.Framer
	padp       *padp.Protocol
	netFramer  *netsync.Framer

	Rate uint32

	// NetFirstLenHint, when set, is the length of the greeting message
	// on a Net connection whose transport delivers it without a
	// NetSync header (the m50x anomaly). Zero means the greeting is
	// framed normally.
	NetFirstLenHint int

	Logger *log.Logger
}

// DefaultLocalAddr is the SLP address the desktop side of a HotSync
// conversation identifies itself with: protocol 3 (loopback), port 3.
var DefaultLocalAddr = slp.Addr{Protocol: 3, Port: 3}

// NewFull builds a Connection over SLP+PADP for serial-style devices,
// binding the local SLP address.
func NewFull(t Transport, local slp.Addr) *Connection {
	f := slp.NewFramer(t, local)
	p := padp.New(f, f)
	return &Connection{Mode: ModeFull, t: t, slpFramer: f, padp: p}
}

// NewNet builds a Connection over the NetSync framer for USB/TCP-style
// devices.
func NewNet(t Transport) *Connection {
	return &Connection{Mode: ModeNet, t: t, netFramer: netsync.NewFramer(t)}
}

// SetSpeed changes the underlying transport's bit rate directly,
// bypassing CMP; the sync engine uses this to drop to the initial
// 9600bps probe rate before the handshake runs.
func (c *Connection) SetSpeed(rate uint32) error {
	return c.t.SetSpeed(rate)
}

// Accept runs the connection-start ritual: the CMP rate handshake for
// Full connections, or the NetSync ritual exchange for Net connections
// (which skip CMP entirely).
func (c *Connection) Accept(preferredRate uint32) error {
	switch c.Mode {
	case ModeFull:
		rate, err := cmp.Accept(c.padp, speedSetter{c.t}, preferredRate)
		if err != nil {
			return err
		}
		c.Rate = rate
		return nil
	case ModeNet:
		_, _, _, err := c.netFramer.Ritual(c.NetFirstLenHint, netsync.DefaultReply1, netsync.DefaultReply2)
		return err
	default:
		return palmerr.New(palmerr.Protocol, "conn: Accept on unconfigured connection", nil)
	}
}

// Send transmits one whole message through whichever stack is active.
func (c *Connection) Send(msg []byte) error {
	switch c.Mode {
	case ModeFull:
		return c.padp.Send(msg)
	case ModeNet:
		return c.netFramer.Write(msg)
	default:
		return palmerr.New(palmerr.Protocol, "conn: Send on unconfigured connection", nil)
	}
}

// Receive reads one whole message through whichever stack is active.
func (c *Connection) Receive() ([]byte, error) {
	switch c.Mode {
	case ModeFull:
		return c.padp.Receive()
	case ModeNet:
		return c.netFramer.Read()
	default:
		return nil, palmerr.New(palmerr.Protocol, "conn: Receive on unconfigured connection", nil)
	}
}

// HintNextLength forwards to the NetSync framer for the m50x anomaly;
// it is a no-op for Full connections, which have no equivalent case.
func (c *Connection) HintNextLength(n int) {
	if c.Mode == ModeNet {
		c.netFramer.HintNextLength(n)
	}
}

func (c *Connection) Close() error {
	return c.t.Close()
}

// speedSetter adapts Transport's Drain/SetSpeed to cmp.SpeedSetter
// without exposing the whole Transport surface to the cmp package.
type speedSetter struct{ t Transport }

func (s speedSetter) Drain() error             { return s.t.Drain() }
func (s speedSetter) SetSpeed(rate uint32) error { return s.t.SetSpeed(rate) }

package slp

import (
	"bytes"
	"io"
	"testing"
)

// loopback is an io.ReadWriter backed by two independent buffers, one per
// direction, so a Framer writing on one end can be read back through the
// other without the write also satisfying its own read.
type loopback struct {
	toPeer *bytes.Buffer
	toSelf *bytes.Buffer
}

func newLoopbackPair() (*loopback, *loopback) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	return &loopback{toPeer: a, toSelf: b}, &loopback{toPeer: b, toSelf: a}
}

func (l *loopback) Read(p []byte) (int, error)  { return l.toSelf.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.toPeer.Write(p) }

func TestRoundTrip(t *testing.T) {
	hostSide, deviceSide := newLoopbackPair()
	host := NewFramer(hostSide, Addr{Protocol: 3, Port: 3})
	device := NewFramer(deviceSide, Addr{Protocol: 3, Port: 3})
	host.Peer = Addr{Protocol: 3, Port: 3}

	body := []byte("fragmented palmos message body")
	if err := host.Write(3, 0x42, body); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pkt, err := device.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(pkt.Body, body) {
		t.Errorf("Body = %q, want %q", pkt.Body, body)
	}
	if pkt.Xid != 0x42 {
		t.Errorf("Xid = %#x, want 0x42", pkt.Xid)
	}
	if pkt.Type != 3 {
		t.Errorf("Type = %d, want 3", pkt.Type)
	}
}

func TestBadChecksumIsDroppedSilently(t *testing.T) {
	hostSide, deviceSide := newLoopbackPair()
	device := NewFramer(deviceSide, Addr{Protocol: 3, Port: 3})

	// Emit one corrupt frame (bad header checksum) followed by one good
	// frame, and confirm Read() skips the corrupt one without error.
	corrupt := []byte{0xBE, 0xEF, 0xED, 3, 3, 3, 0, 1, 0x10, 0xFF /* bad checksum */, 'x', 0, 0}
	hostSide.Write(corrupt)

	good := NewFramer(hostSide, Addr{Protocol: 3, Port: 3})
	good.Peer = Addr{Protocol: 3, Port: 3}
	if err := good.Write(3, 0x10, []byte("ok")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	pkt, err := device.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(pkt.Body) != "ok" {
		t.Errorf("Body = %q, want %q", pkt.Body, "ok")
	}
}

func TestMisaddressedPacketIsDropped(t *testing.T) {
	hostSide, deviceSide := newLoopbackPair()
	device := NewFramer(deviceSide, Addr{Protocol: 3, Port: 5})

	wrongAddr := NewFramer(hostSide, Addr{Protocol: 3, Port: 9})
	wrongAddr.Peer = Addr{Protocol: 3, Port: 9}
	wrongAddr.Write(3, 0x11, []byte("not for you"))

	right := NewFramer(hostSide, Addr{Protocol: 3, Port: 9})
	right.Peer = Addr{Protocol: 3, Port: 5}
	right.Write(3, 0x12, []byte("for you"))

	pkt, err := device.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(pkt.Body) != "for you" {
		t.Errorf("Body = %q, want %q", pkt.Body, "for you")
	}
}

func TestEOFPropagates(t *testing.T) {
	f := NewFramer(&bytes.Buffer{}, Addr{})
	_, err := f.Read()
	if err == nil {
		t.Fatal("expected error on empty stream")
	}
}

var _ io.ReadWriter = (*loopback)(nil)

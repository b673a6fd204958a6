// Package netsync implements the alternative framer used by newer
// USB-connected devices and by TCP-based sync, replacing SLP+PADP as the
// DLP transport in Simple/Net connection modes.
package netsync

import (
	"encoding/binary"
	"io"

	"github.com/coldpalm/palmsync/palmerr"
)

const cmdData byte = 1

// Framer reads and writes NetSync frames over a raw byte stream. Xid is
// independent of PADP's xid and is simply bumped on every outbound
// frame.
type Framer struct {
	rw  io.ReadWriter
	xid byte

	// hintedLen services the m50x anomaly: when set, the next Read call
	// treats the stream as headerless and reads exactly this many bytes
	// as the payload instead of parsing a 6-byte header first.
	hintedLen int
}

func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{rw: rw}
}

// HintNextLength arranges for the next Read to skip header parsing and
// read exactly n bytes, working around the m50x series' habit of
// sending its first (greeting) message with no NetSync header at all.
func (f *Framer) HintNextLength(n int) {
	f.hintedLen = n
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return palmerr.New(palmerr.Eof, "netsync: short read", err)
		}
		return palmerr.New(palmerr.System, "netsync: read", err)
	}
	return nil
}

// Read receives one NetSync frame's payload.
func (f *Framer) Read() ([]byte, error) {
	if f.hintedLen > 0 {
		n := f.hintedLen
		f.hintedLen = 0
		buf := make([]byte, n)
		if err := readFull(f.rw, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	hdr := make([]byte, 6)
	if err := readFull(f.rw, hdr); err != nil {
		return nil, err
	}
	if hdr[0] != cmdData {
		return nil, palmerr.New(palmerr.Protocol, "netsync: unexpected cmd in frame header", nil)
	}
	length := binary.BigEndian.Uint32(hdr[2:6])
	buf := make([]byte, length)
	if err := readFull(f.rw, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write emits one NetSync frame carrying payload, bumping xid per call.
func (f *Framer) Write(payload []byte) error {
	f.xid++
	hdr := make([]byte, 6)
	hdr[0] = cmdData
	hdr[1] = f.xid
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(payload)))
	if _, err := f.rw.Write(hdr); err != nil {
		return palmerr.New(palmerr.System, "netsync: write header", err)
	}
	if _, err := f.rw.Write(payload); err != nil {
		return palmerr.New(palmerr.System, "netsync: write payload", err)
	}
	return nil
}

// DefaultReply1 and DefaultReply2 are the opaque ritual statement
// payloads a desktop acting as server sends back; their contents are
// not interpreted by either side, only their framing matters.
var (
	DefaultReply1 = []byte{
		0x12, 0x01,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x20,
		0x00, 0x00, 0x00, 0x24,
		0xff, 0xff, 0xff, 0xff,
		0x3c, 0x00, 0x3c, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0xc0, 0xa8, 0xa5, 0x1f,
		0x04, 0x27, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	DefaultReply2 = []byte{
		0x13, 0x01,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x20,
		0x00, 0x00, 0x00, 0x20,
		0xff, 0xff, 0xff, 0xff,
		0x00, 0x3c, 0x00, 0x3c,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
)

// Ritual performs the fixed accept-time handshake acting as server: read
// a greeting from the device (first message may be headerless on m50x
// devices, hence firstLenHint), then alternate writing and reading two
// more message pairs using the opaque statement payloads supplied by
// the caller: three reads and two writes in all.
func (f *Framer) Ritual(firstLenHint int, stmt2, stmt3 []byte) ([]byte, []byte, []byte, error) {
	if firstLenHint > 0 {
		f.HintNextLength(firstLenHint)
	}
	greeting, err := f.Read()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := f.Write(stmt2); err != nil {
		return nil, nil, nil, err
	}
	second, err := f.Read()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := f.Write(stmt3); err != nil {
		return nil, nil, nil, err
	}
	third, err := f.Read()
	if err != nil {
		return nil, nil, nil, err
	}
	return greeting, second, third, nil
}

// Package slp implements the Serial Link Protocol framing layer: the
// lowest-level byte-stream framing PADP and CMP sit on top of. It scans
// for the preamble, validates the header checksum and the CRC-16 over
// the whole frame, and silently drops anything that fails either check.
package slp

import (
	"encoding/binary"
	"io"

	"github.com/coldpalm/palmsync/crc16"
	"github.com/coldpalm/palmsync/palmerr"
)

var preamble = [3]byte{0xBE, 0xEF, 0xED}

// MaxBodySize is the largest SLP body the 16-bit size field can carry.
// Read allocates each body at the size its header states; Write refuses
// bodies longer than this.
const MaxBodySize = 64*1024 - 1

// Addr is a local or remote SLP endpoint: a protocol id and a port
// within that protocol's address space.
type Addr struct {
	Protocol byte
	Port     byte
}

// Packet is a single parsed SLP frame.
type Packet struct {
	Dst, Src byte
	Type     byte
	Xid      byte
	Body     []byte
}

// Framer owns the bound local address and the peer address learned from
// the first packet received. It is not safe for concurrent use; a
// Connection serializes access the same way the rest of the stack does.
type Framer struct {
	rw    io.ReadWriter
	Local Addr
	Peer  Addr
	// LastRecvXid is the xid most recently seen in a received packet.
	// PADP copies this into its own xid slot to emit ACKs with a
	// matching xid.
	LastRecvXid byte
	peerKnown   bool
}

func NewFramer(rw io.ReadWriter, local Addr) *Framer {
	return &Framer{rw: rw, Local: local}
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return palmerr.New(palmerr.Eof, "slp: short read", err)
		}
		return palmerr.New(palmerr.System, "slp: read", err)
	}
	return nil
}

// Read scans the stream for the next packet addressed to the framer's
// bound local address, verifying checksum and CRC along the way. Bad
// frames and misaddressed frames are silently discarded and scanning
// resumes; the only errors surfaced are I/O failures or EOF.
func (f *Framer) Read() (*Packet, error) {
	for {
		if err := f.syncToPreamble(); err != nil {
			return nil, err
		}
		hdr := make([]byte, 7)
		if err := readFull(f.rw, hdr); err != nil {
			return nil, err
		}
		full := append(append([]byte{}, preamble[:]...), hdr...)
		dst, src, typ := full[3], full[4], full[5]
		size := binary.BigEndian.Uint16(full[6:8])
		xid := full[8]
		hsum := full[9]

		if checksum9(full) != hsum {
			continue // bad header checksum: drop, resume scanning
		}
		if size > MaxBodySize {
			continue
		}
		body := make([]byte, size)
		if err := readFull(f.rw, body); err != nil {
			return nil, err
		}
		crcBytes := make([]byte, 2)
		if err := readFull(f.rw, crcBytes); err != nil {
			return nil, err
		}

		crc := crc16.Checksum(full)
		crc = crc16.Update(crc, body)
		crc = crc16.Update(crc, crcBytes)
		if crc != 0 {
			continue // bad CRC: drop, resume scanning
		}

		f.LastRecvXid = xid
		if !f.matchesLocal(typ, dst) {
			continue // not for us: consume and resume, no signal upward
		}
		if !f.peerKnown {
			f.Peer = Addr{Protocol: typ, Port: src}
			f.peerKnown = true
		}
		return &Packet{Dst: dst, Src: src, Type: typ, Xid: xid, Body: body}, nil
	}
}

func (f *Framer) matchesLocal(typ, dst byte) bool {
	return typ == f.Local.Protocol && dst == f.Local.Port
}

// checksum9 sums the preamble+header bytes (the 9 bytes preceding the
// checksum byte itself) modulo 256.
func checksum9(preambleAndHeader []byte) byte {
	var sum byte
	for _, b := range preambleAndHeader[:9] {
		sum += b
	}
	return sum
}

func (f *Framer) syncToPreamble() error {
	var window [3]byte
	b := make([]byte, 1)
	for {
		if _, err := f.rw.Read(b); err != nil {
			if err == io.EOF {
				return palmerr.New(palmerr.Eof, "slp: eof while scanning for preamble", err)
			}
			return palmerr.New(palmerr.System, "slp: read", err)
		}
		window[0], window[1], window[2] = window[1], window[2], b[0]
		if window == preamble {
			return nil
		}
	}
}

// Write emits one SLP frame: preamble, header with xid taken from PADP's
// current transaction id, body, and CRC-16 over everything preceding it.
func (f *Framer) Write(typ byte, xid byte, body []byte) error {
	if len(body) > MaxBodySize {
		return palmerr.New(palmerr.NoMem, "slp: body too large", nil)
	}
	// dst is the remote port we are addressing, src is our own; type is
	// taken from the local protocol.
	var hdr [6]byte
	hdr[0] = f.Peer.Port // dst
	hdr[1] = f.Local.Port
	hdr[2] = typ
	binary.BigEndian.PutUint16(hdr[3:5], uint16(len(body)))
	hdr[5] = xid
	full := append(append([]byte{}, preamble[:]...), hdr[:]...)
	full = append(full, 0) // placeholder for checksum byte
	full[len(full)-1] = checksum9(full)

	out := append([]byte{}, full...)
	out = append(out, body...)
	crc := crc16.Checksum(full)
	crc = crc16.Update(crc, body)
	out = append(out, byte(crc>>8), byte(crc))

	n, err := f.rw.Write(out)
	if err != nil {
		return palmerr.New(palmerr.System, "slp: write", err)
	}
	if n != len(out) {
		return palmerr.New(palmerr.System, "slp: short write", nil)
	}
	return nil
}

// Package padp implements the Packet Assembly/Disassembly Protocol: a
// reliable, ordered, fragmented message transport running over SLP.
package padp

import (
	"encoding/binary"
	"log"
	"time"

	"github.com/coldpalm/palmsync/palmerr"
	"github.com/coldpalm/palmsync/slp"
)

// Fragment types carried in a PADP fragment header.
const (
	TypeData   byte = 1
	TypeAck    byte = 2
	TypeTickle byte = 4
	TypeAbort  byte = 8
)

// Fragment flags.
const (
	FlagFirst    byte = 0x80
	FlagLast     byte = 0x40
	FlagErrNoMem byte = 0x20
	FlagLongHdr  byte = 0x10
)

const (
	// SLPType is the SLP protocol id PADP frames are sent/received under.
	SLPType = 2

	MaxFragment     = 1024
	MaxMessage      = 64 * 1024
	AckTimeout      = 2 * time.Second
	WaitTimeout     = 30 * time.Second
	MaxRetries      = 10
	xidSeed    byte = 0x01
)

// Transport is the subset of slp.Framer that padp needs: reading and
// writing SLP packets, with the xid passed explicitly on every Write.
type Transport interface {
	Read() (*slp.Packet, error)
	Write(typ byte, xid byte, body []byte) error
}

// Protocol drives reliable fragmented transport over an slp.Framer. Xid
// is the PADP transaction id slot, handed to SLP as Write's xid
// argument; padp.Ack copies the SLP layer's LastRecvXid into it before
// calling Write: the ACK borrows the xid of the fragment it acknowledges
// rather than minting its own.
type Protocol struct {
	t   Transport
	slp *slp.Framer // used only to read LastRecvXid for ACK xid borrowing
	Xid byte

	// pending holds a DATA fragment observed while waiting for an ACK
	// (the implicit-ACK policy from Send's doc comment), to be replayed
	// to the next Receive call instead of being lost.
	pending *slp.Packet

	Logger *log.Logger
}

func New(t Transport, f *slp.Framer) *Protocol {
	return &Protocol{t: t, slp: f, Xid: xidSeed}
}

func (p *Protocol) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// nextXid advances the xid, skipping the reserved 0x00 and 0xFF values.
// Incrementing past 0xFF wraps to 0x00, itself reserved, so the
// reserved branch assigns 1 directly rather than incrementing again,
// matching the original bump_xid.
func (p *Protocol) nextXid() byte {
	p.Xid++
	if p.Xid == 0x00 || p.Xid == 0xFF {
		p.Xid = 1
	}
	return p.Xid
}

// Send fragments msg into ≤1024-byte PADP fragments and reliably
// delivers it, retrying each fragment up to MaxRetries times on ACK
// timeout. A DATA fragment received while awaiting an ACK is treated as
// an implicit ACK: the send completes and the fragment is kept in
// p.pending, where the next Receive picks it up instead of losing it.
func (p *Protocol) Send(msg []byte) error {
	if len(msg) > MaxMessage {
		return palmerr.New(palmerr.NoMem, "padp: message too large", nil)
	}
	xid := p.nextXid()
	offset := 0
	first := true
	for {
		end := offset + MaxFragment
		last := false
		if end >= len(msg) {
			end = len(msg)
			last = true
		}
		chunk := msg[offset:end]

		flags := byte(0)
		var sizeField uint16
		if first {
			flags |= FlagFirst
			sizeField = uint16(len(msg))
		} else {
			sizeField = uint16(offset)
		}
		if last {
			flags |= FlagLast
		}

		frame := make([]byte, 4+len(chunk))
		frame[0] = TypeData
		frame[1] = flags
		binary.BigEndian.PutUint16(frame[2:4], sizeField)
		copy(frame[4:], chunk)

		if err := p.sendFragmentReliably(xid, frame, flags); err != nil {
			return err
		}

		if last {
			return nil
		}
		offset = end
		first = false
	}
}

func (p *Protocol) sendFragmentReliably(xid byte, frame []byte, sentFlags byte) error {
	for attempt := 0; attempt < MaxRetries; attempt++ {
		p.Xid = xid
		if err := p.t.Write(TypeData, xid, frame); err != nil {
			return err
		}
		ok, err := p.awaitAck(xid, sentFlags)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		p.logf("padp: ack timeout, retry %d/%d", attempt+1, MaxRetries)
	}
	return palmerr.New(palmerr.Timeout, "padp: ack retries exhausted", nil)
}

// awaitAck waits up to AckTimeout for a matching ACK. Tickles are
// consumed without counting against the retry budget; a DATA fragment is
// treated as an implicit ACK (see Send's doc comment) and causes awaitAck
// to report success without having actually observed an ACK frame.
func (p *Protocol) awaitAck(xid byte, sentFlags byte) (bool, error) {
	deadline := time.Now().Add(AckTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		pkt, err := p.readWithDeadline(deadline)
		if err != nil {
			if palmerr.KindOf(err) == palmerr.Timeout {
				return false, nil
			}
			return false, err
		}
		if pkt == nil {
			continue
		}
		switch pkt.Type {
		case TypeTickle:
			continue // doesn't consume a retry
		case TypeAbort:
			return false, palmerr.New(palmerr.Abort, "padp: abort received", nil)
		case TypeAck:
			if pkt.Xid != xid {
				continue
			}
			gotFlags := pkt.Body[1]
			if gotFlags != sentFlags {
				continue
			}
			return true, nil
		case TypeData:
			// Implicit ACK: the peer moved on to its response. Let the
			// caller's next Receive() pick this fragment up.
			p.pending = pkt
			return true, nil
		}
	}
}

func (p *Protocol) readWithDeadline(deadline time.Time) (*slp.Packet, error) {
	// The underlying transport enforces its own read timeout; here we
	// just bound how long we keep retrying reads against the deadline.
	if time.Now().After(deadline) {
		return nil, palmerr.New(palmerr.Timeout, "padp: deadline exceeded", nil)
	}
	return p.t.Read()
}

// Receive reassembles one logical PADP message, ACKing each fragment as
// it arrives. Tickles are discarded; an Abort fails the receive.
func (p *Protocol) Receive() ([]byte, error) {
	if p.pendingValid() {
		pkt := p.takePending()
		return p.receiveFrom(pkt)
	}
	deadline := time.Now().Add(WaitTimeout)
	pkt, err := p.readWithDeadline(deadline)
	if err != nil {
		return nil, err
	}
	for pkt.Type == TypeTickle {
		pkt, err = p.readWithDeadline(deadline)
		if err != nil {
			return nil, err
		}
	}
	return p.receiveFrom(pkt)
}

func (p *Protocol) receiveFrom(pkt *slp.Packet) ([]byte, error) {
	for pkt.Type == TypeTickle {
		var err error
		pkt, err = p.t.Read()
		if err != nil {
			return nil, err
		}
	}
	if pkt.Type == TypeAbort {
		return nil, palmerr.New(palmerr.Abort, "padp: abort received", nil)
	}
	if pkt.Type != TypeData {
		return nil, palmerr.New(palmerr.Protocol, "padp: expected data fragment", nil)
	}
	if len(pkt.Body) < 4 {
		return nil, palmerr.New(palmerr.Protocol, "padp: short fragment", nil)
	}
	flags := pkt.Body[1]
	sizeField := binary.BigEndian.Uint16(pkt.Body[2:4])
	payload := pkt.Body[4:]

	if flags&FlagFirst != 0 && flags&FlagLast != 0 {
		if err := p.ack(pkt); err != nil {
			return nil, err
		}
		return append([]byte{}, payload...), nil
	}

	if flags&FlagFirst == 0 {
		return nil, palmerr.New(palmerr.Protocol, "padp: message did not start with FIRST fragment", nil)
	}
	total := int(sizeField)
	if total > MaxMessage {
		if err := p.ackWithFlags(pkt, FlagErrNoMem); err != nil {
			return nil, err
		}
		return nil, palmerr.New(palmerr.NoMem, "padp: message too large to reassemble", nil)
	}
	buf := make([]byte, total)
	n := copy(buf, payload)
	if err := p.ack(pkt); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(WaitTimeout)
	for n < total {
		pkt, err := p.readWithDeadline(deadline)
		if err != nil {
			return nil, err
		}
		if pkt.Type == TypeTickle {
			continue
		}
		if pkt.Type == TypeAbort {
			return nil, palmerr.New(palmerr.Abort, "padp: abort received", nil)
		}
		if pkt.Type != TypeData || len(pkt.Body) < 4 {
			return nil, palmerr.New(palmerr.Protocol, "padp: expected continuation fragment", nil)
		}
		flags := pkt.Body[1]
		offset := int(binary.BigEndian.Uint16(pkt.Body[2:4]))
		if offset != n {
			return nil, palmerr.New(palmerr.Protocol, "padp: out-of-order fragment offset", nil)
		}
		frag := pkt.Body[4:]
		n += copy(buf[n:], frag)
		if err := p.ack(pkt); err != nil {
			return nil, err
		}
		if flags&FlagLast != 0 {
			break
		}
	}
	return buf, nil
}

// ack emits an ACK for pkt, echoing its flags and size field verbatim
// and copying the SLP layer's last-received xid into our own xid slot
// first so SLP writes the ACK with the matching xid.
func (p *Protocol) ack(pkt *slp.Packet) error {
	return p.ackWithFlags(pkt, pkt.Body[1])
}

func (p *Protocol) ackWithFlags(pkt *slp.Packet, flags byte) error {
	p.Xid = p.slp.LastRecvXid
	sizeField := pkt.Body[2:4]
	ackBody := make([]byte, 4)
	ackBody[0] = TypeAck
	ackBody[1] = flags
	copy(ackBody[2:4], sizeField)
	return p.t.Write(TypeAck, p.Xid, ackBody)
}

// pending/takePending/pendingValid implement the single-slot lookahead
// used by the implicit-ACK policy (see Send's doc comment).
func (p *Protocol) pendingValid() bool { return p.pending != nil }
func (p *Protocol) takePending() *slp.Packet {
	pkt := p.pending
	p.pending = nil
	return pkt
}

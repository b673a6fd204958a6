// Package cmp implements the Connection Management Protocol: the
// two-packet rate-negotiation handshake carried as PADP payloads at the
// start of a serial connection.
package cmp

import (
	"encoding/binary"

	"github.com/coldpalm/palmsync/palmerr"
)

// Packet types.
const (
	TypeWakeup byte = 1
	TypeInit   byte = 2
	TypeAbort  byte = 3
)

// Flags.
const FlagChangeRate byte = 0x80

// StandardRates is the descending probe order the protocol specifies for
// discovering the fastest rate a serial port will accept.
var StandardRates = []uint32{
	230400, 115200, 76800, 57600, 38400, 28800, 19200,
	14400, 9600, 7200, 4800, 2400, 1200,
}

// Packet is the 10-byte CMP wire structure.
type Packet struct {
	Type     byte
	Flags    byte
	VerMajor byte
	VerMinor byte
	Rate     uint32
}

func Decode(b []byte) (*Packet, error) {
	if len(b) < 10 {
		return nil, palmerr.New(palmerr.Protocol, "cmp: short packet", nil)
	}
	return &Packet{
		Type:     b[0],
		Flags:    b[1],
		VerMajor: b[2],
		VerMinor: b[3],
		Rate:     binary.BigEndian.Uint32(b[6:10]),
	}, nil
}

func (p *Packet) Encode() []byte {
	b := make([]byte, 10)
	b[0] = p.Type
	b[1] = p.Flags
	b[2] = p.VerMajor
	b[3] = p.VerMinor
	binary.BigEndian.PutUint32(b[6:10], p.Rate)
	return b
}

// Transport is the PADP message-level contract the handshake rides on.
type Transport interface {
	Send([]byte) error
	Receive() ([]byte, error)
}

// SpeedSetter changes the underlying transport's bit rate; USB
// implementations make this a no-op (USB devices do not support a rate change).
type SpeedSetter interface {
	Drain() error
	SetSpeed(rate uint32) error
}

// rateSupported reports whether rate appears in StandardRates.
func rateSupported(rate uint32) bool {
	for _, r := range StandardRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Accept runs the server side of the handshake: wait for a WAKEUP,
// choose a rate, and switch to it. preferredRate of 0 means "use
// whatever the device proposed."
func Accept(t Transport, s SpeedSetter, preferredRate uint32) (uint32, error) {
	var wakeup *Packet
	for {
		msg, err := t.Receive()
		if err != nil {
			// Read timeouts are ignored while waiting for WAKEUP;
			// any other error is fatal.
			if palmerr.KindOf(err) == palmerr.Timeout {
				continue
			}
			return 0, err
		}
		pkt, err := Decode(msg)
		if err != nil {
			continue
		}
		if pkt.Type == TypeWakeup {
			wakeup = pkt
			break
		}
	}

	chosen := wakeup.Rate
	if preferredRate != 0 && rateSupported(preferredRate) {
		chosen = preferredRate
	}

	flags := byte(0)
	if chosen != wakeup.Rate {
		flags = FlagChangeRate
	}
	initPkt := &Packet{
		Type:     TypeInit,
		Flags:    flags,
		VerMajor: 1,
		VerMinor: 1,
		Rate:     chosen,
	}
	if err := t.Send(initPkt.Encode()); err != nil {
		return 0, err
	}
	if err := s.Drain(); err != nil {
		return 0, err
	}
	if err := s.SetSpeed(chosen); err != nil {
		return 0, err
	}
	return chosen, nil
}

// Package dlp implements the Desktop Link Protocol: the RPC protocol the
// desktop uses to drive a connected device. This file is the codec
// (argument encoding/decoding); commands.go holds the typed command
// layer built on top of it.
package dlp

import (
	"encoding/binary"

	"github.com/coldpalm/palmsync/palmerr"
)

// Status codes returned in a DLP response header.
const (
	StatusNoErr              uint16 = 0x00
	StatusGeneralError       uint16 = 0x01
	StatusNotFound           uint16 = 0x04
	StatusNotEnoughSpace     uint16 = 0x0B
	StatusCancel             uint16 = 0x12
	StatusNotSupported       uint16 = 0x16
	StatusArgMissing         uint16 = 0x17
	StatusRecordBusy         uint16 = 0x0F
	StatusAlreadyExists      uint16 = 0x09
	StatusCantOpen           uint16 = 0x0A
	StatusPermissionDenied   uint16 = 0x0D
	StatusRecordDeleted      uint16 = 0x0E
	StatusNotStream          uint16 = 0x1A
)

// Transport is the message-level contract DLP rides on: either
// padp.Protocol or netsync.Framer, both of which exchange whole encoded
// DLP messages per call.
type Transport interface {
	Send([]byte) error
	Receive() ([]byte, error)
}

// Arg is one DLP argument: an id in 0..arg count and raw bytes. The
// wire-level size class (Tiny/Small/Long) is chosen automatically by
// encodeArg based on len(Data); decodeArg accepts all three classes and
// does not report which one a decoded argument arrived as.
type Arg struct {
	ID   int
	Data []byte
}

const (
	classTiny  = 0
	classSmall = 2 // top bits 10
	classLong  = 3 // top bits 11
)

func encodeArg(a Arg) []byte {
	size := len(a.Data)
	switch {
	case size <= 255:
		buf := make([]byte, 2+size)
		buf[0] = byte(a.ID) & 0x3F
		buf[1] = byte(size)
		copy(buf[2:], a.Data)
		return buf
	case size <= 65535:
		buf := make([]byte, 4+size)
		buf[0] = (byte(a.ID) & 0x3F) | 0x80
		buf[1] = 0 // pad
		binary.BigEndian.PutUint16(buf[2:4], uint16(size))
		copy(buf[4:], a.Data)
		return buf
	default:
		buf := make([]byte, 6+size)
		idField := uint16(a.ID&0x3FFF) | 0xC000
		binary.BigEndian.PutUint16(buf[0:2], idField)
		binary.BigEndian.PutUint32(buf[2:6], uint32(size))
		copy(buf[6:], a.Data)
		return buf
	}
}

// EncodeRequest builds a full DLP request message: header + each
// argument encoded by its size class.
func EncodeRequest(opcode byte, args []Arg) []byte {
	total := 2
	for _, a := range args {
		size := len(a.Data)
		switch {
		case size <= 255:
			total += 2 + size
		case size <= 65535:
			total += 4 + size
		default:
			total += 6 + size
		}
	}
	buf := make([]byte, 0, total)
	buf = append(buf, opcode, byte(len(args)))
	for _, a := range args {
		buf = append(buf, encodeArg(a)...)
	}
	return buf
}

// decodeArg parses one argument starting at b[0], returning the argument
// and the number of bytes consumed.
func decodeArg(b []byte) (Arg, int, error) {
	if len(b) < 1 {
		return Arg{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated argument", nil)
	}
	class := b[0] >> 6
	switch class {
	case classLong:
		if len(b) < 6 {
			return Arg{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated long argument header", nil)
		}
		id := int(binary.BigEndian.Uint16(b[0:2]) &^ 0xC000)
		size := int(binary.BigEndian.Uint32(b[2:6]))
		if len(b) < 6+size {
			return Arg{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated long argument data", nil)
		}
		return Arg{ID: id, Data: append([]byte{}, b[6:6+size]...)}, 6 + size, nil
	case classSmall:
		if len(b) < 4 {
			return Arg{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated small argument header", nil)
		}
		id := int(b[0] &^ 0xC0)
		size := int(binary.BigEndian.Uint16(b[2:4]))
		if len(b) < 4+size {
			return Arg{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated small argument data", nil)
		}
		return Arg{ID: id, Data: append([]byte{}, b[4:4+size]...)}, 4 + size, nil
	default: // Tiny: top bits 00 or 01 are both "not Small/Long" per the two-bit discriminator
		if len(b) < 2 {
			return Arg{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated tiny argument header", nil)
		}
		id := int(b[0] & 0x3F)
		size := int(b[1])
		if len(b) < 2+size {
			return Arg{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated tiny argument data", nil)
		}
		return Arg{ID: id, Data: append([]byte{}, b[2:2+size]...)}, 2 + size, nil
	}
}

// Response is a decoded DLP response: the request opcode it answers, the
// device's status, and the argument vector. DecodeResponse allocates a
// fresh argument vector for every response.
type Response struct {
	Opcode byte
	Status uint16
	Argv   []Arg
}

// DecodeResponse parses one response message and validates the opcode
// echo and status.
func DecodeResponse(msg []byte, requestOpcode byte) (*Response, error) {
	if len(msg) < 4 {
		return nil, palmerr.New(palmerr.Protocol, "dlp: short response header", nil)
	}
	respOpcode := msg[0]
	argc := int(msg[1])
	status := binary.BigEndian.Uint16(msg[2:4])

	if respOpcode&0x80 != 0x80 {
		return nil, palmerr.New(palmerr.BadId, "dlp: response missing high bit", nil)
	}
	if respOpcode&0x7F != requestOpcode {
		return nil, palmerr.New(palmerr.BadId, "dlp: response opcode mismatch", nil)
	}

	rest := msg[4:]
	argv := make([]Arg, 0, argc)
	for i := 0; i < argc; i++ {
		a, n, err := decodeArg(rest)
		if err != nil {
			return nil, err
		}
		argv = append(argv, a)
		rest = rest[n:]
	}

	resp := &Response{Opcode: respOpcode, Status: status, Argv: argv}
	if status != StatusNoErr {
		return resp, palmerr.NewStatus(status, "dlp: device returned error status")
	}
	return resp, nil
}

// Codec drives one request/response exchange over a Transport, enforcing
// the "no second request before the first's response" ordering invariant
// implicitly by being call-and-return rather than pipelined.
type Codec struct {
	t Transport
	// argv is a response-argument scratch slice that is grown (never
	// shrunk) across the session's lifetime; decoding does not read from
	// it, so it does not save any allocation.
	argv []Arg
}

func NewCodec(t Transport) *Codec {
	return &Codec{t: t}
}

// RawCall sends an already-encoded DLP request message verbatim and
// returns the raw, undecoded response message. It exists for callers
// that hold a pre-built request (the SPC side channel's "issue arbitrary
// DLP command bytes" operation forwards a conduit child's bytes this
// way) rather than an Arg vector.
func (c *Codec) RawCall(req []byte) ([]byte, error) {
	if err := c.t.Send(req); err != nil {
		return nil, err
	}
	return c.t.Receive()
}

// Call issues a DLP request and returns its decoded response. A non-nil
// *palmerr.Error with Kind == DlpStat is returned alongside a non-nil
// Response when the device answered but with a non-zero status, so
// callers that treat a particular status as non-fatal (e.g. NotFound)
// can still inspect Argv.
func (c *Codec) Call(opcode byte, args []Arg) (*Response, error) {
	req := EncodeRequest(opcode, args)
	if err := c.t.Send(req); err != nil {
		return nil, err
	}
	msg, err := c.t.Receive()
	if err != nil {
		return nil, err
	}
	resp, err := DecodeResponse(msg, opcode)
	if resp != nil && len(resp.Argv) > cap(c.argv) {
		grown := make([]Arg, len(resp.Argv), len(resp.Argv)*2)
		copy(grown, resp.Argv)
		c.argv = grown
	}
	return resp, err
}

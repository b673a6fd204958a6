package conduit

import (
	"encoding/binary"
	"time"

	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/palmerr"
)

// SPC opcodes: the operation space a conduit child may invoke against
// the live connection through its side channel.
const (
	SPCOpDLP        uint16 = 1 // payload is a whole encoded DLP request; forwarded verbatim
	SPCOpGetDBInfo  uint16 = 2 // no payload; returns the database this conduit was invoked for
	SPCOpReadPref   uint16 = 3 // payload: creator(4) id(2) saved(1)
	SPCOpWritePref  uint16 = 4 // payload: creator(4) id(2) saved(1) version(2) data...
)

// SPC status codes echoed in the response header.
const (
	SPCStatusOK         uint16 = 0
	SPCStatusBadOp      uint16 = 1
	SPCStatusBadArgs    uint16 = 2
	SPCStatusNoDB       uint16 = 3
	SPCStatusNotFound   uint16 = 4
	SPCStatusExecFailed uint16 = 5
)

// spcHeaderLen is the fixed 8-byte SPC request/response header:
// (op:u16, status:u16, len:u32), all big-endian.
const spcHeaderLen = 8

// spcRequest is one decoded request from a conduit's side channel.
type spcRequest struct {
	Op      uint16
	Payload []byte
}

// spcResponse is what the dispatcher writes back.
type spcResponse struct {
	Status  uint16
	Payload []byte
}

func decodeSPCHeader(b []byte) (op uint16, status uint16, length uint32) {
	op = binary.BigEndian.Uint16(b[0:2])
	status = binary.BigEndian.Uint16(b[2:4])
	length = binary.BigEndian.Uint32(b[4:8])
	return
}

func encodeSPCResponse(op uint16, resp spcResponse) []byte {
	buf := make([]byte, spcHeaderLen+len(resp.Payload))
	binary.BigEndian.PutUint16(buf[0:2], op)
	binary.BigEndian.PutUint16(buf[2:4], resp.Status)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(resp.Payload)))
	copy(buf[spcHeaderLen:], resp.Payload)
	return buf
}

// encodeDBInfo renders a dlp.DBInfo as a fixed 60-byte big-endian
// record: the name NUL-padded to 32 bytes, then flags, type, creator,
// version, modification number, and the creation, modification and
// backup times in Palm-epoch seconds. This is not the field order of the
// DLP ReadDBList reply.
func encodeDBInfo(d dlp.DBInfo) []byte {
	buf := make([]byte, 60)
	copy(buf[0:], d.Name)
	off := 32
	binary.BigEndian.PutUint16(buf[off:], d.Flags)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], d.Type)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], d.Creator)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], d.Version)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], d.ModNumber)
	off += 4
	putPalmTime(buf[off:], d.CTime)
	off += 4
	putPalmTime(buf[off:], d.MTime)
	off += 4
	putPalmTime(buf[off:], d.BakTime)
	return buf
}

func putPalmTime(b []byte, t time.Time) {
	const palmEpochOffset = 2082844800 // seconds from 1904-01-01 to 1970-01-01
	var sec uint32
	if !t.IsZero() {
		sec = uint32(t.Unix() + palmEpochOffset)
	}
	binary.BigEndian.PutUint32(b, sec)
}

// handleSPC executes one decoded SPC request against the live
// connection and returns the response to queue for write.
func handleSPC(ctx RunContext, req spcRequest) spcResponse {
	switch req.Op {
	case SPCOpDLP:
		if ctx.Executor == nil {
			return spcResponse{Status: SPCStatusExecFailed}
		}
		raw, err := ctx.Executor.RawCall(req.Payload)
		if err != nil && palmerr.KindOf(err) != palmerr.DlpStat {
			return spcResponse{Status: SPCStatusExecFailed}
		}
		return spcResponse{Status: SPCStatusOK, Payload: raw}

	case SPCOpGetDBInfo:
		if !ctx.HasDB {
			return spcResponse{Status: SPCStatusNoDB}
		}
		return spcResponse{Status: SPCStatusOK, Payload: encodeDBInfo(ctx.DB)}

	case SPCOpReadPref:
		if len(req.Payload) < 7 || ctx.Prefs == nil {
			return spcResponse{Status: SPCStatusBadArgs}
		}
		creator := binary.BigEndian.Uint32(req.Payload[0:4])
		id := binary.BigEndian.Uint16(req.Payload[4:6])
		_, data, ok := ctx.Prefs(creator, id)
		if !ok {
			return spcResponse{Status: SPCStatusNotFound}
		}
		return spcResponse{Status: SPCStatusOK, Payload: data}

	case SPCOpWritePref:
		if len(req.Payload) < 9 || ctx.WritePref == nil {
			return spcResponse{Status: SPCStatusBadArgs}
		}
		creator := binary.BigEndian.Uint32(req.Payload[0:4])
		id := binary.BigEndian.Uint16(req.Payload[4:6])
		saved := req.Payload[6] != 0
		version := binary.BigEndian.Uint16(req.Payload[7:9])
		data := req.Payload[9:]
		if err := ctx.WritePref(creator, id, version, saved, data); err != nil {
			return spcResponse{Status: SPCStatusExecFailed}
		}
		return spcResponse{Status: SPCStatusOK}

	default:
		return spcResponse{Status: SPCStatusBadOp}
	}
}

package dlp

import (
	"bytes"
	"testing"

	"github.com/coldpalm/palmsync/palmerr"
)

// scriptedTransport answers each Send with the next canned response in
// order, letting command-layer tests stay independent of padp/netsync.
type scriptedTransport struct {
	sent      [][]byte
	responses [][]byte
}

func (s *scriptedTransport) Send(b []byte) error {
	s.sent = append(s.sent, append([]byte{}, b...))
	return nil
}

func (s *scriptedTransport) Receive() ([]byte, error) {
	if len(s.responses) == 0 {
		return nil, palmerr.New(palmerr.Eof, "no more scripted responses", nil)
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func mkResponse(opcode byte, status uint16, args []Arg) []byte {
	buf := append([]byte{opcode | 0x80, byte(len(args))}, u16(status)...)
	for _, a := range args {
		buf = append(buf, encodeArg(a)...)
	}
	return buf
}

func TestReadSysInfoDecodesVersionAndProductID(t *testing.T) {
	romInfo := append(u32(0x03003000), u32(0)...) // rom version, locale
	dlpVer := append(u16(1), u16(4)...)
	dlpVer = append(dlpVer, []byte("m500")...)
	st := &scriptedTransport{responses: [][]byte{
		mkResponse(opReadSysInfo, StatusNoErr, []Arg{
			{ID: 0, Data: romInfo},
			{ID: 1, Data: dlpVer},
		}),
	}}
	cl := NewClient(NewCodec(st))
	si, err := cl.ReadSysInfo()
	if err != nil {
		t.Fatalf("ReadSysInfo: %v", err)
	}
	if si.ROMVersion != 0x03003000 {
		t.Errorf("ROMVersion = %#x", si.ROMVersion)
	}
	if si.DLPMajor != 1 || si.DLPMinor != 4 {
		t.Errorf("DLP version = %d.%d", si.DLPMajor, si.DLPMinor)
	}
	if si.ProductID != "m500" {
		t.Errorf("ProductID = %q", si.ProductID)
	}
}

func TestReadDBListStopsOnZeroLengthBatchEvenIfMoreFlagSet(t *testing.T) {
	// more=true but no dbinfo arg at all must still terminate the
	// caller's loop.
	st := &scriptedTransport{responses: [][]byte{
		mkResponse(opReadDBList, StatusNoErr, []Arg{
			{ID: 0, Data: []byte{0, 5, 1}}, // lastIndex=5, more=true
		}),
	}}
	cl := NewClient(NewCodec(st))
	last, more, dbs, err := cl.ReadDBList(DBListRAM, 0, 0)
	if err != nil {
		t.Fatalf("ReadDBList: %v", err)
	}
	if more {
		t.Error("more should be forced false on an empty batch")
	}
	if len(dbs) != 0 {
		t.Errorf("expected no dbs, got %d", len(dbs))
	}
	if last != 5 {
		t.Errorf("lastIndex = %d, want 5", last)
	}
}

func TestReadDBListNotFoundIsTreatedAsEndOfList(t *testing.T) {
	st := &scriptedTransport{responses: [][]byte{
		mkResponse(opReadDBList, StatusNotFound, nil),
	}}
	cl := NewClient(NewCodec(st))
	_, more, dbs, err := cl.ReadDBList(DBListRAM, 0, 10)
	if err != nil {
		t.Fatalf("ReadDBList: %v", err)
	}
	if more || dbs != nil {
		t.Errorf("expected clean end-of-list, got more=%v dbs=%v", more, dbs)
	}
}

func TestOpenCloseDBRoundTrip(t *testing.T) {
	st := &scriptedTransport{responses: [][]byte{
		mkResponse(opOpenDB, StatusNoErr, []Arg{{ID: 0, Data: []byte{7}}}),
		mkResponse(opCloseDB, StatusNoErr, nil),
	}}
	cl := NewClient(NewCodec(st))
	handle, err := cl.OpenDB(0, "MemoDB", ModeRead|ModeWrite)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if handle != 7 {
		t.Fatalf("handle = %d, want 7", handle)
	}
	if err := cl.CloseDB(handle); err != nil {
		t.Fatalf("CloseDB: %v", err)
	}
	if !bytes.Contains(st.sent[0], []byte("MemoDB")) {
		t.Error("OpenDB request did not carry the database name")
	}
}

func TestReadAppPreferenceTwoPassProtocol(t *testing.T) {
	st := &scriptedTransport{responses: [][]byte{
		// probe: bufLen=0, device reports true size
		mkResponse(opReadAppPreference, StatusNoErr, []Arg{
			{ID: 0, Data: append(append(u16(1), u16(4)...), []byte{0, 0}...)},
		}),
		// full fetch
		mkResponse(opReadAppPreference, StatusNoErr, []Arg{
			{ID: 0, Data: append(append(append(u16(1), u16(4)...), []byte{0, 0}...), []byte("abcd")...)},
		}),
	}}
	cl := NewClient(NewCodec(st))
	ver, data, err := cl.ReadAppPreference(0x4D656D6F, 0, false)
	if err != nil {
		t.Fatalf("ReadAppPreference: %v", err)
	}
	if ver != 1 {
		t.Errorf("version = %d, want 1", ver)
	}
	if string(data) != "abcd" {
		t.Errorf("data = %q, want abcd", data)
	}
	if len(st.sent) != 2 {
		t.Fatalf("expected two requests (probe + fetch), got %d", len(st.sent))
	}
}

func TestProcessRPCReversesParamsOnTheWireAndBack(t *testing.T) {
	// Params declared in natural order [A (by-value, 2 bytes), B (by-ref,
	// 4 bytes)]; the wire must carry them reversed as [B, A], and results
	// must come back un-reversed into declared order.
	respBody := append(u16(2), append(u32(0), u32(0)...)...) // argc=2, d0=0, a0=0
	respBody = append(respBody, rpcEncodeParam(RPCParam{ByRef: true, Data: []byte("refd")})...)
	respBody = append(respBody, rpcEncodeParam(RPCParam{ByRef: false, Size: 2, Data: u16(42)})...)
	st := &scriptedTransport{responses: [][]byte{
		mkResponse(opProcessRPC, StatusNoErr, []Arg{{ID: 0, Data: respBody}}),
	}}
	cl := NewClient(NewCodec(st))
	declOrder := []RPCParam{
		{ByRef: false, Size: 2, Data: u16(42)}, // A
		{ByRef: true, Data: make([]byte, 4)},   // B
	}
	_, _, results, err := cl.ProcessRPC(0xA09F, 0, 0, declOrder)
	if err != nil {
		t.Fatalf("ProcessRPC: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if string(results[1].Data) != "refd" {
		t.Errorf("B (by-ref, declared index 1) = %q, want refd", results[1].Data)
	}

	// Inspect the actual wire bytes: the first encoded param in the
	// request body must be B (by-ref), not A, confirming the reversal.
	sentArg, _, err := decodeArg(st.sent[0][2:])
	if err != nil {
		t.Fatalf("decodeArg on RPC request body: %v", err)
	}
	// sentArg.Data = sub_op(1) + pad(1) + trap(2) + d0(4) + a0(4) + argc(2) + params...
	firstParamByRefFlag := sentArg.Data[14]
	if firstParamByRefFlag != 1 {
		t.Errorf("first param on the wire should be B (by-ref); got flag %d", firstParamByRefFlag)
	}
}

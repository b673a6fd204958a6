package dlp

import (
	"encoding/binary"

	"github.com/coldpalm/palmsync/palmerr"
)

const rpcSubOp byte = 0x0a

// RPCParam is one argument to a ProcessRPC call: by_ref params are read
// back from device memory after the call (the ROM's MemMove convention);
// by-value params simply carry their bytes both ways.
type RPCParam struct {
	ByRef bool
	Size  byte
	Data  []byte
}

func rpcEncodeParam(p RPCParam) []byte {
	byRef := byte(0)
	if p.ByRef {
		byRef = 1
	}
	buf := []byte{byRef, p.Size}
	buf = append(buf, p.Data...)
	if len(buf)%2 != 0 {
		buf = append(buf, 0) // pad-to-even
	}
	return buf
}

func rpcDecodeParam(b []byte, size int) (RPCParam, int, error) {
	if len(b) < 2 {
		return RPCParam{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated RPC param header", nil)
	}
	byRef := b[0] != 0
	sz := b[1]
	n := 2 + size
	if len(b) < n {
		return RPCParam{}, 0, palmerr.New(palmerr.Protocol, "dlp: truncated RPC param data", nil)
	}
	data := append([]byte{}, b[2:2+size]...)
	consumed := n
	if consumed%2 != 0 {
		consumed++
	}
	return RPCParam{ByRef: byRef, Size: sz, Data: data}, consumed, nil
}

// ProcessRPC invokes ROM trap selector trap, passing params and the
// untyped D0/A0 68k register seeds the trap ABI exposes, and returns the
// decoded D0/A0 results plus the (possibly mutated, for by-ref params)
// parameter list.
//
// Params are transmitted on the wire in the REVERSE of their natural
// declaration order — callers pass declOrder and this method does the
// reversal itself; it is not a bug to "fix" by removing.
func (c *Client) ProcessRPC(trap uint16, d0, a0 uint32, declOrder []RPCParam) (newD0, newA0 uint32, results []RPCParam, err error) {
	wireOrder := make([]RPCParam, len(declOrder))
	for i, p := range declOrder {
		wireOrder[len(declOrder)-1-i] = p
	}

	body := make([]byte, 0, 16)
	body = append(body, rpcSubOp, 0)
	body = append(body, u16(trap)...)
	body = append(body, u32(d0)...)
	body = append(body, u32(a0)...)
	body = append(body, u16(uint16(len(wireOrder)))...)
	// sizes recorded alongside each param so the response, which echoes
	// the same param sizes, can be decoded without guessing lengths.
	wireSizes := make([]int, len(wireOrder))
	for i, p := range wireOrder {
		wireSizes[i] = len(p.Data)
		body = append(body, rpcEncodeParam(p)...)
	}

	resp, callErr := c.Codec.Call(opProcessRPC, []Arg{{ID: 0, Data: body}})
	if callErr != nil {
		return 0, 0, nil, palmerr.New(palmerr.Protocol, "dlp: ProcessRPC failed", callErr)
	}

	var respBody []byte
	for _, a := range resp.Argv {
		if a.ID == 0 {
			respBody = a.Data
		}
	}
	if len(respBody) < 10 {
		return 0, 0, nil, palmerr.New(palmerr.Protocol, "dlp: ProcessRPC short response", nil)
	}
	newD0 = binary.BigEndian.Uint32(respBody[2:6])
	newA0 = binary.BigEndian.Uint32(respBody[6:10])
	argc := int(binary.BigEndian.Uint16(respBody[0:2]))
	rest := respBody[10:]
	wireResults := make([]RPCParam, 0, argc)
	for i := 0; i < argc && i < len(wireSizes); i++ {
		p, n, derr := rpcDecodeParam(rest, wireSizes[i])
		if derr != nil {
			return 0, 0, nil, derr
		}
		wireResults = append(wireResults, p)
		rest = rest[n:]
	}

	results = make([]RPCParam, len(wireResults))
	for i, p := range wireResults {
		results[len(wireResults)-1-i] = p
	}
	return newD0, newA0, results, nil
}

// Well-known trap selectors used to read the device's ROM serial number:
// DmGetROMToken resolves the named 'snum' token to a (pointer, length)
// pair living in device memory, and MemMove copies length bytes out of
// it.
const (
	trapDmGetROMToken uint16 = 0xA06E
	trapMemMove       uint16 = 0xA026
)

// romTokenSnum is the four-byte ROM token tag naming the serial number
// blob in device memory.
var romTokenSnum = [4]byte{'s', 'n', 'u', 'm'}

// ReadROMSerial performs the two-RPC sequence the original desktop tool
// uses to recover the serial number of a ROM 3.0 or later: look up the 'snum'
// token to get its device-memory pointer and length, then MemMove that
// many bytes out. Interpreting the result (alias substitution, check
// character) is the palm package's job; this call only returns raw
// bytes, or an empty slice if the device reports no such token.
func (c *Client) ReadROMSerial(cardNo uint16) ([]byte, error) {
	tokenParam := RPCParam{ByRef: false, Size: 4, Data: append([]byte{}, romTokenSnum[:]...)}
	ptrOut := RPCParam{ByRef: true, Size: 4, Data: make([]byte, 4)}
	lenOut := RPCParam{ByRef: true, Size: 2, Data: make([]byte, 2)}
	cardParam := RPCParam{ByRef: false, Size: 2, Data: u16(cardNo)}

	_, _, results, err := c.ProcessRPC(trapDmGetROMToken, 0, 0, []RPCParam{cardParam, tokenParam, ptrOut, lenOut})
	if err != nil {
		return nil, palmerr.New(palmerr.Protocol, "dlp: DmGetROMToken RPC failed", err)
	}
	if len(results) < 4 {
		return nil, palmerr.New(palmerr.Protocol, "dlp: DmGetROMToken short result", nil)
	}
	ptr := binary.BigEndian.Uint32(results[2].Data)
	length := binary.BigEndian.Uint16(results[3].Data)
	if ptr == 0 || length == 0 {
		return nil, nil
	}

	dest := RPCParam{ByRef: true, Size: byte(length), Data: make([]byte, length)}
	src := RPCParam{ByRef: false, Size: 4, Data: u32(ptr)}
	size := RPCParam{ByRef: false, Size: 4, Data: u32(uint32(length))}
	_, _, moveResults, err := c.ProcessRPC(trapMemMove, 0, 0, []RPCParam{dest, src, size})
	if err != nil {
		return nil, palmerr.New(palmerr.Protocol, "dlp: MemMove RPC failed", err)
	}
	if len(moveResults) == 0 {
		return nil, palmerr.New(palmerr.Protocol, "dlp: MemMove short result", nil)
	}
	return moveResults[0].Data, nil
}

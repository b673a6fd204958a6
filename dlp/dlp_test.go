package dlp

import (
	"bytes"
	"testing"
)

func TestArgRoundTripAcrossSizeClasses(t *testing.T) {
	cases := []struct {
		name string
		size int
	}{
		{"tiny", 10},
		{"tiny-boundary", 255},
		{"small-boundary-low", 256},
		{"small-boundary-high", 65535},
		{"long", 65536 + 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data := bytes.Repeat([]byte{0xAB}, c.size)
			enc := encodeArg(Arg{ID: 5, Data: data})
			got, n, err := decodeArg(enc)
			if err != nil {
				t.Fatalf("decodeArg: %v", err)
			}
			if n != len(enc) {
				t.Errorf("consumed %d bytes, want %d", n, len(enc))
			}
			if got.ID != 5 {
				t.Errorf("ID = %d, want 5", got.ID)
			}
			if !bytes.Equal(got.Data, data) {
				t.Errorf("Data length = %d, want %d", len(got.Data), len(data))
			}
		})
	}
}

func TestEncodeRequestDecodeResponseRoundTrip(t *testing.T) {
	req := EncodeRequest(0x1F, []Arg{{ID: 0, Data: []byte("hello")}})
	if req[0] != 0x1F || req[1] != 1 {
		t.Fatalf("bad request header: %x", req[:2])
	}

	resp := append([]byte{0x1F | 0x80, 1, 0x00, 0x00}, encodeArg(Arg{ID: 0, Data: []byte("world")})...)
	r, err := DecodeResponse(resp, 0x1F)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if r.Status != StatusNoErr {
		t.Errorf("Status = %#x, want 0", r.Status)
	}
	if len(r.Argv) != 1 || string(r.Argv[0].Data) != "world" {
		t.Fatalf("Argv = %+v", r.Argv)
	}
}

func TestDecodeResponseRejectsMismatchedOpcode(t *testing.T) {
	resp := []byte{0x20 | 0x80, 0, 0x00, 0x00}
	_, err := DecodeResponse(resp, 0x1F)
	if err == nil {
		t.Fatal("expected opcode mismatch error")
	}
}

func TestDecodeResponseRejectsMissingHighBit(t *testing.T) {
	resp := []byte{0x1F, 0, 0x00, 0x00}
	_, err := DecodeResponse(resp, 0x1F)
	if err == nil {
		t.Fatal("expected missing-high-bit error")
	}
}

func TestDecodeResponseSurfacesNonZeroStatus(t *testing.T) {
	resp := []byte{0x1F | 0x80, 0, 0x00, 0x12} // CANCEL
	r, err := DecodeResponse(resp, 0x1F)
	if err == nil {
		t.Fatal("expected error for non-zero status")
	}
	if r.Status != StatusCancel {
		t.Errorf("Status = %#x, want StatusCancel", r.Status)
	}
}

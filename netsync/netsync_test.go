package netsync

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// fakeRW is a scripted io.ReadWriter: Read drains a queue of canned byte
// slices one at a time, and Write appends everything it's given to sent
// for later inspection.
type fakeRW struct {
	queue [][]byte
	sent  []byte
}

func (f *fakeRW) Read(p []byte) (int, error) {
	for len(f.queue) > 0 && len(f.queue[0]) == 0 {
		f.queue = f.queue[1:]
	}
	if len(f.queue) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.queue[0])
	f.queue[0] = f.queue[0][n:]
	return n, nil
}

func (f *fakeRW) Write(p []byte) (int, error) {
	f.sent = append(f.sent, p...)
	return len(p), nil
}

func frame(payload []byte) []byte {
	hdr := make([]byte, 6)
	hdr[0] = cmdData
	hdr[1] = 0
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(payload)))
	return append(hdr, payload...)
}

func TestReadWriteRoundTrip(t *testing.T) {
	rw := &fakeRW{}
	f := NewFramer(rw)

	payload := []byte("dlp request bytes")
	if err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rw.sent[0] != cmdData {
		t.Errorf("expected cmd byte %d, got %d", cmdData, rw.sent[0])
	}
	if got := binary.BigEndian.Uint32(rw.sent[2:6]); got != uint32(len(payload)) {
		t.Errorf("header length = %d, want %d", got, len(payload))
	}
	if !bytes.Equal(rw.sent[6:], payload) {
		t.Errorf("written payload mismatch")
	}

	rw2 := &fakeRW{queue: [][]byte{frame(payload)}}
	f2 := NewFramer(rw2)
	got, err := f2.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Read = %q, want %q", got, payload)
	}
}

func TestWriteBumpsXid(t *testing.T) {
	rw := &fakeRW{}
	f := NewFramer(rw)
	f.Write([]byte("a"))
	first := rw.sent[1]
	rw.sent = nil
	f.Write([]byte("b"))
	second := rw.sent[1]
	if second != first+1 {
		t.Errorf("xid did not bump: %d -> %d", first, second)
	}
}

func TestHintNextLengthSkipsHeader(t *testing.T) {
	rw := &fakeRW{queue: [][]byte{[]byte("headerless")}}
	f := NewFramer(rw)
	f.HintNextLength(len("headerless"))
	got, err := f.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "headerless" {
		t.Errorf("Read = %q, want %q", got, "headerless")
	}
}

func TestRitualExchangesThreePairs(t *testing.T) {
	greeting := []byte("greeting")
	second := []byte("stmt2-response")
	third := []byte("stmt3-response")
	rw := &fakeRW{queue: [][]byte{frame(greeting), frame(second), frame(third)}}
	f := NewFramer(rw)

	gotGreeting, gotSecond, gotThird, err := f.Ritual(0, DefaultReply1, DefaultReply2)
	if err != nil {
		t.Fatalf("Ritual: %v", err)
	}
	if !bytes.Equal(gotGreeting, greeting) {
		t.Errorf("greeting = %q, want %q", gotGreeting, greeting)
	}
	if !bytes.Equal(gotSecond, second) {
		t.Errorf("second = %q, want %q", gotSecond, second)
	}
	if !bytes.Equal(gotThird, third) {
		t.Errorf("third = %q, want %q", gotThird, third)
	}

	// The two outbound statements should be the opaque payloads passed in.
	if !bytes.Contains(rw.sent, DefaultReply1) {
		t.Error("expected DefaultReply1 bytes on the wire")
	}
	if !bytes.Contains(rw.sent, DefaultReply2) {
		t.Error("expected DefaultReply2 bytes on the wire")
	}
}

func TestRitualHonorsFirstLenHint(t *testing.T) {
	greeting := []byte("headerless-greeting")
	rw := &fakeRW{queue: [][]byte{greeting, frame([]byte("s2")), frame([]byte("s3"))}}
	f := NewFramer(rw)

	gotGreeting, _, _, err := f.Ritual(len(greeting), DefaultReply1, DefaultReply2)
	if err != nil {
		t.Fatalf("Ritual: %v", err)
	}
	if !bytes.Equal(gotGreeting, greeting) {
		t.Errorf("greeting = %q, want %q", gotGreeting, greeting)
	}
}

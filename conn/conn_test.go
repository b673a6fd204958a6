package conn

import (
	"encoding/binary"
	"testing"
)

// fakeTransport is a scripted Transport backed by an in-memory byte
// queue, letting Accept's NetSync ritual be exercised without a real
// device on the other end.
type fakeTransport struct {
	queue [][]byte
	sent  []byte
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	for len(f.queue) > 0 && len(f.queue[0]) == 0 {
		f.queue = f.queue[1:]
	}
	if len(f.queue) == 0 {
		return 0, errEOF{}
	}
	n := copy(p, f.queue[0])
	f.queue[0] = f.queue[0][n:]
	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.sent = append(f.sent, p...)
	return len(p), nil
}

func (f *fakeTransport) Drain() error             { return nil }
func (f *fakeTransport) SetSpeed(rate uint32) error { return nil }
func (f *fakeTransport) Close() error             { return nil }

type errEOF struct{}

func (errEOF) Error() string { return "EOF" }

func frame(payload []byte) []byte {
	hdr := make([]byte, 6)
	hdr[0] = 1
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(payload)))
	return append(hdr, payload...)
}

func TestAcceptNetRunsRitual(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		frame([]byte("greeting")),
		frame([]byte("stmt2-resp")),
		frame([]byte("stmt3-resp")),
	}}
	c := NewNet(ft)

	if err := c.Accept(0); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(ft.sent) == 0 {
		t.Fatal("expected Accept to write the ritual statements to the transport")
	}
}

func TestAcceptFullRunsCMP(t *testing.T) {
	// A Full connection with no bytes queued should fail fast inside CMP
	// rather than hang, confirming Accept actually dispatches to CMP for
	// ModeFull instead of silently succeeding like ModeNet once did.
	ft := &fakeTransport{}
	c := NewFull(ft, DefaultLocalAddr)
	if err := c.Accept(0); err == nil {
		t.Error("expected an error when no CMP bytes are available")
	}
}

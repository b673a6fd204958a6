package transport

import (
	"strings"
	"syscall"
	"time"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	"github.com/daedaluz/fdev/poll"

	"github.com/coldpalm/palmsync/cmp"
	"github.com/coldpalm/palmsync/palmerr"
)

// termios2 mirrors struct termios2 from <asm-generic/termbits.h>; it
// carries explicit ISpeed/OSpeed fields so arbitrary baud rates can be
// set without going through the fixed Bxxx constant table, the same
// technique Daedaluz-goserial uses via TCSETS2/TCGETS2.
type termios2 struct {
	Iflag, Oflag, Cflag, Lflag uint32
	Line                       byte
	Cc                         [19]byte
	ISpeed, OSpeed             uint32
}

const (
	cs8    = 0000060
	cread  = 0000200
	clocal = 0004000
	bother = 0010000
)

var (
	tcgets2 = ioctl.IOR('T', 0x2A, unsafe.Sizeof(termios2{}))
	tcsets2 = ioctl.IOW('T', 0x2B, unsafe.Sizeof(termios2{}))
)

// Serial is a termios-backed tty transport for classic serial cradles.
type Serial struct {
	fd int
}

// OpenSerial opens path in raw 8-N-1 mode at the slowest rate in
// cmp.StandardRates (1200 bps). It does not probe for the highest rate
// the port accepts.
func OpenSerial(path string) (*Serial, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, palmerr.New(palmerr.System, "transport: open "+path, err)
	}
	s := &Serial{fd: fd}
	if err := s.makeRaw(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.SetSpeed(cmp.StandardRates[len(cmp.StandardRates)-1]); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Serial) getAttr() (*termios2, error) {
	var t termios2
	if err := ioctl.Ioctl(uintptr(s.fd), tcgets2, uintptr(unsafe.Pointer(&t))); err != nil {
		return nil, palmerr.New(palmerr.System, "transport: TCGETS2", err)
	}
	return &t, nil
}

func (s *Serial) setAttr(t *termios2) error {
	if err := ioctl.Ioctl(uintptr(s.fd), tcsets2, uintptr(unsafe.Pointer(t))); err != nil {
		return palmerr.New(palmerr.System, "transport: TCSETS2", err)
	}
	return nil
}

func (s *Serial) makeRaw() error {
	t, err := s.getAttr()
	if err != nil {
		return err
	}
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.Cflag = cs8 | cread | clocal
	return s.setAttr(t)
}

// SetSpeed sets both input and output baud rate via the custom-speed
// path (BOTHER + explicit ISpeed/OSpeed) so non-standard rates work the
// same as the values in cmp.StandardRates, then sleeps briefly to let
// the UART settle before further traffic.
func (s *Serial) SetSpeed(rate uint32) error {
	t, err := s.getAttr()
	if err != nil {
		return err
	}
	t.Cflag = (t.Cflag &^ 0010017) | bother
	t.ISpeed = rate
	t.OSpeed = rate
	if err := s.setAttr(t); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	return nil
}

func (s *Serial) Read(buf []byte) (int, error) {
	n, err := syscall.Read(s.fd, buf)
	if err != nil {
		return n, palmerr.New(palmerr.System, "transport: serial read", err)
	}
	if n == 0 {
		return 0, palmerr.New(palmerr.Eof, "transport: serial eof", nil)
	}
	return n, nil
}

func (s *Serial) Write(buf []byte) (int, error) {
	n, err := syscall.Write(s.fd, buf)
	if err != nil {
		return n, palmerr.New(palmerr.System, "transport: serial write", err)
	}
	return n, nil
}

// Drain waits for all written data to be transmitted (TCSBRK with a
// nonzero argument is the Linux idiom for tcdrain, matching goserial).
func (s *Serial) Drain() error {
	if err := ioctl.Ioctl(uintptr(s.fd), uintptr(0x5409), 1); err != nil {
		return palmerr.New(palmerr.System, "transport: drain", err)
	}
	return nil
}

// Select blocks until the fd is readable or timeout elapses, surfacing
// palmerr.Timeout rather than a bare syscall error on expiry so upper
// layers (CMP's accept loop, PADP's fragment wait) can branch on Kind.
func (s *Serial) Select(timeout time.Duration) error {
	if err := poll.WaitInput(s.fd, timeout); err != nil {
		// fdev/poll reports an expired wait as an error whose text names
		// the timeout rather than a typed sentinel; match on that rather
		// than assuming a specific error value.
		if strings.Contains(strings.ToLower(err.Error()), "timeout") || strings.Contains(strings.ToLower(err.Error()), "timed out") {
			return palmerr.New(palmerr.Timeout, "transport: select timeout", err)
		}
		return palmerr.New(palmerr.System, "transport: select", err)
	}
	return nil
}

func (s *Serial) Close() error {
	if err := syscall.Close(s.fd); err != nil {
		return palmerr.New(palmerr.System, "transport: close", err)
	}
	return nil
}

package conduit

import (
	"bufio"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/coldpalm/palmsync/palmerr"
)

// spcExtraFileFD is the fd number a conduit sees its SPC end of the
// socketpair at: os/exec assigns ExtraFiles starting at fd 3, and this
// dispatcher only ever passes the one.
const spcExtraFileFD = 3

// RunConduit forks path, streams the header block and declared
// preference bytes on its stdin, reads status lines from its stdout,
// and services SPC requests arriving on a socketpair side channel until
// the child exits. It returns the last status code the child printed.
//
// Child exit is a first-class selectable event here (a closed
// channel fed by a goroutine blocked in cmd.Wait()) rather than a
// SIGCHLD handler unwinding a saved setjmp context: the one place this
// port deliberately does not mirror the original control flow, per the
// concurrency design notes.
func RunConduit(d *Descriptor, phase Flavor, ctx RunContext) (int, error) {
	if d.Path == "" {
		// A conduit with no path exists only to be the pass-through
		// default in a selection set; running it trivially succeeds.
		return 201, nil
	}

	cmd := exec.Command(d.Path, "conduit", phase.String())

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return defaultStatus, palmerr.New(palmerr.System, "conduit: stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return defaultStatus, palmerr.New(palmerr.System, "conduit: stdout pipe", err)
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return defaultStatus, palmerr.New(palmerr.System, "conduit: socketpair", err)
	}
	parentSPC := os.NewFile(uintptr(fds[0]), "spc-parent")
	childSPC := os.NewFile(uintptr(fds[1]), "spc-child")
	cmd.ExtraFiles = []*os.File{childSPC}

	if err := cmd.Start(); err != nil {
		parentSPC.Close()
		childSPC.Close()
		return defaultStatus, palmerr.New(palmerr.System, "conduit: start "+d.Path, err)
	}
	childSPC.Close()

	hdrs := BuildHeaders(ctx, spcExtraFileFD, true, d.PrefDecls)
	hdrs = append(hdrs, d.HeaderOverrides...)

	writeErrCh := make(chan error, 1)
	go func() {
		err := WriteHeaders(stdin, hdrs, d.PrefDecls, ctx.Prefs)
		stdin.Close()
		writeErrCh <- err
	}()

	doneCh := make(chan struct{})
	go func() {
		cmd.Wait()
		close(doneCh)
	}()

	statusCh := make(chan string)
	go func() {
		defer close(statusCh)
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			statusCh <- sc.Text()
		}
	}()

	spcCh := make(chan spcRequest)
	go spcReader(parentSPC, spcCh)

	laststatus := defaultStatus
	for running := true; running; {
		select {
		case <-doneCh:
			running = false
		case line, ok := <-statusCh:
			if !ok {
				statusCh = nil
				continue
			}
			code, _, _ := ParseStatusLine(line)
			laststatus = code
			logf(ctx.Logger, "conduit[%s]: %s", d.Path, line)
		case req, ok := <-spcCh:
			if !ok {
				spcCh = nil
				continue
			}
			resp := handleSPC(ctx, req)
			if _, err := parentSPC.Write(encodeSPCResponse(req.Op, resp)); err != nil {
				logf(ctx.Logger, "conduit[%s]: spc write: %v", d.Path, err)
			}
		}
	}

	// Drain any status lines already buffered before the child exited.
drain:
	for {
		select {
		case line, ok := <-statusCh:
			if !ok {
				break drain
			}
			code, _, _ := ParseStatusLine(line)
			laststatus = code
		default:
			break drain
		}
	}

	parentSPC.Close()
	<-writeErrCh
	return laststatus, nil
}

// spcReader loops decoding one SPC request at a time from sock and
// pushing it to out, closing out on EOF or any read error. It never
// attempts to read ahead while a response is outstanding: the caller
// only starts the next receive after this goroutine is blocked again
// waiting on the next header, which happens naturally once handleSPC's
// response has been written and control returns to the select loop.
func spcReader(sock *os.File, out chan<- spcRequest) {
	defer close(out)
	hdr := make([]byte, spcHeaderLen)
	for {
		if _, err := io.ReadFull(sock, hdr); err != nil {
			return
		}
		op, _, length := decodeSPCHeader(hdr)
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(sock, payload); err != nil {
				return
			}
		}
		out <- spcRequest{Op: op, Payload: payload}
	}
}

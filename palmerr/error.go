// Package palmerr implements the tagged error taxonomy shared by every
// layer of the HotSync stack, from the transport up through the sync
// engine and conduit dispatcher.
package palmerr

import "fmt"

// Kind classifies a failure the way the wire protocol and the sync engine
// need to act on it, independent of the Go error chain that produced it.
type Kind uint

const (
	NoErr Kind = iota
	System
	Eof
	Timeout
	NoMem
	BadId
	Abort
	NoConn
	Cancel
	Protocol
	DlpStat
)

func (k Kind) String() string {
	switch k {
	case NoErr:
		return "NoErr"
	case System:
		return "System"
	case Eof:
		return "Eof"
	case Timeout:
		return "Timeout"
	case NoMem:
		return "NoMem"
	case BadId:
		return "BadId"
	case Abort:
		return "Abort"
	case NoConn:
		return "NoConn"
	case Cancel:
		return "Cancel"
	case Protocol:
		return "Protocol"
	case DlpStat:
		return "DlpStat"
	}
	return "<Unknown>"
}

// Error is the concrete error type returned by every package in this
// module. Status is only meaningful when Kind == DlpStat.
type Error struct {
	Kind   Kind
	Status uint16
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Kind == DlpStat {
		msg += fmt.Sprintf(" (status=0x%04x)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &palmerr.Error{Kind: X}) style checks work by
// comparing Kinds; callers more commonly use palmerr.KindOf instead.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind wrapping cause, with msg as
// additional context. cause may be nil.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// NewStatus builds a DlpStat error carrying the device's raw status code.
func NewStatus(status uint16, msg string) *Error {
	return &Error{Kind: DlpStat, Status: status, Msg: msg}
}

// KindOf extracts the Kind from err, defaulting to System for any error
// that did not originate in this package (wrapped stdlib I/O errors are
// the common case).
func KindOf(err error) Kind {
	if err == nil {
		return NoErr
	}
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return System
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Fatal reports whether a Kind should tear down the whole session, as
// opposed to being recoverable at the per-database or per-operation
// level.
func (k Kind) Fatal() bool {
	switch k {
	case Abort, NoConn, Cancel:
		return true
	default:
		return false
	}
}

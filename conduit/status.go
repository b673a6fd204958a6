package conduit

import "regexp"

// statusLineRE matches one conduit status line: a 3-digit code, then
// either a dash (more lines of this status follow) or a space (this is
// the last line of this status), then free text.
var statusLineRE = regexp.MustCompile(`^(\d{3})([- ])(.*)$`)

// defaultStatus is used for any line that doesn't parse as a status
// line, matching a conduit that produced no output at all, or crashed
// before printing anything recognizable.
const defaultStatus = 501

// StatusClass names the hundreds digit of a status code.
type StatusClass int

const (
	ClassDebug StatusClass = iota
	ClassInfo
	ClassSuccess
	ClassWarning
	ClassCallerError
	ClassConduitError
	ClassUnknown
)

func (c StatusClass) String() string {
	switch c {
	case ClassDebug:
		return "debug"
	case ClassInfo:
		return "info"
	case ClassSuccess:
		return "success"
	case ClassWarning:
		return "warning"
	case ClassCallerError:
		return "caller-error"
	case ClassConduitError:
		return "conduit-error"
	default:
		return "unknown"
	}
}

// ClassOf classifies a status code by its hundreds digit.
func ClassOf(code int) StatusClass {
	switch code / 100 {
	case 0:
		return ClassDebug
	case 1:
		return ClassInfo
	case 2:
		return ClassSuccess
	case 3:
		return ClassWarning
	case 4:
		return ClassCallerError
	case 5:
		return ClassConduitError
	default:
		return ClassUnknown
	}
}

// ParseStatusLine parses one line of a conduit's stdout, returning its
// numeric code and free text. A line that doesn't match the status
// format defaults to 501 with the raw line as its text.
func ParseStatusLine(line string) (code int, continued bool, text string) {
	m := statusLineRE.FindStringSubmatch(line)
	if m == nil {
		return defaultStatus, false, line
	}
	code = 0
	for _, c := range m[1] {
		code = code*10 + int(c-'0')
	}
	return code, m[2] == "-", m[3]
}

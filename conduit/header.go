package conduit

import (
	"bufio"
	"fmt"
	"io"

	"github.com/coldpalm/palmsync/palmerr"
)

// Header protocol size limits: a header line (not counting the
// trailing newline) is capped at maxLineLen bytes, and the field name
// portion (before the colon) at the smaller maxFieldLen.
const (
	maxLineLen  = 1024
	maxFieldLen = 64
)

// Header is one "Name: value" line of the header block a conduit
// receives on stdin before the preference payload.
type Header struct {
	Name  string
	Value string
}

func (h Header) line() string {
	name := h.Name
	if len(name) > maxFieldLen {
		name = name[:maxFieldLen]
	}
	line := fmt.Sprintf("%s: %s", name, h.Value)
	if len(line) > maxLineLen {
		line = line[:maxLineLen]
	}
	return line
}

// creatorString renders a 4-byte creator/type code as its ASCII form
// (e.g. 'p','s','y','s' -> "psys"), the convention every preference and
// database creator/type is named by.
func creatorString(v uint32) string {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return string(b)
}

// BuildHeaders assembles the mandatory and pref headers for one conduit
// invocation: Daemon, Version, InputDB, OutputDB, an optional SPCPipe,
// one Preference line per declared pref (in declaration order), then
// any caller-supplied overrides.
func BuildHeaders(ctx RunContext, spcFD int, hasSPC bool, prefs []PrefDecl) []Header {
	hdrs := []Header{
		{"Daemon", ctx.Daemon},
		{"Version", ctx.Version},
		{"InputDB", ctx.InputDB},
		{"OutputDB", ctx.OutputDB},
	}
	if hasSPC {
		hdrs = append(hdrs, Header{"SPCPipe", fmt.Sprintf("%d", spcFD)})
	}
	for _, p := range prefs {
		size := 0
		if ctx.Prefs != nil {
			if _, data, ok := ctx.Prefs(p.Creator, p.ID); ok {
				size = len(data)
			}
		}
		hdrs = append(hdrs, Header{"Preference", fmt.Sprintf("%s/%d/%d", creatorString(p.Creator), p.ID, size)})
	}
	return hdrs
}

// WriteHeaders writes the header block, blank-line-terminated, then the
// concatenated raw bytes of every declared preference in the order its
// "Preference:" header appeared.
func WriteHeaders(w io.Writer, hdrs []Header, prefs []PrefDecl, lookup PrefLookup) error {
	bw := bufio.NewWriter(w)
	for _, h := range hdrs {
		if _, err := bw.WriteString(h.line() + "\n"); err != nil {
			return palmerr.New(palmerr.System, "conduit: write header", err)
		}
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return palmerr.New(palmerr.System, "conduit: write header blank line", err)
	}
	for _, p := range prefs {
		if lookup == nil {
			continue
		}
		if _, data, ok := lookup(p.Creator, p.ID); ok {
			if _, err := bw.Write(data); err != nil {
				return palmerr.New(palmerr.System, "conduit: write preference payload", err)
			}
		}
	}
	return bw.Flush()
}

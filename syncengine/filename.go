package syncengine

import (
	"fmt"
	"strings"

	"github.com/coldpalm/palmsync/palmerr"
)

func isPrintableASCII(b byte) bool { return b >= 0x20 && b < 0x7F }

// EscapeName converts a database name (1-31 arbitrary bytes) into a safe
// filename stem by %HH-escaping (upper-hex) any byte that is not
// printable ASCII, or is '/' or '%'. The mapping is a bijection:
// UnescapeName inverts it exactly.
func EscapeName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isPrintableASCII(c) || c == '/' || c == '%' {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

var validExt = map[string]bool{".pdb": true, ".prc": true, ".pqa": true}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// UnescapeName inverts EscapeName, given a filename that includes its
// extension. It rejects any name without a recognized extension and any
// malformed %HH sequence.
func UnescapeName(filename string) (string, error) {
	dot := strings.LastIndexByte(filename, '.')
	if dot < 0 {
		return "", palmerr.New(palmerr.Protocol, "syncengine: filename has no extension", nil)
	}
	ext := strings.ToLower(filename[dot:])
	if !validExt[ext] {
		return "", palmerr.New(palmerr.Protocol, "syncengine: unrecognized extension "+ext, nil)
	}
	stem := filename[:dot]

	var out strings.Builder
	for i := 0; i < len(stem); i++ {
		c := stem[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		if i+2 >= len(stem) || !isHexDigit(stem[i+1]) || !isHexDigit(stem[i+2]) {
			return "", palmerr.New(palmerr.Protocol, "syncengine: malformed %HH escape", nil)
		}
		out.WriteByte(hexVal(stem[i+1])<<4 | hexVal(stem[i+2]))
		i += 2
	}
	return out.String(), nil
}

// Extension picks ".prc" for resource databases and ".pdb" otherwise.
func Extension(isResourceDB bool) string {
	if isResourceDB {
		return ".prc"
	}
	return ".pdb"
}

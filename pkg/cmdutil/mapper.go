// Copyright (C) 2018 Alec Thomas
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// Modifications made by Matthias Fax, 2025.

package cmdutil

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/alecthomas/kong"
)

// PortMapper validates a --port flag value naming a serial device node,
// or a "net:" or "usb:" pseudo-path selecting the NetSync framer, without
// requiring the device to be openable yet (it may appear only once the
// cradle is plugged in).
func PortMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		if target.Kind() != reflect.String {
			return fmt.Errorf(`"port" type must be applied to a string not %s`, target.Type())
		}
		var path string
		if err := ctx.Scan.PopValueInto("port", &path); err != nil {
			return err
		}

		if strings.HasPrefix(path, "net:") || strings.HasPrefix(path, "usb:") {
			target.SetString(path)
			return nil
		}

		path = kong.ExpandPath(path)
		stat, err := os.Lstat(path)
		if err != nil {
			if os.IsNotExist(err) {
				target.SetString(path)
				return nil
			}
			if os.IsPermission(err) {
				return fmt.Errorf("permission denied for port %q", path)
			}
			return err
		}
		if stat.IsDir() {
			return fmt.Errorf("%q exists but is a directory", path)
		}
		target.SetString(path)
		return nil
	}
}

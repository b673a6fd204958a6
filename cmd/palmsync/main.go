// Command palmsync drives one HotSync session against a serial, USB, or
// NetSync-over-TCP connected device.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/coldpalm/palmsync/pkg/cmdutil"
)

const (
	programName = "palmsync"
	programDesc = "PalmOS HotSync client"
)

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.NamedMapper("port", cmdutil.PortMapper()),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	err := ctx.Run(&runContext{})
	ctx.FatalIfErrorf(err)
}

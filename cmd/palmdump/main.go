// Command palmdump connects to a device, runs the same handshake and
// conduit-open sequence a real sync would, and dumps everything it
// learned about the device instead of backing anything up. It exists
// for diagnosing a cradle/device pairing without touching user data.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"

	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/palm"
	"github.com/coldpalm/palmsync/pkg/cmdutil"
)

var cli struct {
	Port string `arg:"" type:"port" help:"Serial device, net:host:port, or usb:/dev/node"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("palmdump"),
		kong.Description("Dump a connected Palm device's identity and database list"),
		kong.NamedMapper("port", cmdutil.PortMapper()))

	if err := run(); err != nil {
		log.Fatalf("palmdump: %v", err)
	}
}

func run() error {
	c, err := cmdutil.OpenConnection(cli.Port)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Accept(0); err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	codec := dlp.NewCodec(c)
	client := dlp.NewClient(codec)
	if err := client.OpenConduit(); err != nil {
		return fmt.Errorf("open conduit: %w", err)
	}
	defer client.EndOfSync(dlp.StatusNoErr)

	dev := palm.New(client)
	sysInfo, err := dev.SysInfo()
	if err != nil {
		return fmt.Errorf("sys info: %w", err)
	}
	fmt.Fprintln(os.Stdout, "SysInfo:")
	spew.Fdump(os.Stdout, sysInfo)

	userInfo, err := dev.UserInfo()
	if err != nil {
		return fmt.Errorf("user info: %w", err)
	}
	fmt.Fprintln(os.Stdout, "UserInfo:")
	spew.Fdump(os.Stdout, userInfo)

	serial, err := dev.Serial()
	if err != nil {
		fmt.Fprintf(os.Stdout, "Serial: unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(os.Stdout, "Serial: %s\n", serial)
	}

	if err := dev.EnsureAllDBs(true); err != nil {
		return fmt.Errorf("database list: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Databases (%d):\n", dev.NumDBs())
	dev.ResetIter()
	for {
		info := dev.NextDB()
		if info == nil {
			break
		}
		spew.Fdump(os.Stdout, *info)
	}

	return nil
}

// Command hotsyncd is the standalone daemon form of palmsync's "daemon"
// mode: a dedicated binary for a systemd unit or init script, rather
// than a mode flag on the interactive palmsync CLI.
package main

import (
	"log"
	"os"

	"github.com/alecthomas/kong"

	"github.com/coldpalm/palmsync/conn"
	"github.com/coldpalm/palmsync/daemon"
	"github.com/coldpalm/palmsync/pkg/cmdutil"
	"github.com/coldpalm/palmsync/syncengine"
)

var cli struct {
	Port   string `flag:"" required:"" short:"p" type:"port" help:"Serial device, net:host:port, or usb:/dev/node"`
	Config string `flag:"" short:"c" default:"/etc/palmsync.conf" help:"Path to the flat-file config"`

	BackupDir   string `flag:"" short:"b" default:"~/.palm/backup" help:"Per-database backup directory"`
	InstallDir  string `flag:"" short:"i" default:"~/.palm/install" help:"Staged-install queue directory"`
	MetricsFile string `flag:"" default:"/var/lib/node_exporter/textfile_collector/palmsync.prom" help:"Prometheus text-exposition metrics file, refreshed after every sync"`

	ForceSlow    bool `flag:"" help:"Run a slow sync even if a fast sync would be eligible"`
	ForceFast    bool `flag:"" help:"Run a fast sync even if the last-sync host doesn't match"`
	IncludeROM   bool `flag:"" help:"Also enumerate ROM-card databases"`
	InstallFirst bool `flag:"" help:"Drain the install queue before syncing databases"`
	ForceInstall bool `flag:"" help:"Delete and recreate a database if one of the same name already exists"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("hotsyncd"),
		kong.Description("Run the HotSync loop forever, writing a Prometheus metrics file about completed syncs"),
		kong.NamedMapper("port", cmdutil.PortMapper()))

	logger := log.New(os.Stderr, "", log.LstdFlags)

	err := daemon.Run(daemon.Options{
		Connect: func() (*conn.Connection, error) { return cmdutil.OpenConnection(cli.Port) },
		LoadConfig: func() (*syncengine.Config, error) {
			cfg := &syncengine.Config{Identities: map[string]syncengine.Identity{}}
			if _, statErr := os.Stat(cli.Config); statErr != nil {
				return cfg, nil
			}
			return syncengine.LoadConfig(cli.Config)
		},
		Policy: syncengine.Policy{
			ForceSlow:    cli.ForceSlow,
			ForceFast:    cli.ForceFast,
			IncludeROM:   cli.IncludeROM,
			InstallFirst: cli.InstallFirst,
			ForceInstall: cli.ForceInstall,
		},
		BackupDir:   cmdutil.ExpandHome(cli.BackupDir),
		InstallDir:  cmdutil.ExpandHome(cli.InstallDir),
		MetricsFile: cli.MetricsFile,
		Logger:      logger,
	})
	logger.Fatalf("hotsyncd: %v", err)
}

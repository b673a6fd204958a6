package main

import (
	"fmt"
	"log"
	"os"

	"github.com/coldpalm/palmsync/conn"
	"github.com/coldpalm/palmsync/daemon"
	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/pkg/cmdutil"
	"github.com/coldpalm/palmsync/syncengine"
)

// runContext is the context struct kong passes to every subcommand's Run.
type runContext struct{}

type commonFlags struct {
	Port   string `flag:"" required:"" short:"p" type:"port" help:"Serial device, net:host:port, or usb:/dev/node"`
	Config string `flag:"" short:"c" default:"/etc/palmsync.conf" help:"Path to the flat-file config"`
	Rate   uint32 `flag:"" help:"Preferred post-handshake baud rate (0 keeps the rate the device proposes)"`

	ForceSlow    bool `flag:"" help:"Run a slow sync even if a fast sync would be eligible"`
	ForceFast    bool `flag:"" help:"Run a fast sync even if the last-sync host doesn't match"`
	IncludeROM   bool `flag:"" help:"Also enumerate ROM-card databases"`
	InstallFirst bool `flag:"" help:"Drain the install queue before syncing databases"`
	ForceInstall bool `flag:"" help:"Delete and recreate a database if one of the same name already exists"`
}

func (f commonFlags) policy() syncengine.Policy {
	return syncengine.Policy{
		ForceSlow:    f.ForceSlow,
		ForceFast:    f.ForceFast,
		IncludeROM:   f.IncludeROM,
		InstallFirst: f.InstallFirst,
		ForceInstall: f.ForceInstall,
	}
}

func (f commonFlags) loadConfig() (*syncengine.Config, error) {
	cfg := &syncengine.Config{Identities: map[string]syncengine.Identity{}}
	if _, err := os.Stat(f.Config); err == nil {
		var loadErr error
		cfg, loadErr = syncengine.LoadConfig(f.Config)
		if loadErr != nil {
			return nil, loadErr
		}
	}
	if f.Rate != 0 {
		cfg.PreferredRate = f.Rate
	}
	return cfg, nil
}

func (f commonFlags) connect() (*conn.Connection, error) {
	return cmdutil.OpenConnection(f.Port)
}

type standaloneCmd struct {
	commonFlags
	BackupDir  string `flag:"" short:"b" default:"~/.palm/backup" help:"Per-database backup directory"`
	InstallDir string `flag:"" short:"i" default:"~/.palm/install" help:"Staged-install queue directory"`
}

type backupCmd struct {
	commonFlags
	BackupDir string `arg:"" help:"Directory to back every database up into"`
}

type restoreCmd struct {
	commonFlags
	FromDir string `arg:"" help:"Directory of .pdb/.prc files to restore"`
}

type initCmd struct {
	commonFlags
	UserID   uint32 `flag:"" required:"" help:"New user id to bind to the device"`
	UserName string `flag:"" required:"" help:"New user name to bind to the device"`
	Yes      bool   `flag:"" short:"y" help:"Skip the confirmation prompt"`
}

type daemonCmd struct {
	commonFlags
	BackupDir   string `flag:"" short:"b" default:"~/.palm/backup" help:"Per-database backup directory"`
	InstallDir  string `flag:"" short:"i" default:"~/.palm/install" help:"Staged-install queue directory"`
	MetricsFile string `flag:"" default:"" help:"If set, write Prometheus text-exposition metrics here after every sync"`
}

var cli struct {
	Standalone standaloneCmd `cmd:"" help:"Run a normal sync: conduits first, generic backup as the fallback"`
	Backup     backupCmd     `cmd:"" help:"Force a full generic backup of every database, bypassing conduits"`
	Restore    restoreCmd    `cmd:"" help:"Push every .pdb/.prc file in a directory back onto the device"`
	Init       initCmd       `cmd:"" help:"Bind a new user id/name onto an unsynced device"`
	Daemon     daemonCmd     `cmd:"" help:"Run the sync loop forever, accepting one connection per iteration"`
}

func openLogger() *log.Logger { return log.New(os.Stderr, "", log.LstdFlags) }

func (s *standaloneCmd) Run(ctx *runContext) error {
	c, err := s.connect()
	if err != nil {
		return err
	}
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	sess, err := syncengine.Start(c, cfg, s.policy(), openLogger())
	if err != nil {
		return err
	}
	status := dlp.StatusNoErr
	if err := sess.StandaloneSync(expandHome(s.BackupDir), expandHome(s.InstallDir)); err != nil {
		status = dlp.StatusGeneralError
		sess.End(status)
		return err
	}
	return sess.End(status)
}

func (b *backupCmd) Run(ctx *runContext) error {
	c, err := b.connect()
	if err != nil {
		return err
	}
	cfg, err := b.loadConfig()
	if err != nil {
		return err
	}
	sess, err := syncengine.Start(c, cfg, b.policy(), openLogger())
	if err != nil {
		return err
	}
	status := dlp.StatusNoErr
	if err := sess.FullBackup(expandHome(b.BackupDir)); err != nil {
		status = dlp.StatusGeneralError
		sess.End(status)
		return err
	}
	return sess.End(status)
}

func (r *restoreCmd) Run(ctx *runContext) error {
	c, err := r.connect()
	if err != nil {
		return err
	}
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}
	sess, err := syncengine.Start(c, cfg, r.policy(), openLogger())
	if err != nil {
		return err
	}
	status := dlp.StatusNoErr
	if err := sess.RestoreDir(expandHome(r.FromDir)); err != nil {
		status = dlp.StatusGeneralError
		sess.End(status)
		return err
	}
	return sess.End(status)
}

func (i *initCmd) Run(ctx *runContext) error {
	if !i.Yes && !confirm(fmt.Sprintf("bind user id %d / name %q to this device", i.UserID, i.UserName)) {
		return fmt.Errorf("init: aborted")
	}

	c, err := i.connect()
	if err != nil {
		return err
	}
	cfg, err := i.loadConfig()
	if err != nil {
		return err
	}
	policy := i.policy()
	policy.SkipIdentityCheck = true
	sess, err := syncengine.Start(c, cfg, policy, openLogger())
	if err != nil {
		return err
	}
	if err := sess.WriteIdentity(i.UserID, i.UserName); err != nil {
		sess.End(dlp.StatusGeneralError)
		return err
	}
	return sess.End(dlp.StatusNoErr)
}

func (d *daemonCmd) Run(ctx *runContext) error {
	logger := openLogger()
	return daemon.Run(daemon.Options{
		Connect:     d.connect,
		LoadConfig:  d.loadConfig,
		Policy:      d.policy(),
		BackupDir:   expandHome(d.BackupDir),
		InstallDir:  expandHome(d.InstallDir),
		MetricsFile: d.MetricsFile,
		Logger:      logger,
	})
}

// Package daemon implements the long-running sync loop behind both
// "palmsync daemon" and the standalone hotsyncd binary: accept one
// connection, run a standalone sync, refresh a Prometheus
// textfile-collector-style metrics file, repeat.
package daemon

import (
	"log"
	"time"

	"github.com/coldpalm/palmsync/conn"
	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/syncengine"
)

// Options holds everything a cycle of the daemon loop needs, gathered
// by the caller (cmd/palmsync or cmd/hotsyncd) from its own flags.
type Options struct {
	Connect     func() (*conn.Connection, error)
	LoadConfig  func() (*syncengine.Config, error)
	Policy      syncengine.Policy
	BackupDir   string
	InstallDir  string
	MetricsFile string
	Logger      *log.Logger
}

// Stats accumulates the counters hotsyncd exposes across the process
// lifetime; Prometheus counters must only go up, so totals live here
// rather than being recomputed each cycle.
type Stats struct {
	syncsOK       int
	syncsFailed   int
	lastSyncUnix  float64
	databasesDone int
	conduitRuns   map[syncengine.ConduitRunKey]int
}

func newStats() *Stats {
	return &Stats{conduitRuns: map[syncengine.ConduitRunKey]int{}}
}

func (s *Stats) merge(runs map[syncengine.ConduitRunKey]int) {
	for k, n := range runs {
		s.conduitRuns[k] += n
	}
}

// Run loops forever, running one full sync per accepted connection and
// refreshing the metrics file after every attempt. It does not return:
// connect, config, transport and sync failures are all logged and looped
// past.
func Run(opt Options) error {
	stats := newStats()
	for {
		if err := runOneCycle(opt, stats); err != nil {
			logf(opt.Logger, "daemon: sync cycle failed: %v", err)
		}
		if err := writeMetrics(opt.MetricsFile, stats); err != nil {
			logf(opt.Logger, "daemon: writing metrics: %v", err)
		}
	}
}

func runOneCycle(opt Options, stats *Stats) error {
	c, err := opt.Connect()
	if err != nil {
		return err
	}
	cfg, err := opt.LoadConfig()
	if err != nil {
		return err
	}
	sess, err := syncengine.Start(c, cfg, opt.Policy, opt.Logger)
	if err != nil {
		return err
	}

	before := sess.Device.NumDBs()
	syncErr := sess.StandaloneSync(opt.BackupDir, opt.InstallDir)
	after := sess.Device.NumDBs()

	status := dlp.StatusNoErr
	if syncErr != nil {
		status = dlp.StatusGeneralError
		stats.syncsFailed++
	} else {
		stats.syncsOK++
	}
	stats.lastSyncUnix = float64(time.Now().Unix())
	if after > before {
		stats.databasesDone += after - before
	} else {
		stats.databasesDone += after
	}
	stats.merge(sess.ConduitRuns)

	if endErr := sess.End(status); endErr != nil && syncErr == nil {
		syncErr = endErr
	}
	return syncErr
}

func logf(l *log.Logger, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Printf(format, args...)
}

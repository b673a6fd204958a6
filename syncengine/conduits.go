package syncengine

import (
	"os"
	"path/filepath"

	"github.com/coldpalm/palmsync/conduit"
	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/palmerr"
)

const daemonName = "palmsync"

// conduitPrefDecls flattens every descriptor's declared preferences into
// one list for PrefCache.Populate, since the cache is shared across all
// conduits for the session rather than rebuilt per invocation.
func conduitPrefDecls(descs []conduit.Descriptor) []PrefDecl {
	var decls []PrefDecl
	for _, d := range descs {
		for _, p := range d.PrefDecls {
			decls = append(decls, PrefDecl{Creator: p.Creator, ID: p.ID, Saved: p.Saved, AnyPersistence: p.AnyPersistence})
		}
	}
	return decls
}

// PreparePrefCache walks every declared conduit's preferences and
// materializes them into s.Prefs, deduplicated by (creator,id). Call
// once per session, before the first conduit dispatch.
func (s *Session) PreparePrefCache() error {
	return s.Prefs.Populate(s.DLP, conduitPrefDecls(s.Config.Conduits))
}

// RunConduits dispatches every conduit matching phase and db (db may be
// nil for phases that don't operate on a specific database, though
// every flavor this engine uses today is per-database), wiring the SPC
// side channel to this session's live DLP connection and pref cache.
func (s *Session) RunConduits(phase conduit.Flavor, db *dlp.DBInfo, inputDB, outputDB string) []conduit.Result {
	ctx := conduit.RunContext{
		Daemon:   daemonName,
		Version:  Version,
		InputDB:  inputDB,
		OutputDB: outputDB,
		Executor: s.DLP.Codec,
		Logger:   s.Logger,
		Prefs: func(creator uint32, id uint16) (uint16, []byte, bool) {
			e, ok := s.Prefs.Get(creator, id)
			return e.Version, e.Data, ok
		},
		WritePref: func(creator uint32, id uint16, version uint16, saved bool, data []byte) error {
			return s.Prefs.Write(s.DLP, creator, id, version, saved, data)
		},
	}
	if db != nil {
		ctx.HasDB = true
		ctx.DB = *db
	}

	disp := &conduit.Dispatcher{Descriptors: s.Config.Conduits, Logger: s.Logger}
	results := disp.Dispatch(phase, ctx)
	for _, r := range results {
		if r.Err != nil {
			s.Log("conduit %s failed: %v", r.Descriptor.Path, r.Err)
		} else {
			s.Log("conduit %s (%s) exited %d", r.Descriptor.Path, phase, r.Status)
		}
		s.recordConduitRun(phase, r.Status)
	}
	return results
}

// recordConduitRun tallies one conduit exit by flavor and status class,
// the running total cmd/hotsyncd's metrics file reports.
func (s *Session) recordConduitRun(phase conduit.Flavor, status int) {
	if s.ConduitRuns == nil {
		s.ConduitRuns = map[ConduitRunKey]int{}
	}
	s.ConduitRuns[ConduitRunKey{Flavor: phase.String(), StatusClass: conduit.ClassOf(status).String()}]++
}

// ConduitRunKey identifies one (flavor, status class) bucket in
// Session.ConduitRuns.
type ConduitRunKey struct {
	Flavor      string
	StatusClass string
}

// SyncDatabase runs every Sync-flavor conduit declared for info. If none
// matched (no conduit admitted this database's creator/type, and no
// default was configured), it falls back to the built-in generic
// backup, mirroring the "no built-in generic conduit ran, so the
// engine's own pdb writer is the generic conduit" behavior.
func (s *Session) SyncDatabase(info dlp.DBInfo, backupDir string) error {
	path := filepath.Join(backupDir, EscapeName(info.Name)+Extension(info.IsResourceDB()))
	results := s.RunConduits(conduit.FlavorSync, &info, path, path)
	if len(results) > 0 {
		return nil
	}
	return s.BackupDB(info, backupDir)
}

// StandaloneSync is the engine's normal (non-Backup-mode) run: it
// prepares the pref cache from every declared conduit's preferences,
// drains the install queue (before or after the main pass depending on
// the install-first policy flag), then runs SyncDatabase against each
// database on the device, logging and continuing past per-database
// failures unless one is connection-fatal.
func (s *Session) StandaloneSync(backupDir, installDir string) error {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return palmerr.New(palmerr.System, "syncengine: create backup dir", err)
	}
	if err := s.PreparePrefCache(); err != nil {
		return err
	}

	if s.Policy.InstallFirst {
		if err := s.InstallQueued(installDir); err != nil {
			return err
		}
	}

	if err := s.Device.EnsureAllDBs(s.Policy.IncludeROM); err != nil {
		return err
	}

	live := map[string]bool{}
	s.Device.ResetIter()
	for {
		info := s.Device.NextDB()
		if info == nil {
			break
		}
		live[info.Name] = true
		if err := s.SyncDatabase(*info, backupDir); err != nil {
			kind := palmerr.KindOf(err)
			if kind == palmerr.NoConn || kind == palmerr.Cancel {
				return err
			}
			s.Log("sync of %q failed: %v", info.Name, err)
			continue
		}
		s.Log("synced %q", info.Name)
	}

	if !s.Policy.InstallFirst {
		if err := s.InstallQueued(installDir); err != nil {
			return err
		}
	}

	return ArchiveOrphans(s.Logger, backupDir, live)
}

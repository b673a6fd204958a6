// Package syncengine drives one HotSync session end to end: connection
// startup and identity checks, per-database backup/restore, orphan
// archiving, and preference caching, composed on top of the conn and
// dlp packages.
package syncengine

import (
	"fmt"
	"log"
	"time"

	"github.com/coldpalm/palmsync/conn"
	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/hostid"
	"github.com/coldpalm/palmsync/palm"
	"github.com/coldpalm/palmsync/palmerr"
)

const initialSerialRate = 9600

// Policy holds the CLI's sync-engine policy flags (spec.md §6): slow-vs-
// fast sync overrides, whether ROM-card databases are enumerated at
// all, and conduit install ordering.
type Policy struct {
	ForceSlow    bool
	ForceFast    bool
	IncludeROM   bool
	InstallFirst bool
	ForceInstall bool

	// SkipIdentityCheck lets Init mode adopt whatever identity the
	// device reports instead of refusing to proceed; no CLI flag maps
	// to it directly, cmd/palmsync's init subcommand sets it.
	SkipIdentityCheck bool
}

// Session is one running HotSync: a connection, its DLP client, the
// cached device view, and the resolved identity/sync-kind decisions
// made at startup.
type Session struct {
	Conn   *conn.Connection
	DLP    *dlp.Client
	Device *palm.Palm
	Prefs  *PrefCache

	Config *Config
	Policy Policy
	Logger *log.Logger

	HostID      uint32
	NeedSlow    bool
	Identity    Identity
	LogEntries  []string
	ConduitRuns map[ConduitRunKey]int
}

// Start runs the connection-level handshake, OpenConduit, and the
// identity/slow-vs-fast-sync resolution a session needs before any
// database work begins.
func Start(c *conn.Connection, cfg *Config, policy Policy, logger *log.Logger) (*Session, error) {
	if c.Mode == conn.ModeFull {
		if err := c.SetSpeed(initialSerialRate); err != nil {
			return nil, err
		}
	}
	if err := c.Accept(cfg.PreferredRate); err != nil {
		return nil, err
	}

	codec := dlp.NewCodec(c)
	client := dlp.NewClient(codec)
	if err := client.OpenConduit(); err != nil {
		return nil, err
	}

	prefs := NewPrefCache()
	dev := palm.New(client)
	if _, err := dev.SysInfo(); err != nil {
		return nil, err
	}
	userInfo, err := dev.UserInfo()
	if err != nil {
		return nil, err
	}
	serial, err := dev.Serial()
	if err != nil {
		logf(logger, "sync: could not read ROM serial: %v", err)
	}

	hostID, err := hostid.FromPrimaryIPv4()
	if err != nil {
		logf(logger, "sync: could not derive host id: %v", err)
	}

	expected := cfg.ExpectedIdentity(serial)
	sess := &Session{
		Conn:     c,
		DLP:      client,
		Device:   dev,
		Prefs:    prefs,
		Config:   cfg,
		Policy:   policy,
		Logger:   logger,
		HostID:   hostID,
		Identity: expected,
	}

	if !policy.SkipIdentityCheck {
		if userInfo.UserID != 0 && expected.UserID != 0 && userInfo.UserID != expected.UserID {
			return nil, identityMismatch(expected, userInfo)
		}
		if userInfo.UserName != "" && expected.UserName != "" && userInfo.UserName != expected.UserName {
			return nil, identityMismatch(expected, userInfo)
		}
	}

	switch {
	case policy.ForceSlow:
		sess.NeedSlow = true
	case policy.ForceFast:
		sess.NeedSlow = false
	default:
		sess.NeedSlow = userInfo.LastSyncPC != hostID
	}
	return sess, nil
}

// identityMismatch builds the refuse-to-sync error, including a
// suggested config block the user can paste in to adopt this device's
// identity instead.
func identityMismatch(expected Identity, got *dlp.UserInfo) error {
	suggestion := fmt.Sprintf("identity default %d %s", got.UserID, got.UserName)
	return palmerr.New(palmerr.Protocol,
		fmt.Sprintf("sync: device identity (id=%d name=%q) does not match configured identity (id=%d name=%q); add to config:\n\t%s",
			got.UserID, got.UserName, expected.UserID, expected.UserName, suggestion), nil)
}

// WriteIdentity binds a new user id/name onto the device; only Init
// mode may call this, since a normal sync refuses to run at all when
// the device's identity doesn't already match the configured one.
func (s *Session) WriteIdentity(userID uint32, userName string) error {
	return s.DLP.WriteIdentity(userID, userName)
}

// Log appends one line to the session's in-memory sync log, sent to the
// device via AddSyncLogEntry at End.
func (s *Session) Log(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	s.LogEntries = append(s.LogEntries, line)
	logf(s.Logger, "sync: %s", line)
}

// End finishes the session: writes the device's user info (only fields
// a normal sync is allowed to touch), flushes the accumulated log, and
// issues EndOfSync.
func (s *Session) End(status uint16) error {
	now, lastGood := palm.MarkSynced(time.Now())
	if status != dlp.StatusNoErr {
		if prev, err := s.Device.UserInfo(); err == nil {
			lastGood = prev.LastGoodSync
		}
	}
	if err := s.DLP.WriteUserInfo(s.HostID, now, lastGood, dlp.ModLastSyncDate); err != nil {
		logf(s.Logger, "sync: WriteUserInfo failed: %v", err)
	}
	if len(s.LogEntries) > 0 {
		text := ""
		for _, l := range s.LogEntries {
			text += l + "\n"
		}
		if err := s.DLP.AddSyncLogEntry(text); err != nil {
			logf(s.Logger, "sync: AddSyncLogEntry failed: %v", err)
		}
	}
	if err := s.DLP.EndOfSync(status); err != nil {
		logf(s.Logger, "sync: EndOfSync failed: %v", err)
	}
	return s.Conn.Close()
}

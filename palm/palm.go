// Package palm provides a cached, lazily-populated view of a connected
// device: sysinfo, userinfo, netsync settings, storage info, serial
// number, and the database list, each fetched over DLP exactly once.
package palm

import (
	"strings"
	"time"

	"github.com/coldpalm/palmsync/dlp"
)

// Device is the minimal dlp surface Palm needs; dlp.Client satisfies it
// directly, and tests substitute a fake.
type Device interface {
	ReadSysInfo() (*dlp.SysInfo, error)
	ReadUserInfo() (*dlp.UserInfo, error)
	ReadNetSyncInfo() (*dlp.NetSyncInfo, error)
	ReadStorageInfo(card uint8) (*dlp.StorageInfo, error)
	ReadDBList(flags uint8, card uint8, startIndex uint16) (uint16, bool, []dlp.DBInfo, error)
	ReadROMSerial(cardNo uint16) ([]byte, error)
}

// Palm is a per-session cached device view. Every field that requires a
// round trip carries its own "fetched?" sentinel so an accessor fetches
// at most once.
type Palm struct {
	d Device

	sysInfo      *dlp.SysInfo
	userInfo     *dlp.UserInfo
	netSyncInfo  *dlp.NetSyncInfo
	storageInfo  *dlp.StorageInfo
	serial       *string
	serialFailed bool

	dbs       []dlp.DBInfo
	dbsIterAt int
}

func New(d Device) *Palm {
	return &Palm{d: d}
}

func (p *Palm) SysInfo() (*dlp.SysInfo, error) {
	if p.sysInfo == nil {
		si, err := p.d.ReadSysInfo()
		if err != nil {
			return nil, err
		}
		p.sysInfo = si
	}
	return p.sysInfo, nil
}

func (p *Palm) UserInfo() (*dlp.UserInfo, error) {
	if p.userInfo == nil {
		ui, err := p.d.ReadUserInfo()
		if err != nil {
			return nil, err
		}
		p.userInfo = ui
	}
	return p.userInfo, nil
}

func (p *Palm) NetSyncInfo() (*dlp.NetSyncInfo, error) {
	if p.netSyncInfo == nil {
		ni, err := p.d.ReadNetSyncInfo()
		if err != nil {
			return nil, err
		}
		p.netSyncInfo = ni
	}
	return p.netSyncInfo, nil
}

func (p *Palm) StorageInfo() (*dlp.StorageInfo, error) {
	if p.storageInfo == nil {
		// Only a single card (card 0) is read; the "more cards" bit is
		// not chased.
		si, err := p.d.ReadStorageInfo(0)
		if err != nil {
			return nil, err
		}
		p.storageInfo = si
	}
	return p.storageInfo, nil
}

// aliasTable maps known raw serial-number byte patterns to the string
// the original desktop tool substitutes for them (the protocol's worked
// example: a Visor's 12 bytes of 0xFF means no real serial was ever
// burned in).
var aliasTable = map[string]string{
	strings.Repeat("\xFF", 12): "*Visor*",
}

// Serial returns the device's serial number with its trailing check
// character, or "" if the ROM predates serial numbers (< 3.0) or the
// device reports none.
func (p *Palm) Serial() (string, error) {
	if p.serial != nil {
		return *p.serial, nil
	}
	if p.serialFailed {
		return "", nil
	}

	si, err := p.SysInfo()
	if err != nil {
		return "", err
	}
	if si.ROMVersion>>24 < 3 {
		empty := ""
		p.serial = &empty
		return "", nil
	}

	raw, err := p.d.ReadROMSerial(0)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		p.serialFailed = true
		return "", nil
	}
	if alias, ok := aliasTable[string(raw)]; ok {
		raw = []byte(alias)
	}

	s := string(raw) + string(checkChar(raw))
	p.serial = &s
	return s, nil
}

// checkChar computes the Palm serial-number check character: fold each
// uppercased byte into an accumulator via a left rotation, then map the
// final nibble sum into the alphanumeric alphabet that skips 'O' and 'I'
// by excluding '0' and '1' from the candidate digits before mapping.
func checkChar(raw []byte) byte {
	const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ" // '0','1' and 'O','I' excluded
	var acc byte
	for _, b := range raw {
		c := b
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		acc = rotl(acc, 1) ^ c
	}
	nibble := ((acc >> 4) + (acc & 0x0F) + 2) % byte(len(alphabet))
	return alphabet[nibble]
}

func rotl(b byte, n uint) byte {
	return (b << n) | (b >> (8 - n))
}

// EnsureAllDBs loads the full database list in one batched pass,
// looping ReadDBList until the device reports no more
// ensure_all_dbs(). includeROM controls whether ROM-card databases are
// requested at all; a normal sync leaves them out since they are never
// user data and never change.
func (p *Palm) EnsureAllDBs(includeROM bool) error {
	if p.dbs != nil {
		return nil
	}
	listFlags := dlp.DBListRAM | dlp.DBListMultiple
	if includeROM {
		listFlags |= dlp.DBListROM
	}
	var all []dlp.DBInfo
	start := uint16(0)
	for {
		last, more, batch, err := p.d.ReadDBList(listFlags, 0, start)
		if err != nil {
			return err
		}
		all = append(all, batch...)
		if !more {
			break
		}
		start = last + 1
	}
	p.dbs = all
	return nil
}

// AppendLocalDB records a locally-created database in the cached list
// without a round trip, atomically growing the count the way the protocol
// describes.
func (p *Palm) AppendLocalDB(info dlp.DBInfo) {
	p.dbs = append(p.dbs, info)
}

func (p *Palm) NumDBs() int { return len(p.dbs) }

// ResetIter rewinds the database iteration cursor to the start.
func (p *Palm) ResetIter() { p.dbsIterAt = 0 }

// NextDB returns the next database in the cached list, or nil once
// exhausted.
func (p *Palm) NextDB() *dlp.DBInfo {
	if p.dbsIterAt >= len(p.dbs) {
		return nil
	}
	db := &p.dbs[p.dbsIterAt]
	p.dbsIterAt++
	return db
}

// IdentityMatch reports whether the device's reported identity matches
// the expected (userID, userName) pair from configuration, per
// the protocol's startup identity-verification rule.
func (p *Palm) IdentityMatch(expectedID uint32, expectedName string) (bool, error) {
	ui, err := p.UserInfo()
	if err != nil {
		return false, err
	}
	if expectedID != 0 && ui.UserID != expectedID {
		return false, nil
	}
	if expectedName != "" && ui.UserName != expectedName {
		return false, nil
	}
	return true, nil
}

// MarkSynced is a convenience for the sync engine: it does not itself
// call WriteUserInfo (that remains the engine's job, since only it knows
// whether the sync as a whole succeeded), but documents the times a
// caller should pass when it does.
func MarkSynced(now time.Time) (lastSync, lastGoodSync time.Time) {
	return now, now
}

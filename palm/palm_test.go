package palm

import (
	"strings"
	"testing"

	"github.com/coldpalm/palmsync/dlp"
)

type fakeDevice struct {
	sysInfo     *dlp.SysInfo
	romSerial   []byte
	calls       map[string]int
	dbBatches   [][]dlp.DBInfo
	batchIdx    int
	lastFlags   uint8
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{calls: map[string]int{}}
}

func (f *fakeDevice) ReadSysInfo() (*dlp.SysInfo, error) {
	f.calls["ReadSysInfo"]++
	return f.sysInfo, nil
}
func (f *fakeDevice) ReadUserInfo() (*dlp.UserInfo, error) {
	f.calls["ReadUserInfo"]++
	return &dlp.UserInfo{UserID: 42, UserName: "jdoe"}, nil
}
func (f *fakeDevice) ReadNetSyncInfo() (*dlp.NetSyncInfo, error) {
	f.calls["ReadNetSyncInfo"]++
	return &dlp.NetSyncInfo{}, nil
}
func (f *fakeDevice) ReadStorageInfo(card uint8) (*dlp.StorageInfo, error) {
	f.calls["ReadStorageInfo"]++
	return &dlp.StorageInfo{TotalRAM: 1024}, nil
}
func (f *fakeDevice) ReadDBList(flags uint8, card uint8, startIndex uint16) (uint16, bool, []dlp.DBInfo, error) {
	f.calls["ReadDBList"]++
	f.lastFlags = flags
	if f.batchIdx >= len(f.dbBatches) {
		return startIndex, false, nil, nil
	}
	batch := f.dbBatches[f.batchIdx]
	f.batchIdx++
	more := f.batchIdx < len(f.dbBatches)
	return startIndex + uint16(len(batch)), more, batch, nil
}
func (f *fakeDevice) ReadROMSerial(cardNo uint16) ([]byte, error) {
	f.calls["ReadROMSerial"]++
	return f.romSerial, nil
}

func TestSysInfoFetchesOnlyOnce(t *testing.T) {
	fd := newFakeDevice()
	fd.sysInfo = &dlp.SysInfo{ROMVersion: 0x04000000}
	p := New(fd)

	if _, err := p.SysInfo(); err != nil {
		t.Fatalf("SysInfo: %v", err)
	}
	if _, err := p.SysInfo(); err != nil {
		t.Fatalf("SysInfo (cached): %v", err)
	}
	if fd.calls["ReadSysInfo"] != 1 {
		t.Errorf("ReadSysInfo called %d times, want 1", fd.calls["ReadSysInfo"])
	}
}

func TestSerialEmptyBelowROM3(t *testing.T) {
	fd := newFakeDevice()
	fd.sysInfo = &dlp.SysInfo{ROMVersion: 0x02003000} // major 2
	p := New(fd)
	s, err := p.Serial()
	if err != nil {
		t.Fatalf("Serial: %v", err)
	}
	if s != "" {
		t.Errorf("Serial = %q, want empty for pre-3.0 ROM", s)
	}
	if fd.calls["ReadROMSerial"] != 0 {
		t.Error("should not fetch ROM serial below ROM 3.0")
	}
}

func TestSerialVisorAliasSubstitution(t *testing.T) {
	fd := newFakeDevice()
	fd.sysInfo = &dlp.SysInfo{ROMVersion: 0x04000000}
	fd.romSerial = []byte(strings.Repeat("\xFF", 12))
	p := New(fd)
	s, err := p.Serial()
	if err != nil {
		t.Fatalf("Serial: %v", err)
	}
	if !strings.HasPrefix(s, "*Visor*") {
		t.Errorf("Serial = %q, want alias-substituted prefix *Visor*", s)
	}
	if len(s) != len("*Visor*")+1 {
		t.Errorf("Serial = %q, want alias + one check character", s)
	}
}

func TestSerialCachesAfterFirstFetch(t *testing.T) {
	fd := newFakeDevice()
	fd.sysInfo = &dlp.SysInfo{ROMVersion: 0x04000000}
	fd.romSerial = []byte("ABC123456789")
	p := New(fd)
	if _, err := p.Serial(); err != nil {
		t.Fatalf("Serial: %v", err)
	}
	if _, err := p.Serial(); err != nil {
		t.Fatalf("Serial (cached): %v", err)
	}
	if fd.calls["ReadROMSerial"] != 1 {
		t.Errorf("ReadROMSerial called %d times, want 1", fd.calls["ReadROMSerial"])
	}
}

func TestEnsureAllDBsOmitsROMByDefault(t *testing.T) {
	fd := newFakeDevice()
	fd.dbBatches = [][]dlp.DBInfo{{{Name: "A"}}}
	p := New(fd)
	if err := p.EnsureAllDBs(false); err != nil {
		t.Fatalf("EnsureAllDBs: %v", err)
	}
	if fd.lastFlags&dlp.DBListROM != 0 {
		t.Error("expected DBListROM to be omitted when includeROM is false")
	}
}

func TestEnsureAllDBsIncludesROMWhenRequested(t *testing.T) {
	fd := newFakeDevice()
	fd.dbBatches = [][]dlp.DBInfo{{{Name: "A"}}}
	p := New(fd)
	if err := p.EnsureAllDBs(true); err != nil {
		t.Fatalf("EnsureAllDBs: %v", err)
	}
	if fd.lastFlags&dlp.DBListROM == 0 {
		t.Error("expected DBListROM to be set when includeROM is true")
	}
}

func TestEnsureAllDBsLoopsUntilNoMore(t *testing.T) {
	fd := newFakeDevice()
	fd.dbBatches = [][]dlp.DBInfo{
		{{Name: "A"}, {Name: "B"}},
		{{Name: "C"}},
	}
	p := New(fd)
	if err := p.EnsureAllDBs(false); err != nil {
		t.Fatalf("EnsureAllDBs: %v", err)
	}
	if p.NumDBs() != 3 {
		t.Fatalf("NumDBs = %d, want 3", p.NumDBs())
	}
	p.ResetIter()
	var names []string
	for db := p.NextDB(); db != nil; db = p.NextDB() {
		names = append(names, db.Name)
	}
	if strings.Join(names, ",") != "A,B,C" {
		t.Errorf("iteration order = %v", names)
	}
}

func TestIdentityMatch(t *testing.T) {
	fd := newFakeDevice()
	p := New(fd)
	ok, err := p.IdentityMatch(42, "jdoe")
	if err != nil {
		t.Fatalf("IdentityMatch: %v", err)
	}
	if !ok {
		t.Error("expected identity match")
	}
	ok, err = p.IdentityMatch(99, "")
	if err != nil {
		t.Fatalf("IdentityMatch: %v", err)
	}
	if ok {
		t.Error("expected identity mismatch on wrong user id")
	}
}

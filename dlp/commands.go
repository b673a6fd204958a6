package dlp

import (
	"encoding/binary"
	"time"

	"github.com/coldpalm/palmsync/palmerr"
)

// Opcodes for the minimum DLP command set. Each is distinct on the
// wire; Open/Close/Create/ReadList share a naming family but not a
// byte value.
const (
	opReadUserInfo        byte = 0x10
	opWriteUserInfo       byte = 0x11
	opReadSysInfo         byte = 0x12
	opAddSyncLogEntry     byte = 0x14
	opReadOpenDBInfo      byte = 0x15
	opOpenDB              byte = 0x16
	opCreateDB            byte = 0x18
	opCloseDB             byte = 0x19
	opDeleteDB            byte = 0x1A
	opReadAppBlock        byte = 0x1B
	opWriteAppBlock       byte = 0x1C
	opReadSortBlock       byte = 0x1D
	opReadRecordByID      byte = 0x1F
	opReadRecordByIndex   byte = 0x27
	opWriteRecord         byte = 0x21
	opWriteSortBlock      byte = 0x1E
	opReadResourceByIdx   byte = 0x20
	opWriteResource       byte = 0x22
	opDeleteResource      byte = 0x23
	opDeleteRecord        byte = 0x24
	opReadStorageInfo     byte = 0x25
	opReadRecordIDList    byte = 0x26
	opReadNextModifiedRec byte = 0x28
	opResetSyncFlags      byte = 0x29
	opReadNetSyncInfo     byte = 0x2A
	opWriteNetSyncInfo    byte = 0x2B
	opReadDBList          byte = 0x2C
	opProcessRPC          byte = 0x2D
	opOpenConduit         byte = 0x2E
	opEndOfSync           byte = 0x2F
	opReadAppPreference   byte = 0x30
	opWriteAppPreference  byte = 0x31
)

// OpenMode flags for OpenDB.
const (
	ModeRead       byte = 0x80
	ModeWrite      byte = 0x40
	ModeExclusive  byte = 0x20
	ModeSecret     byte = 0x10
)

// DBListFlags for ReadDBList.
const (
	DBListRAM    uint8 = 0x80
	DBListROM    uint8 = 0x40
	DBListMultiple uint8 = 0x20
)

// Client is the typed command layer: every method encodes one DLP
// request, issues it through the Codec, and decodes the typed result.
type Client struct {
	Codec *Codec
}

func NewClient(c *Codec) *Client { return &Client{Codec: c} }

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// SysInfo is the decoded response of ReadSysInfo.
type SysInfo struct {
	ROMVersion uint32
	Locale     uint32
	ProductID  string
	DLPMajor   uint16
	DLPMinor   uint16
}

func (c *Client) ReadSysInfo() (*SysInfo, error) {
	resp, err := c.Codec.Call(opReadSysInfo, nil)
	if err != nil {
		return nil, err
	}
	si := &SysInfo{}
	for _, a := range resp.Argv {
		switch a.ID {
		case 0:
			if len(a.Data) >= 8 {
				si.ROMVersion = binary.BigEndian.Uint32(a.Data[0:4])
				si.Locale = binary.BigEndian.Uint32(a.Data[4:8])
			}
		case 1:
			if len(a.Data) >= 4 {
				si.DLPMajor = binary.BigEndian.Uint16(a.Data[0:2])
				si.DLPMinor = binary.BigEndian.Uint16(a.Data[2:4])
			}
			if len(a.Data) > 4 {
				si.ProductID = string(a.Data[4:])
			}
		}
	}
	return si, nil
}

// UserInfo is the decoded response of ReadUserInfo.
type UserInfo struct {
	UserID        uint32
	LastSyncPC    uint32
	LastSyncDate  time.Time
	LastGoodSync  time.Time
	UserName      string
}

func (c *Client) ReadUserInfo() (*UserInfo, error) {
	resp, err := c.Codec.Call(opReadUserInfo, nil)
	if err != nil {
		return nil, err
	}
	ui := &UserInfo{}
	for _, a := range resp.Argv {
		d := a.Data
		if len(d) < 20 {
			continue
		}
		ui.UserID = binary.BigEndian.Uint32(d[0:4])
		ui.LastSyncPC = binary.BigEndian.Uint32(d[4:8])
		ui.LastSyncDate = palmTime(binary.BigEndian.Uint32(d[8:12]))
		ui.LastGoodSync = palmTime(binary.BigEndian.Uint32(d[12:16]))
		nameLen := int(d[18])
		if len(d) >= 20+nameLen {
			ui.UserName = string(trimNul(d[20 : 20+nameLen]))
		}
	}
	return ui, nil
}

// WriteUserInfo mod-flags bits, selecting which fields of the request
// body the device should actually apply.
const (
	ModUserID       byte = 0x80
	ModLastSyncPC   byte = 0x40
	ModLastSyncDate byte = 0x20
	ModUserName     byte = 0x10
)

// WriteUserInfo writes back only the fields the sync engine is allowed
// to change at end-of-session: last-sync-pc and last-sync timestamps.
func (c *Client) WriteUserInfo(hostID uint32, lastSync time.Time, lastGoodSync time.Time, modFlags byte) error {
	return c.writeUserInfo(hostID, lastSync, lastGoodSync, modFlags|ModLastSyncPC, "")
}

// WriteIdentity sets the device's user id and user name, the fields a
// normal sync is forbidden from touching; only Init mode calls this.
func (c *Client) WriteIdentity(userID uint32, userName string) error {
	return c.writeUserInfo(userID, time.Time{}, time.Time{}, ModUserID|ModUserName, userName)
}

func (c *Client) writeUserInfo(userID uint32, lastSync, lastGoodSync time.Time, modFlags byte, userName string) error {
	body := make([]byte, 0, 22+len(userName)+1)
	body = append(body, u32(userID)...)
	body = append(body, u32(unixToPalm(lastSync))...)
	body = append(body, u32(unixToPalm(lastGoodSync))...)
	body = append(body, modFlags, 0)
	body = append(body, u16(uint16(len(userName)+1))...)
	body = append(body, []byte(userName)...)
	body = append(body, 0)
	_, err := c.Codec.Call(opWriteUserInfo, []Arg{{ID: 0, Data: body}})
	return err
}

// NetSyncInfo is the device's network HotSync settings record.
type NetSyncInfo struct {
	LanSync     bool
	HostName    string
	HostAddress string
	HostSubnet  string
}

func (c *Client) ReadNetSyncInfo() (*NetSyncInfo, error) {
	resp, err := c.Codec.Call(opReadNetSyncInfo, nil)
	if err != nil {
		return nil, err
	}
	ni := &NetSyncInfo{}
	for _, a := range resp.Argv {
		d := a.Data
		if len(d) < 8 {
			continue
		}
		ni.LanSync = d[0] != 0
		hnLen := int(binary.BigEndian.Uint16(d[2:4]))
		haLen := int(binary.BigEndian.Uint16(d[4:6]))
		hsLen := int(binary.BigEndian.Uint16(d[6:8]))
		rest := d[8:]
		if len(rest) >= hnLen {
			ni.HostName = string(trimNul(rest[:hnLen]))
			rest = rest[hnLen:]
		}
		if len(rest) >= haLen {
			ni.HostAddress = string(trimNul(rest[:haLen]))
			rest = rest[haLen:]
		}
		if len(rest) >= hsLen {
			ni.HostSubnet = string(trimNul(rest[:hsLen]))
		}
	}
	return ni, nil
}

func (c *Client) WriteNetSyncInfo(ni NetSyncInfo) error {
	lan := byte(0)
	if ni.LanSync {
		lan = 1
	}
	body := []byte{lan, 0}
	body = append(body, u16(uint16(len(ni.HostName)+1))...)
	body = append(body, u16(uint16(len(ni.HostAddress)+1))...)
	body = append(body, u16(uint16(len(ni.HostSubnet)+1))...)
	body = append(body, append([]byte(ni.HostName), 0)...)
	body = append(body, append([]byte(ni.HostAddress), 0)...)
	body = append(body, append([]byte(ni.HostSubnet), 0)...)
	_, err := c.Codec.Call(opWriteNetSyncInfo, []Arg{{ID: 0, Data: body}})
	return err
}

func (c *Client) OpenConduit() error {
	_, err := c.Codec.Call(opOpenConduit, nil)
	return err
}

// EndOfSync issues DLP's session teardown call with a status code;
// status 0 means success, codes such as StatusCancel flag why the
// session ended early.
func (c *Client) EndOfSync(status uint16) error {
	_, err := c.Codec.Call(opEndOfSync, []Arg{{ID: 0, Data: u16(status)}})
	return err
}

func (c *Client) AddSyncLogEntry(text string) error {
	_, err := c.Codec.Call(opAddSyncLogEntry, []Arg{{ID: 0, Data: append([]byte(text), 0)}})
	return err
}

// DBInfo is one database's listing entry.
type DBInfo struct {
	Name       string
	Flags      uint16
	Type       uint32
	Creator    uint32
	Version    uint16
	ModNumber  uint32
	CTime      time.Time
	MTime      time.Time
	BakTime    time.Time
	Size       uint32
	CardNumber uint8
	Index      uint8
}

const FlagResDB uint16 = 0x0001

func (d DBInfo) IsResourceDB() bool { return d.Flags&FlagResDB != 0 }

// ReadDBList fetches one batch of database listings starting at
// startIndex, returning the last index seen and whether more remain.
func (c *Client) ReadDBList(flags uint8, card uint8, startIndex uint16) (lastIndex uint16, more bool, dbs []DBInfo, err error) {
	args := []Arg{
		{ID: 0, Data: []byte{flags, card}},
		{ID: 1, Data: u16(startIndex)},
	}
	resp, cerr := c.Codec.Call(opReadDBList, args)
	if cerr != nil {
		if palmerr.KindOf(cerr) == palmerr.DlpStat && resp != nil && resp.Status == StatusNotFound {
			return startIndex, false, nil, nil
		}
		return 0, false, nil, cerr
	}
	for _, a := range resp.Argv {
		switch a.ID {
		case 0:
			if len(a.Data) >= 2 {
				lastIndex = binary.BigEndian.Uint16(a.Data[0:2])
			}
			if len(a.Data) >= 3 {
				more = a.Data[2] != 0
			}
		case 1:
			dbs = append(dbs, parseDBInfoList(a.Data)...)
		}
	}
	// A zero-length batch with more still set cannot make progress, so
	// treat it as "no more" to guarantee the caller's loop terminates.
	if len(dbs) == 0 {
		more = false
	}
	return lastIndex, more, dbs, nil
}

func parseDBInfoList(b []byte) []DBInfo {
	var out []DBInfo
	for len(b) >= 44 {
		var d DBInfo
		nameEnd := 32
		for i, c := range b[:32] {
			if c == 0 {
				nameEnd = i
				break
			}
		}
		d.Name = string(b[:nameEnd])
		d.Flags = binary.BigEndian.Uint16(b[32:34])
		d.Version = binary.BigEndian.Uint16(b[34:36])
		d.Type = binary.BigEndian.Uint32(b[36:40])
		d.Creator = binary.BigEndian.Uint32(b[40:44])
		out = append(out, d)
		if len(b) < 44 {
			break
		}
		b = b[44:]
	}
	return out
}

// OpenDB opens a database by name and returns its handle.
func (c *Client) OpenDB(card uint8, name string, mode byte) (byte, error) {
	args := []Arg{
		{ID: 0, Data: []byte{card, mode}},
		{ID: 1, Data: append([]byte(name), 0)},
	}
	resp, err := c.Codec.Call(opOpenDB, args)
	if err != nil {
		return 0, err
	}
	for _, a := range resp.Argv {
		if a.ID == 0 && len(a.Data) >= 1 {
			return a.Data[0], nil
		}
	}
	return 0, palmerr.New(palmerr.Protocol, "dlp: OpenDB response missing handle", nil)
}

func (c *Client) CloseDB(handle byte) error {
	_, err := c.Codec.Call(opCloseDB, []Arg{{ID: 0, Data: []byte{handle}}})
	return err
}

func (c *Client) DeleteDB(card uint8, name string) error {
	args := []Arg{
		{ID: 0, Data: []byte{card, 0}},
		{ID: 1, Data: append([]byte(name), 0)},
	}
	_, err := c.Codec.Call(opDeleteDB, args)
	return err
}

// CreateDBSpec bundles the fields CreateDB needs.
type CreateDBSpec struct {
	Creator, Type uint32
	Card          uint8
	Flags         uint16
	Version       uint16
	Name          string
}

func (c *Client) CreateDB(spec CreateDBSpec) (byte, error) {
	body := make([]byte, 0, 12)
	body = append(body, u32(spec.Creator)...)
	body = append(body, u32(spec.Type)...)
	body = append(body, spec.Card, 0)
	body = append(body, u16(spec.Flags)...)
	body = append(body, u16(spec.Version)...)
	body = append(body, append([]byte(spec.Name), 0)...)
	resp, err := c.Codec.Call(opCreateDB, []Arg{{ID: 0, Data: body}})
	if err != nil {
		return 0, err
	}
	for _, a := range resp.Argv {
		if a.ID == 0 && len(a.Data) >= 1 {
			return a.Data[0], nil
		}
	}
	return 0, palmerr.New(palmerr.Protocol, "dlp: CreateDB response missing handle", nil)
}

// ReadOpenDBInfo returns the record/resource count of an open database.
func (c *Client) ReadOpenDBInfo(handle byte) (uint16, error) {
	resp, err := c.Codec.Call(opReadOpenDBInfo, []Arg{{ID: 0, Data: []byte{handle}}})
	if err != nil {
		return 0, err
	}
	for _, a := range resp.Argv {
		if a.ID == 0 && len(a.Data) >= 2 {
			return binary.BigEndian.Uint16(a.Data[0:2]), nil
		}
	}
	return 0, nil
}

// readBlock is shared by ReadAppBlock/ReadSortBlock: both treat a
// NOTFOUND status as "no such block" rather than an error.
func (c *Client) readBlock(op byte, handle byte) ([]byte, error) {
	args := []Arg{{ID: 0, Data: []byte{handle, 0, 0, 0, 0xFF, 0xFF}}}
	resp, err := c.Codec.Call(op, args)
	if err != nil {
		if palmerr.KindOf(err) == palmerr.DlpStat && resp != nil && resp.Status == StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	for _, a := range resp.Argv {
		if a.ID == 0 {
			return a.Data, nil
		}
	}
	return nil, nil
}

func (c *Client) ReadAppBlock(handle byte) ([]byte, error)  { return c.readBlock(opReadAppBlock, handle) }
func (c *Client) ReadSortBlock(handle byte) ([]byte, error) { return c.readBlock(opReadSortBlock, handle) }

func (c *Client) writeBlock(op byte, handle byte, data []byte) error {
	body := append([]byte{handle, 0, 0, 0}, u16(uint16(len(data)))...)
	body = append(body, data...)
	_, err := c.Codec.Call(op, []Arg{{ID: 0, Data: body}})
	return err
}

func (c *Client) WriteAppBlock(handle byte, data []byte) error {
	return c.writeBlock(opWriteAppBlock, handle, data)
}
func (c *Client) WriteSortBlock(handle byte, data []byte) error {
	return c.writeBlock(opWriteSortBlock, handle, data)
}

// Record is one decoded record.
type Record struct {
	ID         uint32
	Category   uint8
	Attributes uint8
	Data       []byte
}

// Record attribute bits.
const (
	RecAttrDeleted byte = 0x80
	RecAttrDirty   byte = 0x40
	RecAttrBusy    byte = 0x20
	RecAttrSecret  byte = 0x10
	RecAttrArchive byte = 0x08
)

func (c *Client) ReadRecordByID(handle byte, id uint32) (*Record, error) {
	args := []Arg{{ID: 0, Data: append([]byte{handle, 0}, u32(id)...)}}
	resp, err := c.Codec.Call(opReadRecordByID, args)
	if err != nil {
		return nil, err
	}
	return parseRecordResponse(resp)
}

func (c *Client) ReadRecordByIndex(handle byte, index uint16) (*Record, error) {
	body := append([]byte{handle, 0}, u16(index)...)
	resp, err := c.Codec.Call(opReadRecordByIndex, []Arg{{ID: 0, Data: body}})
	if err != nil {
		return nil, err
	}
	return parseRecordResponse(resp)
}

// ReadNextModifiedRec returns the next record with the dirty attribute
// set, advancing an implicit per-handle cursor on the device; it
// surfaces StatusNotFound as (nil, nil) rather than an error, since
// "no more modified records" is the normal loop-termination signal.
func (c *Client) ReadNextModifiedRec(handle byte) (*Record, error) {
	resp, err := c.Codec.Call(opReadNextModifiedRec, []Arg{{ID: 0, Data: []byte{handle}}})
	if err != nil {
		if palmerr.KindOf(err) == palmerr.DlpStat && resp != nil && resp.Status == StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return parseRecordResponse(resp)
}

func parseRecordResponse(resp *Response) (*Record, error) {
	r := &Record{}
	for _, a := range resp.Argv {
		d := a.Data
		if len(d) < 8 {
			continue
		}
		r.ID = binary.BigEndian.Uint32(d[0:4])
		r.Attributes = d[6]
		r.Category = d[7]
		r.Data = append([]byte{}, d[8:]...)
	}
	return r, nil
}

// ReadRecordIDList returns up to max ids starting at start; callers loop
// advancing start by len(result) until an empty batch signals the end.
func (c *Client) ReadRecordIDList(handle byte, start uint16, max uint16) ([]uint32, error) {
	body := append([]byte{handle, 0}, u16(start)...)
	body = append(body, u16(max)...)
	resp, err := c.Codec.Call(opReadRecordIDList, []Arg{{ID: 0, Data: body}})
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, a := range resp.Argv {
		if a.ID != 0 {
			continue
		}
		n := len(a.Data) / 4
		for i := 0; i < n; i++ {
			ids = append(ids, binary.BigEndian.Uint32(a.Data[i*4:i*4+4]))
		}
	}
	return ids, nil
}

func (c *Client) WriteRecord(handle byte, rec Record) (uint32, error) {
	body := []byte{handle, 0}
	body = append(body, u32(rec.ID)...)
	body = append(body, rec.Attributes, rec.Category)
	body = append(body, rec.Data...)
	resp, err := c.Codec.Call(opWriteRecord, []Arg{{ID: 0, Data: body}})
	if err != nil {
		return 0, err
	}
	for _, a := range resp.Argv {
		if a.ID == 0 && len(a.Data) >= 4 {
			return binary.BigEndian.Uint32(a.Data[0:4]), nil
		}
	}
	return rec.ID, nil
}

func (c *Client) DeleteRecord(handle byte, id uint32) error {
	body := append([]byte{handle, 0}, u32(id)...)
	_, err := c.Codec.Call(opDeleteRecord, []Arg{{ID: 0, Data: body}})
	return err
}

func (c *Client) ResetSyncFlags(handle byte) error {
	_, err := c.Codec.Call(opResetSyncFlags, []Arg{{ID: 0, Data: []byte{handle}}})
	return err
}

// Resource is one decoded resource entry.
type Resource struct {
	Type uint32
	ID   uint16
	Data []byte
}

func (c *Client) ReadResourceByIndex(handle byte, index uint16) (*Resource, error) {
	body := append([]byte{handle, 0}, u16(index)...)
	resp, err := c.Codec.Call(opReadResourceByIdx, []Arg{{ID: 0, Data: body}})
	if err != nil {
		return nil, err
	}
	r := &Resource{}
	for _, a := range resp.Argv {
		d := a.Data
		if len(d) < 6 {
			continue
		}
		r.Type = binary.BigEndian.Uint32(d[0:4])
		r.ID = binary.BigEndian.Uint16(d[4:6])
		r.Data = append([]byte{}, d[6:]...)
	}
	return r, nil
}

func (c *Client) WriteResource(handle byte, res Resource) error {
	body := []byte{handle, 0}
	body = append(body, u32(res.Type)...)
	body = append(body, u16(res.ID)...)
	body = append(body, u16(uint16(len(res.Data)))...)
	body = append(body, res.Data...)
	_, err := c.Codec.Call(opWriteResource, []Arg{{ID: 0, Data: body}})
	return err
}

func (c *Client) DeleteResource(handle byte, resType uint32, id uint16) error {
	body := append([]byte{handle, 0}, u32(resType)...)
	body = append(body, u16(id)...)
	_, err := c.Codec.Call(opDeleteResource, []Arg{{ID: 0, Data: body}})
	return err
}

// StorageInfo is a trimmed ReadStorageInfo result. The "more cards" bit
// is unreliable in practice, so this reads a single card rather than
// driving a loop off it.
type StorageInfo struct {
	TotalRAM, FreeRAM   uint32
	TotalROM, FreeROM   uint32
	CardName, ManufName string
}

func (c *Client) ReadStorageInfo(card uint8) (*StorageInfo, error) {
	resp, err := c.Codec.Call(opReadStorageInfo, []Arg{{ID: 0, Data: []byte{card, 1}}})
	if err != nil {
		return nil, err
	}
	si := &StorageInfo{}
	for _, a := range resp.Argv {
		if a.ID == 0 && len(a.Data) >= 16 {
			si.TotalRAM = binary.BigEndian.Uint32(a.Data[0:4])
			si.FreeRAM = binary.BigEndian.Uint32(a.Data[4:8])
			si.TotalROM = binary.BigEndian.Uint32(a.Data[8:12])
			si.FreeROM = binary.BigEndian.Uint32(a.Data[12:16])
		}
	}
	return si, nil
}

// ReadAppPreference fetches one preference using a two-pass protocol: a
// bufLen=0 probe to learn the true size, then a second call with the
// exact size.
func (c *Client) ReadAppPreference(creator uint32, id uint16, saved bool) (version uint16, data []byte, err error) {
	probe, err := c.readAppPreference(creator, id, saved, 0)
	if err != nil {
		return 0, nil, err
	}
	if probe.size == 0 {
		return probe.version, nil, nil
	}
	full, err := c.readAppPreference(creator, id, saved, probe.size)
	if err != nil {
		return 0, nil, err
	}
	return full.version, full.data, nil
}

type prefResult struct {
	version uint16
	size    uint16
	data    []byte
}

func (c *Client) readAppPreference(creator uint32, id uint16, saved bool, bufLen uint16) (*prefResult, error) {
	flag := byte(0)
	if saved {
		flag = 1
	}
	body := append(u32(creator), u16(id)...)
	body = append(body, u16(bufLen)...)
	body = append(body, flag, 0)
	resp, err := c.Codec.Call(opReadAppPreference, []Arg{{ID: 0, Data: body}})
	if err != nil {
		return nil, err
	}
	pr := &prefResult{}
	for _, a := range resp.Argv {
		d := a.Data
		if a.ID == 0 && len(d) >= 6 {
			pr.version = binary.BigEndian.Uint16(d[0:2])
			pr.size = binary.BigEndian.Uint16(d[2:4])
			if len(d) > 6 {
				pr.data = append([]byte{}, d[6:]...)
			}
		}
	}
	return pr, nil
}

func (c *Client) WriteAppPreference(creator uint32, id uint16, version uint16, saved bool, data []byte) error {
	flag := byte(0)
	if saved {
		flag = 1
	}
	body := append(u32(creator), u16(id)...)
	body = append(body, u16(version)...)
	body = append(body, u16(uint16(len(data)))...)
	body = append(body, flag, 0)
	body = append(body, data...)
	_, err := c.Codec.Call(opWriteAppPreference, []Arg{{ID: 0, Data: body}})
	return err
}

// --- time helpers ---

const palmEpochOffset = 2082844800 // seconds between 1904-01-01 and 1970-01-01

func palmTime(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v)-palmEpochOffset, 0).UTC()
}

func unixToPalm(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix() + palmEpochOffset)
}

func trimNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// Package pdb implements the .pdb/.prc container format: the on-disk
// representation the sync engine reads from and writes to during
// backup and restore.
package pdb

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/coldpalm/palmsync/palmerr"
)

const palmEpochOffset = 2082844800

// PalmTimeToUnix converts a Palm-epoch (1904-01-01 UTC) timestamp to a
// POSIX time.Time; zero maps to the zero Time, matching the device's own
// convention for "never set."
func PalmTimeToUnix(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v)-palmEpochOffset, 0).UTC()
}

// UnixToPalmTime is PalmTimeToUnix's inverse.
func UnixToPalmTime(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix() + palmEpochOffset)
}

// Attribute bits on the database header.
const (
	AttrResDB        uint16 = 0x0001
	AttrReadOnly     uint16 = 0x0002
	AttrAppInfoDirty uint16 = 0x0004
	AttrBackup       uint16 = 0x0008
	AttrOpen         uint16 = 0x8000
)

// Record attribute bits, mirroring dlp.Record's.
const (
	RecAttrDeleted byte = 0x80
	RecAttrDirty   byte = 0x40
	RecAttrBusy    byte = 0x20
	RecAttrSecret  byte = 0x10
	RecAttrArchive byte = 0x08
)

// Header is the fixed 78-byte .pdb/.prc header.
type Header struct {
	Name           string // 32 bytes, NUL-padded on the wire
	Attributes     uint16
	Version        uint16
	CreateDate     time.Time
	ModDate        time.Time
	BackupDate     time.Time
	ModNumber      uint32
	AppInfoOffset  uint32
	SortInfoOffset uint32
	Type           uint32
	Creator        uint32
	UniqueIDSeed   uint32
}

func (h Header) IsResourceDB() bool { return h.Attributes&AttrResDB != 0 }

// Record is one decoded record: 24-bit on-disk unique id widened to
// uint32, its attribute/category byte, and its raw payload.
type Record struct {
	ID         uint32
	Attributes byte
	Category   byte
	Data       []byte
}

// Resource is one decoded resource entry.
type Resource struct {
	Type uint32
	ID   uint16
	Data []byte
}

// File is a fully decoded .pdb/.prc container.
type File struct {
	Header    Header
	AppInfo   []byte
	SortInfo  []byte
	Records   []Record   // populated when !Header.IsResourceDB()
	Resources []Resource // populated when Header.IsResourceDB()
}

func putName(buf []byte, name string) {
	n := copy(buf, name)
	for ; n < len(buf); n++ {
		buf[n] = 0
	}
}

func readName(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

const (
	headerSize    = 78
	recEntrySize  = 8
	resEntrySize  = 10
)

// Encode serializes f into the on-disk .pdb/.prc byte layout: 78-byte
// header, 2-byte record-list header, N index entries, 2 bytes of
// placeholder, AppInfo, SortInfo, then payloads in index order.
func Encode(f File) ([]byte, error) {
	isRes := f.Header.IsResourceDB()
	n := len(f.Records)
	entrySize := recEntrySize
	if isRes {
		n = len(f.Resources)
		entrySize = resEntrySize
	}

	listLen := 2 + n*entrySize + 2
	dataOff := headerSize + listLen

	appInfoOff, sortInfoOff := 0, 0
	if len(f.AppInfo) > 0 {
		appInfoOff = dataOff
		dataOff += len(f.AppInfo)
	}
	if len(f.SortInfo) > 0 {
		sortInfoOff = dataOff
		dataOff += len(f.SortInfo)
	}

	payloads := make([][]byte, n)
	if isRes {
		for i, r := range f.Resources {
			payloads[i] = r.Data
		}
	} else {
		for i, r := range f.Records {
			payloads[i] = r.Data
		}
	}
	offsets := make([]int, n)
	payloadOff := dataOff
	for i, p := range payloads {
		offsets[i] = payloadOff
		payloadOff += len(p)
	}

	out := make([]byte, payloadOff)

	putName(out[0:32], f.Header.Name)
	binary.BigEndian.PutUint16(out[32:34], f.Header.Attributes)
	binary.BigEndian.PutUint16(out[34:36], f.Header.Version)
	binary.BigEndian.PutUint32(out[36:40], UnixToPalmTime(f.Header.CreateDate))
	binary.BigEndian.PutUint32(out[40:44], UnixToPalmTime(f.Header.ModDate))
	binary.BigEndian.PutUint32(out[44:48], UnixToPalmTime(f.Header.BackupDate))
	binary.BigEndian.PutUint32(out[48:52], f.Header.ModNumber)
	binary.BigEndian.PutUint32(out[52:56], uint32(appInfoOff))
	binary.BigEndian.PutUint32(out[56:60], uint32(sortInfoOff))
	binary.BigEndian.PutUint32(out[60:64], f.Header.Type)
	binary.BigEndian.PutUint32(out[64:68], f.Header.Creator)
	binary.BigEndian.PutUint32(out[68:72], f.Header.UniqueIDSeed)
	// bytes 72:78 of the header are reserved and left zero.

	binary.BigEndian.PutUint16(out[headerSize:headerSize+2], uint16(n))
	entryOff := headerSize + 2
	for i := 0; i < n; i++ {
		e := out[entryOff+i*entrySize : entryOff+(i+1)*entrySize]
		if isRes {
			r := f.Resources[i]
			binary.BigEndian.PutUint32(e[0:4], r.Type)
			binary.BigEndian.PutUint16(e[4:6], r.ID)
			binary.BigEndian.PutUint32(e[6:10], uint32(offsets[i]))
		} else {
			r := f.Records[i]
			binary.BigEndian.PutUint32(e[0:4], uint32(offsets[i]))
			e[4] = r.Attributes
			e[5] = byte(r.ID >> 16)
			e[6] = byte(r.ID >> 8)
			e[7] = byte(r.ID)
		}
	}

	if len(f.AppInfo) > 0 {
		copy(out[appInfoOff:], f.AppInfo)
	}
	if len(f.SortInfo) > 0 {
		copy(out[sortInfoOff:], f.SortInfo)
	}
	for i, p := range payloads {
		copy(out[offsets[i]:], p)
	}
	return out, nil
}

type indexEntry struct {
	offset int
	typ    uint32
	resID  uint16
	attr   byte
	recID  uint32
}

// Decode parses the .pdb/.prc byte layout back into a File.
func Decode(b []byte) (*File, error) {
	if len(b) < headerSize+2 {
		return nil, palmerr.New(palmerr.Protocol, "pdb: short file", nil)
	}
	var h Header
	h.Name = readName(b[0:32])
	h.Attributes = binary.BigEndian.Uint16(b[32:34])
	h.Version = binary.BigEndian.Uint16(b[34:36])
	h.CreateDate = PalmTimeToUnix(binary.BigEndian.Uint32(b[36:40]))
	h.ModDate = PalmTimeToUnix(binary.BigEndian.Uint32(b[40:44]))
	h.BackupDate = PalmTimeToUnix(binary.BigEndian.Uint32(b[44:48]))
	h.ModNumber = binary.BigEndian.Uint32(b[48:52])
	h.AppInfoOffset = binary.BigEndian.Uint32(b[52:56])
	h.SortInfoOffset = binary.BigEndian.Uint32(b[56:60])
	h.Type = binary.BigEndian.Uint32(b[60:64])
	h.Creator = binary.BigEndian.Uint32(b[64:68])
	h.UniqueIDSeed = binary.BigEndian.Uint32(b[68:72])

	n := int(binary.BigEndian.Uint16(b[headerSize : headerSize+2]))
	isRes := h.IsResourceDB()
	entrySize := recEntrySize
	if isRes {
		entrySize = resEntrySize
	}
	entryOff := headerSize + 2
	if len(b) < entryOff+n*entrySize+2 {
		return nil, palmerr.New(palmerr.Protocol, "pdb: truncated index", nil)
	}

	entries := make([]indexEntry, n)
	for i := 0; i < n; i++ {
		e := b[entryOff+i*entrySize : entryOff+(i+1)*entrySize]
		if isRes {
			entries[i] = indexEntry{
				typ:    binary.BigEndian.Uint32(e[0:4]),
				resID:  binary.BigEndian.Uint16(e[4:6]),
				offset: int(binary.BigEndian.Uint32(e[6:10])),
			}
		} else {
			entries[i] = indexEntry{
				offset: int(binary.BigEndian.Uint32(e[0:4])),
				attr:   e[4],
				recID:  uint32(e[5])<<16 | uint32(e[6])<<8 | uint32(e[7]),
			}
		}
	}

	firstPayload := len(b)
	if n > 0 {
		firstPayload = entries[0].offset
	}

	f := &File{Header: h}
	if h.AppInfoOffset != 0 {
		end := firstPayload
		if h.SortInfoOffset != 0 {
			end = int(h.SortInfoOffset)
		}
		if int(h.AppInfoOffset) <= len(b) && end <= len(b) && end >= int(h.AppInfoOffset) {
			f.AppInfo = b[h.AppInfoOffset:end]
		}
	}
	if h.SortInfoOffset != 0 {
		end := firstPayload
		if int(h.SortInfoOffset) <= len(b) && end <= len(b) && end >= int(h.SortInfoOffset) {
			f.SortInfo = b[h.SortInfoOffset:end]
		}
	}

	for i, e := range entries {
		end := len(b)
		if i+1 < n {
			end = entries[i+1].offset
		}
		if e.offset > len(b) || end > len(b) || end < e.offset {
			return nil, palmerr.New(palmerr.Protocol, "pdb: bad payload offset", nil)
		}
		data := b[e.offset:end]
		if isRes {
			f.Resources = append(f.Resources, Resource{Type: e.typ, ID: e.resID, Data: data})
		} else {
			f.Records = append(f.Records, Record{ID: e.recID, Attributes: e.attr, Data: data})
		}
	}
	return f, nil
}

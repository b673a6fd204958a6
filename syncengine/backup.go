package syncengine

import (
	"os"
	"path/filepath"

	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/palmerr"
	"github.com/coldpalm/palmsync/pdb"
)

const recordBatchSize = 32

// BackupDB fetches one database's blocks, records or resources, and
// writes it to backupDir as a .pdb/.prc file named by its (escaped)
// database name.
func (s *Session) BackupDB(info dlp.DBInfo, backupDir string) (err error) {
	handle, err := s.DLP.OpenDB(info.CardNumber, info.Name, dlp.ModeRead|dlp.ModeSecret)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.DLP.CloseDB(handle); cerr != nil && err == nil {
			err = cerr
		}
	}()

	f := pdb.File{Header: pdb.Header{
		Name:       info.Name,
		Attributes: info.Flags,
		Version:    info.Version,
		CreateDate: info.CTime,
		ModDate:    info.MTime,
		BackupDate: info.BakTime,
		ModNumber:  info.ModNumber,
		Type:       info.Type,
		Creator:    info.Creator,
	}}

	if appBlock, berr := s.DLP.ReadAppBlock(handle); berr == nil {
		f.AppInfo = appBlock
	} else if palmerr.KindOf(berr) != palmerr.DlpStat {
		return berr
	}
	if sortBlock, berr := s.DLP.ReadSortBlock(handle); berr == nil {
		f.SortInfo = sortBlock
	} else if palmerr.KindOf(berr) != palmerr.DlpStat {
		return berr
	}

	if info.IsResourceDB() {
		if err := s.readAllResources(handle, &f); err != nil {
			return err
		}
	} else {
		if err := s.readAllRecords(handle, &f); err != nil {
			return err
		}
	}

	enc, err := pdb.Encode(f)
	if err != nil {
		return err
	}
	name := EscapeName(info.Name) + Extension(info.IsResourceDB())
	path := filepath.Join(backupDir, name)
	return os.WriteFile(path, enc, 0o644)
}

func (s *Session) readAllResources(handle byte, f *pdb.File) error {
	for idx := uint16(0); ; idx++ {
		res, err := s.DLP.ReadResourceByIndex(handle, idx)
		if err != nil {
			if palmerr.KindOf(err) == palmerr.DlpStat {
				break
			}
			return err
		}
		f.Resources = append(f.Resources, pdb.Resource{Type: res.Type, ID: res.ID, Data: res.Data})
	}
	return nil
}

func (s *Session) readAllRecords(handle byte, f *pdb.File) error {
	var start uint16
	for {
		ids, err := s.DLP.ReadRecordIDList(handle, start, recordBatchSize)
		if err != nil {
			if palmerr.KindOf(err) == palmerr.DlpStat {
				break
			}
			return err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			rec, err := s.DLP.ReadRecordByID(handle, id)
			if err != nil {
				if palmerr.KindOf(err) == palmerr.DlpStat {
					continue
				}
				return err
			}
			f.Records = append(f.Records, pdb.Record{
				ID:         rec.ID,
				Attributes: rec.Attributes,
				Category:   rec.Category,
				Data:       rec.Data,
			})
		}
		start += uint16(len(ids))
	}
	return nil
}

// FullBackup enumerates every database on the device and backs each up
// in turn, continuing past per-database errors unless the failure is
// connection-fatal (NoConn or Cancel).
func (s *Session) FullBackup(backupDir string) error {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return palmerr.New(palmerr.System, "syncengine: create backup dir", err)
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
		if err := s.BackupDB(*info, backupDir); err != nil {
			kind := palmerr.KindOf(err)
			if kind == palmerr.NoConn || kind == palmerr.Cancel {
				return err
			}
			s.Log("backup of %q failed: %v", info.Name, err)
			continue
		}
		s.Log("backed up %q", info.Name)
	}

	return ArchiveOrphans(s.Logger, backupDir, live)
}

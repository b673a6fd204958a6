package syncengine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/palmerr"
	"github.com/coldpalm/palmsync/pdb"
)

// RestoreFile installs one parsed .pdb/.prc file onto the device,
// replacing any existing database of the same name: DeleteDB the
// existing copy if present, CreateDB fresh, then stream AppInfo/SortInfo
// and records/resources in index order.
func (s *Session) RestoreFile(path string) (err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return palmerr.New(palmerr.System, "syncengine: read restore file", err)
	}
	f, err := pdb.Decode(raw)
	if err != nil {
		return err
	}

	if derr := s.DLP.DeleteDB(0, f.Header.Name); derr != nil && palmerr.KindOf(derr) != palmerr.DlpStat {
		return derr
	}

	handle, err := s.DLP.CreateDB(dlp.CreateDBSpec{
		Creator: f.Header.Creator,
		Type:    f.Header.Type,
		Card:    0,
		Flags:   f.Header.Attributes,
		Version: f.Header.Version,
		Name:    f.Header.Name,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.DLP.CloseDB(handle); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if len(f.AppInfo) > 0 {
		if err := s.DLP.WriteAppBlock(handle, f.AppInfo); err != nil {
			return err
		}
	}
	if len(f.SortInfo) > 0 {
		if err := s.DLP.WriteSortBlock(handle, f.SortInfo); err != nil {
			return err
		}
	}

	if f.Header.IsResourceDB() {
		for _, res := range f.Resources {
			if err := s.DLP.WriteResource(handle, dlp.Resource{Type: res.Type, ID: res.ID, Data: res.Data}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, rec := range f.Records {
		if _, err := s.DLP.WriteRecord(handle, dlp.Record{
			ID:         rec.ID,
			Attributes: rec.Attributes,
			Category:   rec.Category,
			Data:       rec.Data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RestoreDir restores every .pdb/.prc backup file in dir, continuing
// past per-file errors.
func (s *Session) RestoreDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return palmerr.New(palmerr.System, "syncengine: read restore dir", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".pdb" && ext != ".prc" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := s.RestoreFile(path); err != nil {
			kind := palmerr.KindOf(err)
			if kind == palmerr.NoConn || kind == palmerr.Cancel {
				return err
			}
			s.Log("restore of %q failed: %v", e.Name(), err)
			continue
		}
		s.Log("restored %q", e.Name())
	}
	return nil
}

package syncengine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/coldpalm/palmsync/conduit"
	"github.com/coldpalm/palmsync/dlp"
	"github.com/coldpalm/palmsync/palmerr"
	"github.com/coldpalm/palmsync/pdb"
)

// InstallQueued pushes every .pdb/.prc file in installDir onto the
// device: any Install-flavor conduit matching the file's creator/type
// runs first, and only if none claimed it does the engine create the
// database directly and stream its records or resources across.
// Successfully installed files are removed from the queue, matching
// the classic HotSync behavior of draining ~/.palm/install on sync.
func (s *Session) InstallQueued(installDir string) error {
	entries, err := os.ReadDir(installDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return palmerr.New(palmerr.System, "syncengine: read install dir", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".pdb" && ext != ".prc" {
			continue
		}
		path := filepath.Join(installDir, e.Name())
		if err := s.installFile(path); err != nil {
			s.Log("install of %q failed: %v", e.Name(), err)
			continue
		}
		s.Log("installed %q", e.Name())
		if err := os.Remove(path); err != nil {
			s.Log("could not remove installed file %q: %v", e.Name(), err)
		}
	}
	return nil
}

func (s *Session) installFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return palmerr.New(palmerr.System, "syncengine: read staged install file", err)
	}
	f, err := pdb.Decode(raw)
	if err != nil {
		return err
	}

	info := dlp.DBInfo{
		Name:    f.Header.Name,
		Flags:   f.Header.Attributes,
		Type:    f.Header.Type,
		Creator: f.Header.Creator,
	}
	results := s.RunConduits(conduit.FlavorInstall, &info, path, "")
	if len(results) > 0 {
		return nil
	}

	if s.Policy.ForceInstall {
		_ = s.DLP.DeleteDB(0, f.Header.Name)
	}
	return s.installDirect(f)
}

func (s *Session) installDirect(f *pdb.File) error {
	handle, err := s.DLP.CreateDB(dlp.CreateDBSpec{
		Creator: f.Header.Creator,
		Type:    f.Header.Type,
		Flags:   f.Header.Attributes,
		Version: f.Header.Version,
		Name:    f.Header.Name,
	})
	if err != nil {
		return err
	}
	defer s.DLP.CloseDB(handle)

	if f.Header.IsResourceDB() {
		for _, r := range f.Resources {
			if err := s.DLP.WriteResource(handle, dlp.Resource{Type: r.Type, ID: r.ID, Data: r.Data}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range f.Records {
		if _, err := s.DLP.WriteRecord(handle, dlp.Record{ID: r.ID, Attributes: r.Attributes, Category: r.Category, Data: r.Data}); err != nil {
			return err
		}
	}
	return nil
}

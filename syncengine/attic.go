package syncengine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/coldpalm/palmsync/palmerr"
)

// ArchiveOrphans moves every file in backupDir whose canonical-decoded
// name is not present in liveNames into a sibling Attic/ directory.
// liveNames holds database names exactly as reported by the device
// (unescaped form). logger may be nil, in which case archiving proceeds
// silently.
func ArchiveOrphans(logger *log.Logger, backupDir string, liveNames map[string]bool) error {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return palmerr.New(palmerr.System, "syncengine: read backup dir", err)
	}
	atticDir := filepath.Join(backupDir, "Attic")

	for _, e := range entries {
		if e.IsDir() || e.Name() == "Attic" {
			continue
		}
		name, err := UnescapeName(e.Name())
		if err != nil {
			continue // not a recognized backup file name; leave it alone
		}
		if liveNames[name] {
			continue
		}
		if err := os.MkdirAll(atticDir, 0o755); err != nil {
			return palmerr.New(palmerr.System, "syncengine: create Attic dir", err)
		}
		dst, err := nextAtticSlot(atticDir, e.Name())
		if err != nil {
			logf(logger, "attic: %s has no free slot, skipping", e.Name())
			continue
		}
		src := filepath.Join(backupDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return palmerr.New(palmerr.System, "syncengine: move to Attic", err)
		}
		logf(logger, "attic: archived %s -> %s", e.Name(), dst)
	}
	return nil
}

// nextAtticSlot finds Attic/<name>, or Attic/<name>~N for the first free
// N in 0..99.
func nextAtticSlot(atticDir, name string) (string, error) {
	plain := filepath.Join(atticDir, name)
	if _, err := os.Stat(plain); os.IsNotExist(err) {
		return plain, nil
	}
	for n := 0; n < 100; n++ {
		candidate := filepath.Join(atticDir, fmt.Sprintf("%s~%d", name, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", palmerr.New(palmerr.System, "syncengine: all 100 Attic slots taken", nil)
}

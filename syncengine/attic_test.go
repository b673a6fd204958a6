package syncengine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
}

func TestArchiveOrphansMovesUnlisted(t *testing.T) {
	dir := t.TempDir()
	writeTempFiles(t, dir, "A.pdb", "B.pdb", "C.pdb")

	if err := ArchiveOrphans(nil, dir, map[string]bool{"A": true}); err != nil {
		t.Fatalf("ArchiveOrphans: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "A.pdb")); err != nil {
		t.Errorf("A.pdb should remain in the backup dir: %v", err)
	}
	for _, n := range []string{"B.pdb", "C.pdb"} {
		if _, err := os.Stat(filepath.Join(dir, n)); !os.IsNotExist(err) {
			t.Errorf("%s should have been moved out of the backup dir", n)
		}
		if _, err := os.Stat(filepath.Join(dir, "Attic", n)); err != nil {
			t.Errorf("%s should be in Attic: %v", n, err)
		}
	}
}

func TestArchiveOrphansTieBreaks(t *testing.T) {
	dir := t.TempDir()
	atticDir := filepath.Join(dir, "Attic")
	if err := os.MkdirAll(atticDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTempFiles(t, atticDir, "B.pdb")
	writeTempFiles(t, dir, "B.pdb")

	if err := ArchiveOrphans(nil, dir, map[string]bool{}); err != nil {
		t.Fatalf("ArchiveOrphans: %v", err)
	}
	if _, err := os.Stat(filepath.Join(atticDir, "B.pdb~0")); err != nil {
		t.Errorf("expected B.pdb~0 in Attic: %v", err)
	}
}

func TestNextAtticSlotExhausted(t *testing.T) {
	dir := t.TempDir()
	writeTempFiles(t, dir, "B.pdb")
	for n := 0; n < 100; n++ {
		writeTempFiles(t, dir, fmt.Sprintf("B.pdb~%d", n))
	}
	if _, err := nextAtticSlot(dir, "B.pdb"); err == nil {
		t.Error("expected an error when all 100 slots are taken")
	}
}

package syncengine

import "testing"

func TestEscapeUnescapeBijection(t *testing.T) {
	names := []string{
		"AddressDB",
		"Saved Preferences",
		"A/B",
		"100%",
		string([]byte{0x01, 0x7F, 0xFF}),
		"x",
	}
	for _, n := range names {
		enc := EscapeName(n) + ".pdb"
		dec, err := UnescapeName(enc)
		if err != nil {
			t.Fatalf("UnescapeName(%q) failed: %v", enc, err)
		}
		if dec != n {
			t.Errorf("round-trip %q -> %q -> %q, want original back", n, enc, dec)
		}
	}
}

func TestUnescapeSlashEscape(t *testing.T) {
	got, err := UnescapeName("AB%2FCD.pdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "AB/CD" {
		t.Errorf("got %q, want %q", got, "AB/CD")
	}
}

func TestUnescapeMalformedHex(t *testing.T) {
	if _, err := UnescapeName("AB%2zCD.pdb"); err == nil {
		t.Error("expected an error for a malformed %HH escape, got nil")
	}
}

func TestUnescapeRejectsUnknownExtension(t *testing.T) {
	if _, err := UnescapeName("AddressDB.txt"); err == nil {
		t.Error("expected an error for an unrecognized extension, got nil")
	}
}

func TestUnescapeRejectsNoExtension(t *testing.T) {
	if _, err := UnescapeName("AddressDB"); err == nil {
		t.Error("expected an error for a filename with no extension, got nil")
	}
}

func TestExtension(t *testing.T) {
	if Extension(true) != ".prc" {
		t.Error("resource databases should get the .prc extension")
	}
	if Extension(false) != ".pdb" {
		t.Error("record databases should get the .pdb extension")
	}
}

package labflow

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprintStableAndSensitiveToContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.py")
	if err := os.WriteFile(path, []byte("step one\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Error("fingerprint of unchanged file must be stable")
	}

	if err := os.WriteFile(path, []byte("step two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if changed == first {
		t.Error("fingerprint must change when file contents change")
	}
}

func TestFingerprintIgnoresPathRename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")
	if err := os.WriteFile(a, []byte("same contents\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same contents\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := Fingerprint(b)
	if err != nil {
		t.Fatal(err)
	}
	if fa != fb {
		t.Error("fingerprint must depend on contents, not path")
	}
}

func TestFingerprintMissingFile(t *testing.T) {
	if _, err := Fingerprint(filepath.Join(t.TempDir(), "missing.py")); err == nil {
		t.Error("expected error for missing file")
	}
}

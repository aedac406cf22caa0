package labflow

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Fingerprint hashes the contents of the file at path with SHA-256 and
// returns the hex digest (spec §3, C1). Hashing contents rather than the
// path string means a workflow's script can be moved without tripping
// the integrity check, and an edited script is caught even if left at
// the same path.
//
// No third-party hash library in the pack does anything crypto/sha256
// doesn't already do for a one-shot file digest, so this stays stdlib;
// see DESIGN.md.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

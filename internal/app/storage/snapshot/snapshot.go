// Package snapshot provides file-backed stores: an in-memory authoritative
// map persisted as a flat JSON snapshot via write-temp-then-atomic-rename.
// A crash mid-write never corrupts the previously committed state. Each
// snapshot file has exactly one writer, the owning store.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to path by writing a sibling temp file and
// renaming it into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// loadSnapshot reads path into dst. A missing file is not an error; a
// half-written temp file from a previous crash is removed. Returns false
// when no snapshot existed.
func loadSnapshot(path string, dst interface{}) (bool, error) {
	_ = os.Remove(path + ".tmp")

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("parse snapshot %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func marshalSnapshot(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

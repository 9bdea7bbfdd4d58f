package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"set-gorebalance/internal/rebalance"
)

// snapshotFile wraps a snapshot with a format version so old files can be
// told apart after the layout changes.
type snapshotFile struct {
	Version  int                 `json:"version"`
	Snapshot *rebalance.Snapshot `json:"snapshot"`
}

const snapshotVersion = 1

// LoadSnapshot reads a snapshot written by SaveSnapshot. A missing file is
// not an error; found reports whether one was read.
func LoadSnapshot(path string) (*rebalance.Snapshot, bool, error) {
	if path == "" {
		return nil, false, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var f snapshotFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, false, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if f.Version != snapshotVersion {
		return nil, false, fmt.Errorf("snapshot %s: unsupported version %d", path, f.Version)
	}
	if f.Snapshot == nil {
		return nil, false, fmt.Errorf("snapshot %s: empty", path)
	}
	return f.Snapshot, true, nil
}

// SaveSnapshot writes s to path atomically (tmp file + rename).
func SaveSnapshot(path string, s *rebalance.Snapshot) error {
	if path == "" {
		return nil
	}
	if s == nil {
		return fmt.Errorf("snapshot nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(snapshotFile{Version: snapshotVersion, Snapshot: s}, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

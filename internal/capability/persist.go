package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// persistedSnapshot is the on-disk JSON shape. Unknown capability names are
// preserved on load so that downgrading a build does not lose state.
type persistedSnapshot struct {
	Capabilities map[Capability]bool `json:"capabilities"`
}

// LoadSnapshot reads the last persisted snapshot from path. A missing file is
// not an error: it returns (nil, nil) and the caller should treat the state
// as first-run (see [Diff]).
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("capability: read snapshot %q: %w", path, err)
	}

	var p persistedSnapshot
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("capability: parse snapshot %q: %w", path, err)
	}
	return Snapshot(p.Capabilities), nil
}

// SaveSnapshot writes s to path atomically (write to a temp file in the same
// directory, then rename).
func SaveSnapshot(path string, s Snapshot) error {
	data, err := json.MarshalIndent(persistedSnapshot{Capabilities: s}, "", "  ")
	if err != nil {
		return fmt.Errorf("capability: encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".capabilities-*.json")
	if err != nil {
		return fmt.Errorf("capability: create temp snapshot in %q: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("capability: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("capability: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("capability: rename snapshot to %q: %w", path, err)
	}
	return nil
}

package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Snapshot reads the records at path without opening a store: no host
// identity reseed, no rewrite. Inspection tools use this so a running
// daemon stays the sole writer. A missing file yields an empty map.
func Snapshot(path string) (map[string]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("trust: read %s: %w", path, err)
	}

	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("trust: decode %s: %w", path, err)
	}
	return records, nil
}

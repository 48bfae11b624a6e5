package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/vael/warren/internal/kbucket"
)

// SaveRoutingTable gob-encodes rt's snapshot to path, overwriting
// whatever was there. Called on graceful shutdown so the next start
// doesn't begin with an empty table.
func SaveRoutingTable(rt *kbucket.RoutingTable, path string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rt.Snapshot()); err != nil {
		return fmt.Errorf("storage: encode routing table cache: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// LoadRoutingTable replays a previously saved cache into rt. A missing
// file is not an error: a node's first run has no cache yet.
func LoadRoutingTable(rt *kbucket.RoutingTable, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: read %s: %w", path, err)
	}

	var snap kbucket.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("storage: decode routing table cache: %w", err)
	}
	rt.ReplayInto(snap)
	return nil
}

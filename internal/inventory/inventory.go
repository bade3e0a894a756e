// Package inventory models the bridge target's live inventory and the
// staged mutations applied to it between heartbeats.
package inventory

import (
	"encoding/json"
	"fmt"

	"github.com/modlink/core/tag"
)

// Snapshot is one freshly fetched inventory. Slot index is the position in
// the list. Snapshots are transient: fetched per reconciliation pass and
// never cached across passes.
type Snapshot []tag.Tag

// ParseSnapshot decodes a serialized inventory blob.
func ParseSnapshot(s string) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(s), &snap); err != nil {
		return nil, fmt.Errorf("unparseable inventory data: %w", err)
	}
	return snap, nil
}

// Encode serializes the snapshot for a setinv write-back.
func (s Snapshot) Encode() string {
	if s == nil {
		s = Snapshot{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "[]"
	}
	return string(data)
}

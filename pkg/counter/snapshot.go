package counter

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the format version written by Engine.Snapshot.
const SnapshotVersion = 1

// Snapshot is a serializable copy of every counter state held by an engine.
type Snapshot struct {
	Version int              `json:"version"`
	TakenAt time.Time        `json:"taken_at"`
	Entries map[string]State `json:"entries"`
}

// Len returns the number of keys in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Entries)
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes and checks a JSON snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	for key, st := range s.Entries {
		if key == "" {
			return Snapshot{}, fmt.Errorf("snapshot contains an empty key")
		}
		if st.Cycle < 0 {
			return Snapshot{}, fmt.Errorf("snapshot entry %q has negative cycle %d", key, st.Cycle)
		}
		if st.Value < -MaxBound || st.Value > MaxBound {
			return Snapshot{}, fmt.Errorf("snapshot entry %q value %d is outside [%d, %d]", key, st.Value, -MaxBound, MaxBound)
		}
	}
	if s.Entries == nil {
		s.Entries = map[string]State{}
	}
	return s, nil
}

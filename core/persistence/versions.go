package persistence

import (
	"fmt"
	"time"
)

// versionStore keeps bounded per-item history. History survives item deletion so it
// can still be audited.
type versionStore struct {
	enabled bool
	max     int
	history map[string][]ItemVersion
}

func newVersionStore(cfg Versioning) *versionStore {
	max := cfg.MaxVersions
	if max <= 0 {
		max = DefaultMaxVersions
	}
	return &versionStore{
		enabled: cfg.Enabled,
		max:     max,
		history: make(map[string][]ItemVersion),
	}
}

// list returns a copy of the history of id, oldest first.
func (v *versionStore) list(id string) ([]ItemVersion, bool) {
	h, ok := v.history[id]
	if !ok {
		return nil, false
	}
	out := make([]ItemVersion, len(h))
	for i, entry := range h {
		out[i] = entry
		if data, err := cloneDocument(entry.Data); err == nil {
			out[i].Data = data
		}
	}
	return out, true
}

// snapshot captures item as a history entry with a deep copy of its data.
func snapshot(item *Item, user string, at time.Time) (ItemVersion, error) {
	data, err := cloneDocument(item.Data)
	if err != nil {
		return ItemVersion{}, fmt.Errorf("failed to snapshot item %s: %w", item.ID, err)
	}
	return ItemVersion{
		Version:   item.Metadata.Version,
		Data:      data,
		Timestamp: at,
		User:      user,
	}, nil
}

// appendBounded returns a new history with entry appended and the oldest entries
// evicted beyond max. The input slice is never modified.
func appendBounded(history []ItemVersion, entry ItemVersion, max int) []ItemVersion {
	start := 0
	if n := len(history) + 1; n > max {
		start = n - max
	}
	out := make([]ItemVersion, 0, len(history)+1-start)
	out = append(out, history[min(start, len(history)):]...)
	return append(out, entry)
}

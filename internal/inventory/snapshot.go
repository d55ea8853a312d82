package inventory

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Snapshot is the smoothed inventory produced by one Update. It is an
// immutable value: accessors return copies and the zero value is an empty
// inventory.
type Snapshot struct {
	counts map[string]int
	frame  uint64
	at     time.Time
}

// NewSnapshot builds a snapshot from class-name counts. Non-positive counts
// are dropped.
func NewSnapshot(counts map[string]int, frame uint64, at time.Time) Snapshot {
	s := Snapshot{counts: make(map[string]int, len(counts)), frame: frame, at: at}
	for name, c := range counts {
		if c > 0 {
			s.counts[name] = c
		}
	}
	return s
}

// Counts returns a copy of the class-name to count mapping.
func (s Snapshot) Counts() map[string]int {
	out := make(map[string]int, len(s.counts))
	maps.Copy(out, s.counts)
	return out
}

// Count returns the smoothed count for name, 0 when absent.
func (s Snapshot) Count(name string) int { return s.counts[name] }

// Has reports whether name is present.
func (s Snapshot) Has(name string) bool {
	_, ok := s.counts[name]
	return ok
}

// Names returns the present class names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s.counts))
}

// Len returns the number of classes present.
func (s Snapshot) Len() int { return len(s.counts) }

// Total returns the sum of all counts.
func (s Snapshot) Total() int {
	total := 0
	for _, c := range s.counts {
		total += c
	}
	return total
}

// Frame returns the aggregator frame number the snapshot was taken at.
func (s Snapshot) Frame() uint64 { return s.frame }

// Time returns the capture time of the frame, zero when unknown.
func (s Snapshot) Time() time.Time { return s.at }

// MarshalJSON encodes the snapshot as its class-name to count object, the
// shape inventory messages carry.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.counts == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.counts)
}

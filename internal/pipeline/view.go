package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/banshee-data/inventory.report/internal/broadcast"
	"github.com/banshee-data/inventory.report/internal/capture"
	"github.com/banshee-data/inventory.report/internal/inventory"
	"github.com/banshee-data/inventory.report/internal/presence"
)

// DefaultTraceLen is how many cycles of per-class history a View keeps.
const DefaultTraceLen = 300

// Trace is the recent per-frame history of one class: the raw count seen in
// each frame and the smoothed count published after it.
type Trace struct {
	ID       int   `json:"id"`
	Raw      []int `json:"raw"`
	Smoothed []int `json:"smoothed"`
}

// View is a copy of the state the pipeline last published. The HTTP surface
// reads it instead of touching the aggregator or tracker.
type View struct {
	UpdatedAt  time.Time             `json:"updated_at"`
	Inventory  inventory.Snapshot    `json:"inventory"`
	Sorted     []inventory.Entry     `json:"sorted"`
	Timers     map[string]string     `json:"timers"`
	Sales      []presence.SaleRecord `json:"sales"`
	Aggregator inventory.Stats       `json:"aggregator"`
	Tracker    presence.Stats        `json:"tracker"`
	Stream     broadcast.Stats       `json:"stream"`
	Source     capture.Info          `json:"source"`
	History    map[string]Trace      `json:"-"`
}

// SalesTail returns the most recent limit sales, or all of them when limit
// is not positive.
func (v View) SalesTail(limit int) []presence.SaleRecord {
	if limit > 0 && limit < len(v.Sales) {
		return v.Sales[len(v.Sales)-limit:]
	}
	return v.Sales
}

// Classes returns the labels with recorded history in name order.
func (v View) Classes() []string {
	return slices.Sorted(maps.Keys(v.History))
}

// SalesByProduct counts recorded sales per product.
func (v View) SalesByProduct() map[string]int {
	out := make(map[string]int)
	for _, s := range v.Sales {
		out[s.Product]++
	}
	return out
}

// traces accumulates per-class history across cycles.
type traces struct {
	limit int
	by    map[int]*Trace
}

func newTraces(limit int) *traces {
	if limit < 1 {
		limit = DefaultTraceLen
	}
	return &traces{limit: limit, by: make(map[int]*Trace)}
}

func (t *traces) record(agg *inventory.Aggregator) {
	for _, id := range agg.ClassIDs() {
		tr, ok := t.by[id]
		if !ok {
			tr = &Trace{ID: id}
			t.by[id] = tr
		}
		raw := 0
		if last := agg.RawHistory(id, 1); len(last) == 1 {
			raw = last[0]
		}
		tr.Raw = appendBounded(tr.Raw, raw, t.limit)
		tr.Smoothed = appendBounded(tr.Smoothed, agg.ClassCount(id), t.limit)
	}
}

func (t *traces) snapshot(agg *inventory.Aggregator) map[string]Trace {
	out := make(map[string]Trace, len(t.by))
	for _, id := range slices.Sorted(maps.Keys(t.by)) {
		tr := t.by[id]
		label := agg.ClassLabel(id)
		if _, taken := out[label]; taken {
			label = fmt.Sprintf("%s (%d)", label, id)
		}
		out[label] = Trace{
			ID:       id,
			Raw:      slices.Clone(tr.Raw),
			Smoothed: slices.Clone(tr.Smoothed),
		}
	}
	return out
}

func (t *traces) reset() { clear(t.by) }

func appendBounded(s []int, v, limit int) []int {
	s = append(s, v)
	if len(s) > limit {
		s = slices.Delete(s, 0, len(s)-limit)
	}
	return s
}

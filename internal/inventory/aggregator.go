// Package inventory turns noisy per-frame detections into stable per-class
// item counts using a sliding window of raw counts and a selectable estimator.
//
// An Aggregator is owned by a single goroutine and does no locking.
package inventory

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/inventory.report/internal/detect"
)

// Method selects the estimator applied to a class window.
type Method string

const (
	Median Method = "median"
	Mean   Method = "mean"
	Mode   Method = "mode"
)

// ParseMethod maps a configured name to a Method. Unknown names fall back to
// Median.
func ParseMethod(name string) Method {
	switch m := Method(strings.ToLower(strings.TrimSpace(name))); m {
	case Median, Mean, Mode:
		return m
	default:
		return Median
	}
}

// Entry is one row of a sorted inventory listing.
type Entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats summarises aggregator activity.
type Stats struct {
	FrameCount            uint64  `json:"frame_count"`
	TotalDetections       uint64  `json:"total_detections"`
	AvgDetectionsPerFrame float64 `json:"avg_detections_per_frame"`
	UniqueClassesTracked  int     `json:"unique_classes_tracked"`
	CurrentUniqueClasses  int     `json:"current_unique_classes"`
	CurrentTotalItems     int     `json:"current_total_items"`
	SmoothingWindow       int     `json:"smoothing_window"`
	SmoothingMethod       Method  `json:"smoothing_method"`
}

// Aggregator keeps a window of the last W raw counts per class and derives a
// smoothed count from it on every frame.
type Aggregator struct {
	window int
	method Method
	names  map[int]string

	classes  arena
	smoothed map[int]int
	current  Snapshot

	frameCount      uint64
	totalDetections uint64

	// scratch buffers reused across frames
	tally  map[int]int
	ints   []int
	floats []float64
}

// New creates an aggregator. A window below 1 is treated as 1. names maps
// class ids to display names and may be nil.
func New(window int, method Method, names map[int]string) *Aggregator {
	if window < 1 {
		window = 1
	}
	a := &Aggregator{
		window:   window,
		method:   ParseMethod(string(method)),
		classes:  newArena(),
		smoothed: make(map[int]int),
		tally:    make(map[int]int),
	}
	a.SetClassNames(names)
	return a
}

// SetClassNames replaces the id to display-name table. The current snapshot
// keeps the names it was built with until the next Update.
func (a *Aggregator) SetClassNames(names map[int]string) {
	a.names = make(map[int]string, len(names))
	for k, v := range names {
		a.names[k] = v
	}
}

// Window returns the configured window size.
func (a *Aggregator) Window() int { return a.window }

// Method returns the estimator in use.
func (a *Aggregator) Method() Method { return a.method }

// Update folds one frame of detections into the class histories and returns
// the new snapshot. Every class seen so far receives a sample, 0 when it is
// absent from this frame.
func (a *Aggregator) Update(dets []detect.Detection) Snapshot {
	return a.UpdateAt(dets, time.Time{})
}

// UpdateAt is Update for a frame captured at t.
func (a *Aggregator) UpdateAt(dets []detect.Detection, t time.Time) Snapshot {
	a.frameCount++
	a.totalDetections += uint64(len(dets))

	clear(a.tally)
	for _, d := range dets {
		a.tally[d.ClassID]++
		h := a.classes.ensure(d.ClassID, a.window)
		if d.ClassName != "" {
			h.label = d.ClassName
		}
	}

	counts := make(map[string]int)
	clear(a.smoothed)
	for i := range a.classes.slots {
		h := &a.classes.slots[i]
		h.push(a.tally[h.id])

		a.ints = h.values(a.ints[:0])
		v := a.estimate(a.ints)
		if v > 0 {
			a.smoothed[h.id] = v
			counts[a.displayName(h)] += v
		}
	}

	a.current = NewSnapshot(counts, a.frameCount, t)
	return a.current
}

func (a *Aggregator) displayName(h *classHistory) string {
	if name, ok := a.names[h.id]; ok && name != "" {
		return name
	}
	if h.label != "" {
		return h.label
	}
	return fmt.Sprintf("class_%d", h.id)
}

func (a *Aggregator) estimate(window []int) int {
	if len(window) == 0 {
		return 0
	}
	switch a.method {
	case Mean:
		return int(math.RoundToEven(stat.Mean(a.toFloats(window), nil)))
	case Mode:
		return mode(window)
	default:
		f := a.toFloats(window)
		sort.Float64s(f)
		// Empirical quantile at 0.5 is the lower middle value for even n.
		return int(stat.Quantile(0.5, stat.Empirical, f, nil))
	}
}

func (a *Aggregator) toFloats(v []int) []float64 {
	a.floats = a.floats[:0]
	for _, x := range v {
		a.floats = append(a.floats, float64(x))
	}
	return a.floats
}

// mode returns the most frequent value, preferring the smallest on ties.
func mode(window []int) int {
	freq := make(map[int]int, len(window))
	for _, v := range window {
		freq[v]++
	}
	best, bestN := 0, 0
	for v, n := range freq {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

// Inventory returns the snapshot produced by the last Update.
func (a *Aggregator) Inventory() Snapshot { return a.current }

// TotalItems returns the sum of smoothed counts across all classes.
func (a *Aggregator) TotalItems() int { return a.current.Total() }

// ClassCount returns the smoothed count for a class id.
func (a *Aggregator) ClassCount(id int) int { return a.smoothed[id] }

// CountsByID returns a copy of the smoothed counts keyed by class id.
func (a *Aggregator) CountsByID() map[int]int {
	out := make(map[int]int, len(a.smoothed))
	for k, v := range a.smoothed {
		out[k] = v
	}
	return out
}

// Sorted lists the current inventory by "count" (descending, ties by name) or
// by "name". Any other key lists by name.
func (a *Aggregator) Sorted(by string) []Entry {
	entries := make([]Entry, 0, a.current.Len())
	for _, name := range a.current.Names() {
		entries = append(entries, Entry{Name: name, Count: a.current.Count(name)})
	}
	if by == "count" {
		slices.SortStableFunc(entries, func(x, y Entry) int {
			return cmp.Compare(y.Count, x.Count)
		})
	}
	return entries
}

// RawHistory returns the last n raw counts for a class, oldest first. n <= 0
// returns the whole window. Unknown classes return nil.
func (a *Aggregator) RawHistory(id, n int) []int {
	h := a.classes.get(id)
	if h == nil {
		return nil
	}
	vals := h.values(nil)
	if n > 0 && n < len(vals) {
		vals = vals[len(vals)-n:]
	}
	return vals
}

// HistoryLen returns the number of samples held for a class.
func (a *Aggregator) HistoryLen(id int) int {
	if h := a.classes.get(id); h != nil {
		return h.len()
	}
	return 0
}

// ClassIDs returns every class id seen since the last Reset, in ascending
// order.
func (a *Aggregator) ClassIDs() []int {
	ids := make([]int, 0, len(a.classes.slots))
	for _, h := range a.classes.slots {
		ids = append(ids, h.id)
	}
	slices.Sort(ids)
	return ids
}

// ClassLabel returns the display name used for a class id.
func (a *Aggregator) ClassLabel(id int) string {
	if h := a.classes.get(id); h != nil {
		return a.displayName(h)
	}
	return detect.ClassName(a.names, id)
}

// Confidence scores the stability of a class count as 1/(1+cv), where cv is
// the population coefficient of variation of its window. A constant zero
// window scores 1; fewer than two samples, an unknown class, or a zero mean
// with spread scores 0.
func (a *Aggregator) Confidence(id int) float64 {
	h := a.classes.get(id)
	if h == nil || h.len() < 2 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(a.toFloats(h.values(a.ints[:0])), nil)
	if mean == 0 {
		if std == 0 {
			return 1
		}
		return 0
	}
	return 1 / (1 + std/mean)
}

// Reset clears all histories, the current snapshot and the counters.
func (a *Aggregator) Reset() {
	a.classes.reset()
	clear(a.smoothed)
	a.current = Snapshot{}
	a.frameCount = 0
	a.totalDetections = 0
}

// Stats returns activity counters and the current totals.
func (a *Aggregator) Stats() Stats {
	avg := 0.0
	if a.frameCount > 0 {
		avg = float64(a.totalDetections) / float64(a.frameCount)
	}
	return Stats{
		FrameCount:            a.frameCount,
		TotalDetections:       a.totalDetections,
		AvgDetectionsPerFrame: avg,
		UniqueClassesTracked:  len(a.classes.slots),
		CurrentUniqueClasses:  a.current.Len(),
		CurrentTotalItems:     a.current.Total(),
		SmoothingWindow:       a.window,
		SmoothingMethod:       a.method,
	}
}

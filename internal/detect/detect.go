// Package detect defines the object-detection capability consumed by the
// pipeline, its two implementations (a local colour-blob detector and a
// remote inference endpoint), and frame annotation.
package detect

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Detection is a single object found in a frame.
type Detection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2 in pixels
}

// Normalize orders the bounding box corners so that x1<=x2 and y1<=y2, and
// clamps confidence into [0,1].
func (d Detection) Normalize() Detection {
	if d.BBox[0] > d.BBox[2] {
		d.BBox[0], d.BBox[2] = d.BBox[2], d.BBox[0]
	}
	if d.BBox[1] > d.BBox[3] {
		d.BBox[1], d.BBox[3] = d.BBox[3], d.BBox[1]
	}
	switch {
	case d.Confidence < 0:
		d.Confidence = 0
	case d.Confidence > 1:
		d.Confidence = 1
	}
	return d
}

// Detector runs object detection over one frame. Implementations must be
// safe to call from a single goroutine; the pipeline never calls Detect
// concurrently.
type Detector interface {
	// Detect returns the objects found in img, ordered as the model
	// reports them. An empty slice is a valid result.
	Detect(ctx context.Context, img image.Image) ([]Detection, error)

	// ClassNames maps class ids to display names.
	ClassNames() map[int]string
}

// ClassName resolves a display name for id, falling back to "class_<id>".
func ClassName(names map[int]string, id int) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("class_%d", id)
}

// LatencyWindow keeps the most recent inference durations and derives the
// average latency and throughput reported in stats messages.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// DefaultLatencySamples is the number of inference timings averaged.
const DefaultLatencySamples = 100

// NewLatencyWindow creates a window holding up to size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	if size < 1 {
		size = DefaultLatencySamples
	}
	return &LatencyWindow{samples: make([]float64, size)}
}

// Observe records one inference duration.
func (w *LatencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d.Seconds()
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Average returns the mean inference time in seconds, or 0 with no samples.
func (w *LatencyWindow) Average() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	return stat.Mean(w.samples[:n], nil)
}

// FPS returns 1/Average, or 0 when no timing is known.
func (w *LatencyWindow) FPS() float64 {
	avg := w.Average()
	if avg <= 0 {
		return 0
	}
	return 1.0 / avg
}

// Reset discards all samples.
func (w *LatencyWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.full = false
}

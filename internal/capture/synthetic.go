package capture

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/inventory.report/internal/detect"
	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/timeutil"
)

var (
	wallColor  = color.RGBA{R: 200, G: 200, B: 196, A: 255}
	plankColor = color.RGBA{R: 110, G: 85, B: 60, A: 255}
)

// ScriptedItem is one product placed on the rendered shelf. Positions are
// fractions of the frame so a scene renders at any resolution.
type ScriptedItem struct {
	Product detect.PaletteEntry
	// X, Y, W, H locate the item as fractions of the frame size.
	X, Y, W, H float64
	// RemovedAt is the frame from which the item is gone; 0 keeps it.
	RemovedAt uint64
	// RestockedAt is the frame from which a removed item is back; 0 never.
	RestockedAt uint64
	// FlickerEvery hides the item for a single frame every N frames, the
	// way a passing hand occludes it.
	FlickerEvery uint64
}

func (it ScriptedItem) visible(frame uint64) bool {
	if it.FlickerEvery > 0 && frame%it.FlickerEvery == 0 {
		return false
	}
	if it.RemovedAt == 0 || frame < it.RemovedAt {
		return true
	}
	return it.RestockedAt != 0 && frame >= it.RestockedAt
}

// DefaultScene stocks two planks with the default palette. At 30 fps the Cup
// is taken after 10s and restocked after 30s, the second Bowl1 is taken after
// 20s, and Bowl2 is briefly occluded every 1.5s.
func DefaultScene() []ScriptedItem {
	p := detect.DefaultPalette
	return []ScriptedItem{
		{Product: p[0], X: 0.08, Y: 0.22, W: 0.12, H: 0.16},
		{Product: p[0], X: 0.24, Y: 0.22, W: 0.12, H: 0.16, RemovedAt: 600},
		{Product: p[1], X: 0.44, Y: 0.22, W: 0.12, H: 0.16, FlickerEvery: 45},
		{Product: p[2], X: 0.66, Y: 0.24, W: 0.08, H: 0.14, RemovedAt: 300, RestockedAt: 900},
		{Product: p[3], X: 0.10, Y: 0.66, W: 0.22, H: 0.08},
		{Product: p[4], X: 0.50, Y: 0.58, W: 0.06, H: 0.22},
	}
}

// SyntheticSource renders a shelf scene. It never fails a read while open,
// but a random occluder can be enabled to stress the smoothing stage.
type SyntheticSource struct {
	state
	items         []ScriptedItem
	width, height int
	rng           *rand.Rand
	occlusionRate float64
	seq           uint64
}

// SyntheticOption configures a SyntheticSource.
type SyntheticOption func(*SyntheticSource)

// WithScene replaces the default scene.
func WithScene(items []ScriptedItem) SyntheticOption {
	return func(s *SyntheticSource) { s.items = append([]ScriptedItem(nil), items...) }
}

// WithOcclusion hides one random item in a fraction rate of frames.
func WithOcclusion(rate float64) SyntheticOption {
	return func(s *SyntheticSource) { s.occlusionRate = rate }
}

// NewSyntheticSource returns an open synthetic source.
func NewSyntheticSource(width, height, fps int, seed int64, clock timeutil.Clock, logger *slog.Logger, opts ...SyntheticOption) *SyntheticSource {
	s := &SyntheticSource{
		state: state{
			name:   "synthetic",
			clock:  clock,
			logger: monitoring.Component(logger, "capture"),
			fps:    fps,
		},
		items:  DefaultScene(),
		width:  max(width, 1),
		height: max(height, 1),
		rng:    rand.New(rand.NewPCG(uint64(seed), 0x5eed)),
	}
	for _, o := range opts {
		o(s)
	}
	s.markOpen(true)
	s.logger.Info("synthetic source opened", "width", s.width, "height", s.height, "items", len(s.items))
	return s
}

// Read renders the next frame of the scene.
func (s *SyntheticSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if !s.isOpen() {
		return Frame{}, s.recordFailure(closedErr(s.name))
	}
	s.seq++
	return s.recordFrame(s.Render(s.seq)), nil
}

// Render draws the scene as it looks at the given frame number.
func (s *SyntheticSource) Render(frame uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(wallColor), image.Point{}, draw.Src)

	for _, y := range []float64{0.40, 0.82} {
		plank := s.rect(0.02, y, 0.96, 0.04)
		draw.Draw(img, plank, image.NewUniform(plankColor), image.Point{}, draw.Src)
	}

	hidden := -1
	if s.occlusionRate > 0 && len(s.items) > 0 && s.rng.Float64() < s.occlusionRate {
		hidden = s.rng.IntN(len(s.items))
	}
	for i, it := range s.items {
		if i == hidden || !it.visible(frame) {
			continue
		}
		draw.Draw(img, s.rect(it.X, it.Y, it.W, it.H), image.NewUniform(it.Product.Color), image.Point{}, draw.Src)
	}
	return img
}

func (s *SyntheticSource) rect(x, y, w, h float64) image.Rectangle {
	fw, fh := float64(s.width), float64(s.height)
	return image.Rect(int(x*fw), int(y*fh), int((x+w)*fw), int((y+h)*fh))
}

// Reconnect reopens the scene.
func (s *SyntheticSource) Reconnect(ctx context.Context, maxAttempts int, delay time.Duration) bool {
	return s.reconnect(ctx, maxAttempts, delay, func() {}, func(context.Context) error { return nil })
}

// Close releases the source.
func (s *SyntheticSource) Close() error {
	s.markOpen(false)
	s.logger.Info("synthetic source released")
	return nil
}

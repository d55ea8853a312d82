package detect

import (
	"context"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// PaletteEntry binds a product class to the colour it is painted with.
type PaletteEntry struct {
	ClassID int
	Name    string
	Color   color.RGBA
}

// DefaultPalette is shared by the colour detector and the synthetic source.
var DefaultPalette = []PaletteEntry{
	{ClassID: 0, Name: "Bowl1", Color: color.RGBA{R: 220, G: 40, B: 40, A: 255}},
	{ClassID: 1, Name: "Bowl2", Color: color.RGBA{R: 40, G: 170, B: 60, A: 255}},
	{ClassID: 2, Name: "Cup", Color: color.RGBA{R: 40, G: 80, B: 220, A: 255}},
	{ClassID: 3, Name: "Plate", Color: color.RGBA{R: 235, G: 200, B: 30, A: 255}},
	{ClassID: 4, Name: "Bottle", Color: color.RGBA{R: 150, G: 50, B: 200, A: 255}},
}

// ColorDetector finds solid blobs of palette colours. It stands in for a
// trained model when the shelf is staged with colour-coded products, and is
// what the synthetic source is rendered for.
type ColorDetector struct {
	palette       []PaletteEntry
	names         map[int]string
	tolerance     int
	minArea       int
	confThreshold float64
	imgSize       int
}

// ColorOption configures a ColorDetector.
type ColorOption func(*ColorDetector)

// WithTolerance sets the maximum per-pixel RGB Manhattan distance to a
// palette colour.
func WithTolerance(t int) ColorOption {
	return func(d *ColorDetector) {
		if t > 0 {
			d.tolerance = t
		}
	}
}

// WithMinArea drops blobs smaller than a pixels, measured in the source frame.
func WithMinArea(a int) ColorOption {
	return func(d *ColorDetector) {
		if a >= 0 {
			d.minArea = a
		}
	}
}

// WithConfThreshold drops blobs whose fill ratio is below c.
func WithConfThreshold(c float64) ColorOption {
	return func(d *ColorDetector) { d.confThreshold = c }
}

// WithImgSize bounds the longest side of the image the blob search runs on.
// Frames larger than this are downscaled first. Zero disables scaling.
func WithImgSize(px int) ColorOption {
	return func(d *ColorDetector) {
		if px >= 0 {
			d.imgSize = px
		}
	}
}

// NewColorDetector creates a detector for palette. Name overrides in names
// take precedence over palette names.
func NewColorDetector(palette []PaletteEntry, names map[int]string, opts ...ColorOption) *ColorDetector {
	d := &ColorDetector{
		palette:       append([]PaletteEntry(nil), palette...),
		names:         make(map[int]string, len(palette)),
		tolerance:     60,
		minArea:       400,
		confThreshold: 0.25,
		imgSize:       640,
	}
	for _, p := range palette {
		d.names[p.ClassID] = p.Name
	}
	for id, n := range names {
		d.names[id] = n
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ClassNames returns a copy of the id to name table.
func (d *ColorDetector) ClassNames() map[int]string {
	out := make(map[int]string, len(d.names))
	for k, v := range d.names {
		out[k] = v
	}
	return out
}

// Detect labels 4-connected regions of palette-coloured pixels and reports one
// detection per region. Confidence is the fraction of the bounding box the
// region fills.
func (d *ColorDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := img.Bounds()
	if src.Empty() {
		return []Detection{}, nil
	}
	work, scale := d.prepare(img)
	b := work.Bounds()
	w, h := b.Dx(), b.Dy()

	// class index per pixel, -1 for background
	labels := make([]int8, w*h)
	for y := 0; y < h; y++ {
		row := work.Pix[y*work.Stride : y*work.Stride+w*4]
		for x := 0; x < w; x++ {
			labels[y*w+x] = int8(d.match(row[x*4], row[x*4+1], row[x*4+2]))
		}
	}

	minArea := float64(d.minArea) / (scale * scale)
	visited := make([]bool, w*h)
	stack := make([]int, 0, 1024)
	dets := []Detection{}

	for start := range labels {
		if visited[start] || labels[start] < 0 {
			continue
		}
		cls := labels[start]
		minX, minY, maxX, maxY := w, h, -1, -1
		area := 0

		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			area++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for _, n := range [4]int{i - 1, i + 1, i - w, i + w} {
				if n < 0 || n >= len(labels) || visited[n] || labels[n] != cls {
					continue
				}
				// no wrap across row ends
				if (n == i-1 && x == 0) || (n == i+1 && x == w-1) {
					continue
				}
				visited[n] = true
				stack = append(stack, n)
			}
		}

		if float64(area) < minArea {
			continue
		}
		boxArea := float64((maxX - minX + 1) * (maxY - minY + 1))
		conf := float64(area) / boxArea
		if conf < d.confThreshold {
			continue
		}

		entry := d.palette[cls]
		dets = append(dets, Detection{
			ClassID:    entry.ClassID,
			ClassName:  ClassName(d.names, entry.ClassID),
			Confidence: math.Round(conf*1000) / 1000,
			BBox: [4]float64{
				float64(src.Min.X) + float64(minX)*scale,
				float64(src.Min.Y) + float64(minY)*scale,
				float64(src.Min.X) + float64(maxX+1)*scale,
				float64(src.Min.Y) + float64(maxY+1)*scale,
			},
		})
	}
	return dets, nil
}

// prepare returns an RGBA copy of img, downscaled so its longest side is at
// most imgSize, and the factor that maps work pixels back to source pixels.
func (d *ColorDetector) prepare(img image.Image) (*image.RGBA, float64) {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	scale := 1.0
	if d.imgSize > 0 && longest > d.imgSize {
		scale = float64(longest) / float64(d.imgSize)
	}

	if scale == 1.0 {
		if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
			return rgba, 1.0
		}
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
		return dst, 1.0
	}

	w := int(math.Round(float64(b.Dx()) / scale))
	h := int(math.Round(float64(b.Dy()) / scale))
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	// nearest neighbour keeps blob edges crisp; interpolation would blend
	// colours into values that match no palette entry
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, scale
}

// match returns the index of the closest palette colour within tolerance, or
// -1.
func (d *ColorDetector) match(r, g, b uint8) int {
	best, bestDist := -1, d.tolerance+1
	for i, p := range d.palette {
		dist := absDiff(r, p.Color.R) + absDiff(g, p.Color.G) + absDiff(b, p.Color.B)
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

package detect

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxColor   = color.RGBA{G: 255, A: 255}
	labelColor = color.RGBA{A: 255}
)

const boxThickness = 2

// Annotate returns a copy of img with a box and a "name conf" label drawn for
// every detection. img itself is not modified.
func Annotate(img image.Image, dets []Detection, showConf bool) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	face := basicfont.Face7x13
	for _, det := range dets {
		x1, y1 := int(det.BBox[0]), int(det.BBox[1])
		x2, y2 := int(det.BBox[2]), int(det.BBox[3])
		r := image.Rect(x1, y1, x2, y2).Intersect(b)
		if r.Empty() {
			continue
		}
		strokeRect(out, r, boxThickness, boxColor)

		label := det.ClassName
		if showConf {
			label += fmt.Sprintf(" %.2f", det.Confidence)
		}
		d := &font.Drawer{Dst: out, Src: image.NewUniform(labelColor), Face: face}
		width := d.MeasureString(label).Ceil()
		height := face.Metrics().Height.Ceil()

		// label sits above the box, or inside it at the top edge of the frame
		top := r.Min.Y - height - 4
		if top < b.Min.Y {
			top = r.Min.Y
		}
		bg := image.Rect(r.Min.X, top, r.Min.X+width+4, top+height+4).Intersect(b)
		draw.Draw(out, bg, image.NewUniform(boxColor), image.Point{}, draw.Src)

		d.Dot = fixed.P(r.Min.X+2, top+height)
		d.DrawString(label)
	}
	return out
}

func strokeRect(dst *image.RGBA, r image.Rectangle, t int, c color.Color) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}

package detect

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inventory.report/internal/config"
	"github.com/banshee-data/inventory.report/internal/httputil"
)

var grey = color.RGBA{R: 128, G: 128, B: 128, A: 255}

func shelf(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(grey), image.Point{}, draw.Src)
	return img
}

func paint(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func TestNormalize(t *testing.T) {
	d := Detection{Confidence: 1.4, BBox: [4]float64{50, 40, 10, 20}}.Normalize()
	assert.Equal(t, [4]float64{10, 20, 50, 40}, d.BBox)
	assert.Equal(t, 1.0, d.Confidence)

	d = Detection{Confidence: -0.2}.Normalize()
	assert.Equal(t, 0.0, d.Confidence)
}

func TestClassName(t *testing.T) {
	names := map[int]string{0: "Bowl1", 1: ""}
	assert.Equal(t, "Bowl1", ClassName(names, 0))
	assert.Equal(t, "class_1", ClassName(names, 1))
	assert.Equal(t, "class_9", ClassName(nil, 9))
}

func TestLatencyWindow(t *testing.T) {
	w := NewLatencyWindow(3)
	assert.Equal(t, 0.0, w.Average())
	assert.Equal(t, 0.0, w.FPS())

	w.Observe(100 * time.Millisecond)
	assert.InDelta(t, 0.1, w.Average(), 1e-9)
	assert.InDelta(t, 10.0, w.FPS(), 1e-9)

	// oldest sample is overwritten once the window is full
	w.Observe(1 * time.Second)
	w.Observe(2 * time.Second)
	w.Observe(3 * time.Second)
	assert.InDelta(t, 2.0, w.Average(), 1e-9)
	assert.InDelta(t, 0.5, w.FPS(), 1e-9)

	w.Reset()
	assert.Equal(t, 0.0, w.Average())

	assert.Len(t, NewLatencyWindow(0).samples, DefaultLatencySamples)
}

func TestColorDetector(t *testing.T) {
	img := shelf(200, 100)
	paint(img, image.Rect(20, 20, 60, 60), DefaultPalette[0].Color)   // Bowl1, 1600px
	paint(img, image.Rect(100, 30, 130, 50), DefaultPalette[2].Color) // Cup, 600px
	paint(img, image.Rect(170, 80, 175, 85), DefaultPalette[3].Color) // too small

	d := NewColorDetector(DefaultPalette, map[int]string{2: "Mug"}, WithImgSize(0), WithMinArea(400))
	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 0, dets[0].ClassID)
	assert.Equal(t, "Bowl1", dets[0].ClassName)
	assert.Equal(t, [4]float64{20, 20, 60, 60}, dets[0].BBox)
	assert.Equal(t, 1.0, dets[0].Confidence)

	assert.Equal(t, 2, dets[1].ClassID)
	assert.Equal(t, "Mug", dets[1].ClassName)
	assert.Equal(t, [4]float64{100, 30, 130, 50}, dets[1].BBox)
}

func TestColorDetector_SeparatesTouchingClasses(t *testing.T) {
	img := shelf(120, 60)
	paint(img, image.Rect(10, 10, 40, 40), DefaultPalette[0].Color)
	paint(img, image.Rect(40, 10, 70, 40), DefaultPalette[1].Color)

	d := NewColorDetector(DefaultPalette, nil, WithImgSize(0), WithMinArea(100))
	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "Bowl1", dets[0].ClassName)
	assert.Equal(t, "Bowl2", dets[1].ClassName)
}

func TestColorDetector_Downscale(t *testing.T) {
	img := shelf(200, 100)
	paint(img, image.Rect(20, 20, 60, 60), DefaultPalette[4].Color)

	d := NewColorDetector(DefaultPalette, nil, WithImgSize(100), WithMinArea(400))
	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "Bottle", dets[0].ClassName)
	for i, want := range []float64{20, 20, 60, 60} {
		assert.InDelta(t, want, dets[0].BBox[i], 2.0, "bbox[%d]", i)
	}
}

func TestColorDetector_EmptyAndCancelled(t *testing.T) {
	d := NewColorDetector(DefaultPalette, nil)

	dets, err := d.Detect(context.Background(), shelf(64, 64))
	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.NotNil(t, dets)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Detect(ctx, shelf(64, 64))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColorDetector_ConfThreshold(t *testing.T) {
	// An L shape fills half of its bounding box.
	img := shelf(100, 100)
	paint(img, image.Rect(10, 10, 20, 60), DefaultPalette[0].Color)
	paint(img, image.Rect(10, 50, 60, 60), DefaultPalette[0].Color)

	loose := NewColorDetector(DefaultPalette, nil, WithImgSize(0), WithMinArea(10), WithConfThreshold(0.1))
	dets, err := loose.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Less(t, dets[0].Confidence, 0.5)

	strict := NewColorDetector(DefaultPalette, nil, WithImgSize(0), WithMinArea(10), WithConfThreshold(0.9))
	dets, err = strict.Detect(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestHTTPDetector(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, "application/json", []byte(`[
		{"class_id": 0, "class_name": "Bowl1", "confidence": 0.9, "bbox": [50, 40, 10, 20]},
		{"class_id": 1, "class_name": "Plate", "confidence": 0.1, "bbox": [0, 0, 5, 5]},
		{"class_id": 7, "confidence": 0.5, "bbox": [0, 0, 1, 1]}
	]`))

	d := NewHTTPDetector(client, "http://infer.local/detect", 0.25, 0.45, 640, nil)
	dets, err := d.Detect(context.Background(), shelf(32, 32))
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, Detection{ClassID: 0, ClassName: "Bowl1", Confidence: 0.9, BBox: [4]float64{10, 20, 50, 40}}, dets[0])
	assert.Equal(t, "class_7", dets[1].ClassName)
	assert.Equal(t, map[int]string{0: "Bowl1"}, d.ClassNames())

	req, body := client.Request(0)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "image/jpeg", req.Header.Get("Content-Type"))
	assert.Equal(t, "0.25", req.URL.Query().Get("conf"))
	assert.Equal(t, "640", req.URL.Query().Get("imgsz"))
	require.GreaterOrEqual(t, len(body), 2)
	assert.Equal(t, []byte{0xff, 0xd8}, body[:2])
}

func TestHTTPDetector_Errors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		client := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("refused"))
		_, err := NewHTTPDetector(client, "http://x/detect", 0.25, 0.45, 640, nil).Detect(context.Background(), shelf(8, 8))
		assert.ErrorContains(t, err, "refused")
	})
	t.Run("status", func(t *testing.T) {
		client := httputil.NewMockHTTPClient().AddResponse(http.StatusInternalServerError, "text/plain", []byte("model not loaded\n"))
		_, err := NewHTTPDetector(client, "http://x/detect", 0.25, 0.45, 640, nil).Detect(context.Background(), shelf(8, 8))
		assert.ErrorContains(t, err, "500: model not loaded")
	})
	t.Run("decode", func(t *testing.T) {
		client := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, "application/json", []byte(`{"oops":1}`))
		_, err := NewHTTPDetector(client, "http://x/detect", 0.25, 0.45, 640, nil).Detect(context.Background(), shelf(8, 8))
		assert.ErrorContains(t, err, "decode detections")
	})
}

func TestAnnotate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	dets := []Detection{{ClassID: 0, ClassName: "Bowl1", Confidence: 0.87, BBox: [4]float64{10, 40, 50, 80}}}
	out := Annotate(img, dets, true)

	assert.Equal(t, boxColor, out.RGBAAt(10, 60), "left edge")
	assert.Equal(t, boxColor, out.RGBAAt(49, 60), "right edge")
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(30, 60), "interior untouched")
	assert.Equal(t, boxColor, out.RGBAAt(10, 40-13-4), "label background")
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(10, 60), "input untouched")

	// boxes entirely outside the frame are skipped
	out = Annotate(img, []Detection{{BBox: [4]float64{200, 200, 300, 300}}}, false)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestNewFromConfig(t *testing.T) {
	d, err := New(&config.DetectorConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ColorDetector{}, d)
	assert.Equal(t, "Bowl1", d.ClassNames()[0])

	typ := config.DetectorHTTP
	_, err = New(&config.DetectorConfig{Type: &typ}, nil)
	assert.Error(t, err)

	url := "http://infer.local/detect"
	d, err = New(&config.DetectorConfig{Type: &typ, URL: &url}, httputil.NewMockHTTPClient())
	require.NoError(t, err)
	assert.IsType(t, &HTTPDetector{}, d)

	bad := "yolo"
	_, err = New(&config.DetectorConfig{Type: &bad}, nil)
	assert.Error(t, err)
}

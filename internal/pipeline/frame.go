package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/banshee-data/inventory.report/internal/detect"
)

// EncodeFrame draws dets onto img and returns the result as a base64 JPEG,
// the payload of a frame message.
func EncodeFrame(img image.Image, dets []detect.Detection, quality int) (string, error) {
	annotated := detect.Annotate(img, dets, true)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

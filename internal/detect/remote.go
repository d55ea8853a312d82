package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/banshee-data/inventory.report/internal/httputil"
)

const maxResponseSize = 4 * 1024 * 1024

// HTTPDetector posts each frame as a JPEG to an inference service and decodes
// a JSON list of detections in reply.
type HTTPDetector struct {
	client        httputil.HTTPClient
	endpoint      string
	confThreshold float64
	iouThreshold  float64
	imgSize       int

	mu    sync.Mutex
	names map[int]string
}

// NewHTTPDetector creates a remote detector. names seeds the class table and
// is extended with any names the service reports.
func NewHTTPDetector(client httputil.HTTPClient, endpoint string, conf, iou float64, imgSize int, names map[int]string) *HTTPDetector {
	d := &HTTPDetector{
		client:        client,
		endpoint:      endpoint,
		confThreshold: conf,
		iouThreshold:  iou,
		imgSize:       imgSize,
		names:         make(map[int]string, len(names)),
	}
	for k, v := range names {
		d.names[k] = v
	}
	return d
}

// ClassNames returns a copy of the known id to name table.
func (d *HTTPDetector) ClassNames() map[int]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]string, len(d.names))
	for k, v := range d.names {
		out[k] = v
	}
	return out
}

// Detect sends img to the service. Results below the confidence threshold are
// dropped and the remainder are normalized.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse detector url: %w", err)
	}
	q := u.Query()
	q.Set("conf", strconv.FormatFloat(d.confThreshold, 'f', -1, 64))
	q.Set("iou", strconv.FormatFloat(d.iouThreshold, 'f', -1, 64))
	q.Set("imgsz", strconv.Itoa(d.imgSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("build detector request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var raw []Detection
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Detection, 0, len(raw))
	for _, det := range raw {
		if det.Confidence < d.confThreshold {
			continue
		}
		det = det.Normalize()
		if det.ClassName != "" {
			if _, known := d.names[det.ClassID]; !known {
				d.names[det.ClassID] = det.ClassName
			}
		}
		det.ClassName = ClassName(d.names, det.ClassID)
		out = append(out, det)
	}
	return out, nil
}

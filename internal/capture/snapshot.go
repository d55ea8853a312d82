package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/banshee-data/inventory.report/internal/httputil"
	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/timeutil"
)

const maxSnapshotSize = 16 * 1024 * 1024

// SnapshotSource polls the still-image endpoint most IP cameras expose, one
// request per frame.
type SnapshotSource struct {
	state
	client httputil.HTTPClient
	url    string
}

// NewSnapshotSource opens the camera at url, verifying it with one fetch.
func NewSnapshotSource(ctx context.Context, client httputil.HTTPClient, url string, fps int, clock timeutil.Clock, logger *slog.Logger) (*SnapshotSource, error) {
	s := &SnapshotSource{
		state: state{
			name:   "http",
			clock:  clock,
			logger: monitoring.Component(logger, "capture"),
			fps:    fps,
		},
		client: client,
		url:    url,
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	s.markOpen(true)
	s.logger.Info("snapshot source opened", "url", url)
	return s, nil
}

func (s *SnapshotSource) open(ctx context.Context) error {
	_, err := s.fetch(ctx)
	return err
}

func (s *SnapshotSource) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}

// Read fetches and decodes one snapshot.
func (s *SnapshotSource) Read(ctx context.Context) (Frame, error) {
	if !s.isOpen() {
		return Frame{}, s.recordFailure(closedErr(s.name))
	}
	img, err := s.fetch(ctx)
	if err != nil {
		return Frame{}, s.recordFailure(err)
	}
	return s.recordFrame(img), nil
}

// Reconnect retries the snapshot endpoint until it answers.
func (s *SnapshotSource) Reconnect(ctx context.Context, maxAttempts int, delay time.Duration) bool {
	return s.reconnect(ctx, maxAttempts, delay, func() {}, s.open)
}

// Close releases the source.
func (s *SnapshotSource) Close() error {
	s.markOpen(false)
	s.logger.Info("snapshot source released")
	return nil
}

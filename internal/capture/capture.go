// Package capture provides the frame sources the pipeline reads from. The set
// is closed: a rendered synthetic shelf, a directory of still images played
// in a loop, and the snapshot endpoint of an IP camera.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/banshee-data/inventory.report/internal/timeutil"
)

var (
	// ErrSourceClosed is returned by Read after Close or while the source is
	// released during a reconnect.
	ErrSourceClosed = errors.New("frame source closed")
	// ErrNoFrames is returned when a directory source has nothing to play.
	ErrNoFrames = errors.New("no frames available")
)

// Frame is one captured image.
type Frame struct {
	Image      image.Image
	Seq        uint64
	CapturedAt time.Time
}

// Info describes a source for the stats endpoints.
type Info struct {
	Source         string `json:"source"`
	Status         string `json:"status"` // "open" or "closed"
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	FPS            int    `json:"fps,omitempty"`
	FramesCaptured uint64 `json:"frames_captured"`
	ReadFailures   uint64 `json:"read_failures"`
	LastError      string `json:"last_error,omitempty"`
}

// Source yields frames. Implementations are driven from the single pipeline
// goroutine; Info and Healthy may be called concurrently.
type Source interface {
	// Read returns the next frame.
	Read(ctx context.Context) (Frame, error)
	// Reconnect releases and reopens the source, waiting delay before each of
	// up to maxAttempts tries. It reports whether the source is open again.
	Reconnect(ctx context.Context, maxAttempts int, delay time.Duration) bool
	// Healthy reports whether the source is open and its last read worked.
	Healthy() bool
	// Info describes the source.
	Info() Info
	Close() error
}

// state is the bookkeeping shared by every source.
type state struct {
	name   string
	clock  timeutil.Clock
	logger *slog.Logger

	mu       sync.Mutex
	opened   bool
	lastOK   bool
	frames   uint64
	failures uint64
	lastErr  error
	width    int
	height   int
	fps      int
}

func (s *state) markOpen(open bool) {
	s.mu.Lock()
	s.opened = open
	s.lastOK = open
	s.mu.Unlock()
}

func (s *state) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// recordFrame counts a successful read and returns the frame it describes.
func (s *state) recordFrame(img image.Image) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.lastOK = true
	b := img.Bounds()
	s.width, s.height = b.Dx(), b.Dy()
	return Frame{Image: img, Seq: s.frames, CapturedAt: s.clock.Now()}
}

// recordFailure counts a failed read and returns err.
func (s *state) recordFailure(err error) error {
	s.mu.Lock()
	s.failures++
	s.lastOK = false
	s.lastErr = err
	count := s.frames
	s.mu.Unlock()
	s.logger.Warn("failed to read frame", "frames_captured", count, "error", err)
	return err
}

// Healthy reports whether the source is open and its last read worked.
func (s *state) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened && s.lastOK
}

// Info describes the source.
func (s *state) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		Source:         s.name,
		Status:         "closed",
		FramesCaptured: s.frames,
		ReadFailures:   s.failures,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	if s.opened {
		info.Status = "open"
		info.Width, info.Height, info.FPS = s.width, s.height, s.fps
	}
	return info
}

// reconnect implements Source.Reconnect on top of a source's release and open
// steps. The wait between attempts is cut short by ctx.
func (s *state) reconnect(ctx context.Context, maxAttempts int, delay time.Duration, release func(), open func(context.Context) error) bool {
	s.logger.Warn("attempting frame source reconnection")
	release()
	s.markOpen(false)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.logger.Info("reconnection attempt", "attempt", attempt, "max_attempts", maxAttempts)
		select {
		case <-ctx.Done():
			s.logger.Info("reconnection cancelled", "error", ctx.Err())
			return false
		case <-s.clock.After(delay):
		}

		err := open(ctx)
		if err == nil {
			s.markOpen(true)
			s.logger.Info("frame source reconnected", "attempt", attempt)
			return true
		}
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
	}

	s.logger.Error("frame source reconnection failed", "attempts", maxAttempts)
	return false
}

func closedErr(name string) error {
	return fmt.Errorf("%s: %w", name, ErrSourceClosed)
}

package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/banshee-data/inventory.report/internal/fsutil"
	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/timeutil"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true,
}

// DirectorySource plays the still images in a directory in name order,
// looping at the end. The listing is refreshed on every reopen. Entries
// that resolve outside the directory are skipped.
type DirectorySource struct {
	state
	fsys  fsutil.FileSystem
	dir   string
	files []string
	next  int
}

// NewDirectorySource opens dir. It fails with ErrNoFrames when the directory
// holds no supported images.
func NewDirectorySource(dir string, fps int, clock timeutil.Clock, logger *slog.Logger) (*DirectorySource, error) {
	return NewDirectorySourceFS(fsutil.OSFileSystem{}, dir, fps, clock, logger)
}

// NewDirectorySourceFS opens dir on fsys.
func NewDirectorySourceFS(fsys fsutil.FileSystem, dir string, fps int, clock timeutil.Clock, logger *slog.Logger) (*DirectorySource, error) {
	s := &DirectorySource{
		fsys: fsys,
		state: state{
			name:   "directory",
			clock:  clock,
			logger: monitoring.Component(logger, "capture"),
			fps:    fps,
		},
		dir: dir,
	}
	if err := s.open(context.Background()); err != nil {
		return nil, err
	}
	s.markOpen(true)
	s.logger.Info("directory source opened", "dir", dir, "files", len(s.files))
	return s, nil
}

func (s *DirectorySource) open(context.Context) error {
	entries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path, err := s.fsys.Contain(s.dir, e.Name())
		if err != nil {
			s.logger.Warn("skipping frame outside directory", "name", e.Name(), "error", err)
			continue
		}
		files = append(files, path)
	}
	if len(files) == 0 {
		return fmt.Errorf("%s: %w", s.dir, ErrNoFrames)
	}
	s.files = files
	s.next = 0
	return nil
}

// Read decodes the next image in the directory.
func (s *DirectorySource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if !s.isOpen() || len(s.files) == 0 {
		return Frame{}, s.recordFailure(closedErr(s.name))
	}

	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	img, err := decodeFile(s.fsys, path)
	if err != nil {
		return Frame{}, s.recordFailure(err)
	}
	return s.recordFrame(img), nil
}

func decodeFile(fsys fsutil.FileSystem, path string) (image.Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Reconnect re-lists the directory.
func (s *DirectorySource) Reconnect(ctx context.Context, maxAttempts int, delay time.Duration) bool {
	return s.reconnect(ctx, maxAttempts, delay, func() { s.files = nil }, s.open)
}

// Close releases the source.
func (s *DirectorySource) Close() error {
	s.markOpen(false)
	s.files = nil
	s.logger.Info("directory source released")
	return nil
}

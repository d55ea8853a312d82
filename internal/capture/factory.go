package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/banshee-data/inventory.report/internal/config"
	"github.com/banshee-data/inventory.report/internal/httputil"
	"github.com/banshee-data/inventory.report/internal/timeutil"
)

// New opens the source selected by cfg. client is only used by the http
// source; when nil a client with a 5s timeout is created.
func New(ctx context.Context, cfg *config.CameraConfig, client httputil.HTTPClient, clock timeutil.Clock, logger *slog.Logger) (Source, error) {
	switch src := cfg.GetSource(); src {
	case config.SourceSynthetic:
		return NewSyntheticSource(cfg.GetWidth(), cfg.GetHeight(), cfg.GetFPS(), cfg.GetSeed(), clock, logger), nil
	case config.SourceDirectory:
		s, err := NewDirectorySource(cfg.GetDirectory(), cfg.GetFPS(), clock, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SourceHTTP:
		if client == nil {
			client = httputil.NewClient(5 * time.Second)
		}
		s, err := NewSnapshotSource(ctx, client, cfg.GetURL(), cfg.GetFPS(), clock, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown frame source %q", src)
	}
}

package detect

import (
	"fmt"

	"github.com/banshee-data/inventory.report/internal/config"
	"github.com/banshee-data/inventory.report/internal/httputil"
)

// New builds the detector selected by cfg. client is only used by the http
// detector; when nil a client with the configured timeout is created.
func New(cfg *config.DetectorConfig, client httputil.HTTPClient) (Detector, error) {
	switch typ := cfg.GetType(); typ {
	case config.DetectorColor:
		return NewColorDetector(DefaultPalette, cfg.GetClassNames(),
			WithMinArea(cfg.GetMinArea()),
			WithConfThreshold(cfg.GetConfThreshold()),
			WithImgSize(cfg.GetImgSize()),
		), nil
	case config.DetectorHTTP:
		if cfg.GetURL() == "" {
			return nil, fmt.Errorf("http detector requires a url")
		}
		if client == nil {
			client = httputil.NewClient(cfg.GetTimeout())
		}
		return NewHTTPDetector(client, cfg.GetURL(),
			cfg.GetConfThreshold(), cfg.GetIOUThreshold(), cfg.GetImgSize(),
			cfg.GetClassNames()), nil
	default:
		return nil, fmt.Errorf("unknown detector type %q", typ)
	}
}

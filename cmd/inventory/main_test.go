package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inventory.report/internal/config"
)

func TestOverridesApply(t *testing.T) {
	tests := []struct {
		name     string
		ov       overrides
		wantHTTP string
		wantGRPC string
		source   string
		detector string
		level    string
	}{
		{
			name:     "defaults",
			wantHTTP: "0.0.0.0:8080",
			source:   config.SourceSynthetic,
			detector: config.DetectorColor,
			level:    "INFO",
		},
		{
			name:     "listen flags win",
			ov:       overrides{listen: "127.0.0.1:9000", grpcListen: ":9090", logLevel: "debug"},
			wantHTTP: "127.0.0.1:9000",
			wantGRPC: ":9090",
			source:   config.SourceSynthetic,
			detector: config.DetectorColor,
			level:    "debug",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			httpAddr, grpcAddr := tt.ov.apply(cfg)
			assert.Equal(t, tt.wantHTTP, httpAddr)
			assert.Equal(t, tt.wantGRPC, grpcAddr)
			assert.Equal(t, tt.source, cfg.Camera.GetSource())
			assert.Equal(t, tt.detector, cfg.Detector.GetType())
			assert.Equal(t, tt.level, cfg.Logging.GetLevel())
		})
	}
}

func TestDevModeForcesSyntheticPipeline(t *testing.T) {
	cfg, err := config.Parse([]byte("camera:\n  source: http\n  url: http://cam.local/snap.jpg\ndetector:\n  type: http\n  url: http://infer.local\n"), ".yaml")
	require.NoError(t, err)

	overrides{dev: true}.apply(cfg)
	assert.Equal(t, config.SourceSynthetic, cfg.Camera.GetSource())
	assert.Equal(t, config.DetectorColor, cfg.Detector.GetType())
	assert.NoError(t, cfg.Validate())
}

func TestDevModeWithEmptyConfig(t *testing.T) {
	cfg := &config.Config{}
	overrides{dev: true}.apply(cfg)
	assert.Equal(t, config.SourceSynthetic, cfg.Camera.GetSource())
	assert.Equal(t, config.DetectorColor, cfg.Detector.GetType())
}

// Package config loads the pipeline configuration. Every field is a pointer so
// a partial file is safe: the Get* accessors supply the default for anything
// left out, and they are nil-receiver safe so an omitted section behaves the
// same as an empty one.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/inventory.report/internal/units"
)

// DefaultConfigPath is where the binary looks for its configuration when no
// -config flag is given.
const DefaultConfigPath = "config/config.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceDirectory = "directory"
	SourceHTTP      = "http"
)

// Detector kinds.
const (
	DetectorColor = "color"
	DetectorHTTP  = "http"
)

// Config is the root configuration document.
type Config struct {
	Camera    *CameraConfig    `json:"camera,omitempty" yaml:"camera,omitempty"`
	Detector  *DetectorConfig  `json:"detector,omitempty" yaml:"detector,omitempty"`
	Inventory *InventoryConfig `json:"inventory,omitempty" yaml:"inventory,omitempty"`
	Tracker   *TrackerConfig   `json:"tracker,omitempty" yaml:"tracker,omitempty"`
	Server    *ServerConfig    `json:"server,omitempty" yaml:"server,omitempty"`
	Stream    *StreamConfig    `json:"stream,omitempty" yaml:"stream,omitempty"`
	Logging   *LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// CameraConfig selects and tunes the frame source.
type CameraConfig struct {
	Source            *string  `json:"source,omitempty" yaml:"source,omitempty"` // synthetic, directory or http
	Width             *int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height            *int     `json:"height,omitempty" yaml:"height,omitempty"`
	FPS               *int     `json:"fps,omitempty" yaml:"fps,omitempty"`
	Directory         *string  `json:"directory,omitempty" yaml:"directory,omitempty"`
	URL               *string  `json:"url,omitempty" yaml:"url,omitempty"`
	ReconnectAttempts *int     `json:"reconnect_attempts,omitempty" yaml:"reconnect_attempts,omitempty"`
	ReconnectDelay    *float64 `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"` // seconds
	Seed              *int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// DetectorConfig selects and tunes the detection capability.
type DetectorConfig struct {
	Type          *string        `json:"type,omitempty" yaml:"type,omitempty"` // color or http
	URL           *string        `json:"url,omitempty" yaml:"url,omitempty"`
	Timeout       *string        `json:"timeout,omitempty" yaml:"timeout,omitempty"` // duration string like "2s"
	ConfThreshold *float64       `json:"conf_threshold,omitempty" yaml:"conf_threshold,omitempty"`
	IOUThreshold  *float64       `json:"iou_threshold,omitempty" yaml:"iou_threshold,omitempty"`
	ImgSize       *int           `json:"imgsz,omitempty" yaml:"imgsz,omitempty"`
	MinArea       *int           `json:"min_area,omitempty" yaml:"min_area,omitempty"`
	ClassNames    map[int]string `json:"class_names,omitempty" yaml:"class_names,omitempty"`
}

// InventoryConfig tunes the smoothing aggregator.
type InventoryConfig struct {
	SmoothingWindow *int    `json:"smoothing_window,omitempty" yaml:"smoothing_window,omitempty"`
	SmoothingMethod *string `json:"smoothing_method,omitempty" yaml:"smoothing_method,omitempty"`
}

// TrackerConfig tunes the presence tracker.
type TrackerConfig struct {
	VerificationInterval *float64 `json:"verification_interval,omitempty" yaml:"verification_interval,omitempty"` // seconds
	Timezone             *string  `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// ServerConfig configures the HTTP and gRPC listeners.
type ServerConfig struct {
	Host       *string `json:"host,omitempty" yaml:"host,omitempty"`
	Port       *int    `json:"port,omitempty" yaml:"port,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
}

// StreamConfig configures the pipeline cadence and the broadcast hub.
type StreamConfig struct {
	TargetFPS     *float64 `json:"target_fps,omitempty" yaml:"target_fps,omitempty"`
	StatsInterval *string  `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"`
	Backoff       *string  `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	SendTimeout   *string  `json:"send_timeout,omitempty" yaml:"send_timeout,omitempty"`
	QueueSize     *int     `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	JPEGQuality   *int     `json:"jpeg_quality,omitempty" yaml:"jpeg_quality,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  *string `json:"level,omitempty" yaml:"level,omitempty"`
	Format *string `json:"format,omitempty" yaml:"format,omitempty"` // json or text
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// Default returns a Config with every field populated with its default.
func Default() *Config {
	return &Config{
		Camera: &CameraConfig{
			Source:            ptrString(SourceSynthetic),
			Width:             ptrInt(1280),
			Height:            ptrInt(720),
			FPS:               ptrInt(30),
			ReconnectAttempts: ptrInt(5),
			ReconnectDelay:    ptrFloat64(2.0),
			Seed:              ptrInt64(1),
		},
		Detector: &DetectorConfig{
			Type:          ptrString(DetectorColor),
			Timeout:       ptrString("2s"),
			ConfThreshold: ptrFloat64(0.25),
			IOUThreshold:  ptrFloat64(0.45),
			ImgSize:       ptrInt(640),
			MinArea:       ptrInt(400),
		},
		Inventory: &InventoryConfig{
			SmoothingWindow: ptrInt(10),
			SmoothingMethod: ptrString("median"),
		},
		Tracker: &TrackerConfig{
			VerificationInterval: ptrFloat64(5.0),
			Timezone:             ptrString(units.DefaultTimezone),
		},
		Server: &ServerConfig{
			Host: ptrString("0.0.0.0"),
			Port: ptrInt(8080),
		},
		Stream: &StreamConfig{
			TargetFPS:     ptrFloat64(30),
			StatsInterval: ptrString("1s"),
			Backoff:       ptrString("1s"),
			SendTimeout:   ptrString("500ms"),
			QueueSize:     ptrInt(16),
			JPEGQuality:   ptrInt(85),
		},
		Logging: &LoggingConfig{
			Level:  ptrString("INFO"),
			Format: ptrString("text"),
		},
	}
}

// Load reads a JSON or YAML configuration file. The format is chosen by
// extension. Fields omitted from the file fall back to their defaults through
// the Get* accessors, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document without validating it. ext selects
// the decoder and may be ".json", ".yaml" or ".yml".
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist. Any other failure is returned.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		logger.Info("configuration loaded", "path", path)
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("configuration file not found, using defaults", "path", path)
		return Default(), nil
	}
	return nil, err
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if src := c.Camera.GetSource(); src != SourceSynthetic && src != SourceDirectory && src != SourceHTTP {
		return fmt.Errorf("%w: camera.source must be synthetic, directory or http, got %q", ErrInvalid, src)
	}
	if c.Camera.GetSource() == SourceDirectory && c.Camera.GetDirectory() == "" {
		return fmt.Errorf("%w: camera.directory is required for the directory source", ErrInvalid)
	}
	if c.Camera.GetSource() == SourceHTTP && c.Camera.GetURL() == "" {
		return fmt.Errorf("%w: camera.url is required for the http source", ErrInvalid)
	}
	if c.Camera.GetWidth() <= 0 || c.Camera.GetHeight() <= 0 {
		return fmt.Errorf("%w: camera resolution must be positive, got %dx%d", ErrInvalid, c.Camera.GetWidth(), c.Camera.GetHeight())
	}
	if c.Camera.GetReconnectAttempts() < 0 {
		return fmt.Errorf("%w: camera.reconnect_attempts must be non-negative, got %d", ErrInvalid, c.Camera.GetReconnectAttempts())
	}
	if c.Camera != nil && c.Camera.ReconnectDelay != nil && *c.Camera.ReconnectDelay < 0 {
		return fmt.Errorf("%w: camera.reconnect_delay must be non-negative, got %f", ErrInvalid, *c.Camera.ReconnectDelay)
	}

	if typ := c.Detector.GetType(); typ != DetectorColor && typ != DetectorHTTP {
		return fmt.Errorf("%w: detector.type must be color or http, got %q", ErrInvalid, typ)
	}
	if c.Detector.GetType() == DetectorHTTP && c.Detector.GetURL() == "" {
		return fmt.Errorf("%w: detector.url is required for the http detector", ErrInvalid)
	}
	if conf := c.Detector.GetConfThreshold(); conf < 0 || conf > 1 {
		return fmt.Errorf("%w: detector.conf_threshold must be between 0 and 1, got %f", ErrInvalid, conf)
	}
	if iou := c.Detector.GetIOUThreshold(); iou < 0 || iou > 1 {
		return fmt.Errorf("%w: detector.iou_threshold must be between 0 and 1, got %f", ErrInvalid, iou)
	}
	if c.Detector != nil {
		if err := validateDuration("detector.timeout", c.Detector.Timeout); err != nil {
			return err
		}
	}

	if c.Inventory != nil && c.Inventory.SmoothingWindow != nil && *c.Inventory.SmoothingWindow <= 0 {
		return fmt.Errorf("%w: inventory.smoothing_window must be positive, got %d", ErrInvalid, *c.Inventory.SmoothingWindow)
	}
	switch m := c.Inventory.GetSmoothingMethod(); m {
	case "median", "mean", "mode":
	default:
		return fmt.Errorf("%w: inventory.smoothing_method must be median, mean or mode, got %q", ErrInvalid, m)
	}

	if c.Tracker != nil && c.Tracker.VerificationInterval != nil && *c.Tracker.VerificationInterval <= 0 {
		return fmt.Errorf("%w: tracker.verification_interval must be positive, got %f", ErrInvalid, *c.Tracker.VerificationInterval)
	}
	if tz := c.Tracker.GetTimezone(); !units.IsTimezoneValid(tz) {
		return fmt.Errorf("%w: tracker.timezone %q is not a known zone", ErrInvalid, tz)
	}

	if port := c.Server.GetPort(); port <= 0 || port > 65535 {
		return fmt.Errorf("%w: server.port must be between 1 and 65535, got %d", ErrInvalid, port)
	}

	if c.Stream != nil {
		if c.Stream.TargetFPS != nil && *c.Stream.TargetFPS <= 0 {
			return fmt.Errorf("%w: stream.target_fps must be positive, got %f", ErrInvalid, *c.Stream.TargetFPS)
		}
		if c.Stream.QueueSize != nil && *c.Stream.QueueSize < 1 {
			return fmt.Errorf("%w: stream.queue_size must be at least 1, got %d", ErrInvalid, *c.Stream.QueueSize)
		}
		if c.Stream.JPEGQuality != nil && (*c.Stream.JPEGQuality < 1 || *c.Stream.JPEGQuality > 100) {
			return fmt.Errorf("%w: stream.jpeg_quality must be between 1 and 100, got %d", ErrInvalid, *c.Stream.JPEGQuality)
		}
		for name, v := range map[string]*string{
			"stream.stats_interval": c.Stream.StatsInterval,
			"stream.backoff":        c.Stream.Backoff,
			"stream.send_timeout":   c.Stream.SendTimeout,
		} {
			if err := validateDuration(name, v); err != nil {
				return err
			}
		}
	}

	if f := c.Logging.GetFormat(); f != "json" && f != "text" {
		return fmt.Errorf("%w: logging.format must be json or text, got %q", ErrInvalid, f)
	}

	return nil
}

func validateDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%w: invalid %s '%s': %v", ErrInvalid, name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, *v)
	}
	return nil
}

// parseDuration returns the parsed value of v or def when unset or invalid.
func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/banshee-data/inventory.report/internal/units"
)

// GetSource returns the camera source kind or the default.
func (c *CameraConfig) GetSource() string {
	if c == nil || c.Source == nil || *c.Source == "" {
		return SourceSynthetic
	}
	return *c.Source
}

// GetWidth returns the frame width or the default.
func (c *CameraConfig) GetWidth() int {
	if c == nil || c.Width == nil {
		return 1280
	}
	return *c.Width
}

// GetHeight returns the frame height or the default.
func (c *CameraConfig) GetHeight() int {
	if c == nil || c.Height == nil {
		return 720
	}
	return *c.Height
}

// GetFPS returns the nominal source frame rate or the default.
func (c *CameraConfig) GetFPS() int {
	if c == nil || c.FPS == nil {
		return 30
	}
	return *c.FPS
}

// GetDirectory returns the image directory for the directory source.
func (c *CameraConfig) GetDirectory() string {
	if c == nil || c.Directory == nil {
		return ""
	}
	return *c.Directory
}

// GetURL returns the snapshot URL for the http source.
func (c *CameraConfig) GetURL() string {
	if c == nil || c.URL == nil {
		return ""
	}
	return *c.URL
}

// GetReconnectAttempts returns the reconnect attempt budget or the default.
func (c *CameraConfig) GetReconnectAttempts() int {
	if c == nil || c.ReconnectAttempts == nil {
		return 5
	}
	return *c.ReconnectAttempts
}

// GetReconnectDelay returns the delay between reconnect attempts.
func (c *CameraConfig) GetReconnectDelay() time.Duration {
	if c == nil || c.ReconnectDelay == nil || *c.ReconnectDelay < 0 {
		return 2 * time.Second
	}
	return seconds(*c.ReconnectDelay)
}

// GetSeed returns the synthetic source seed or the default.
func (c *CameraConfig) GetSeed() int64 {
	if c == nil || c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetType returns the detector kind or the default.
func (c *DetectorConfig) GetType() string {
	if c == nil || c.Type == nil || *c.Type == "" {
		return DetectorColor
	}
	return *c.Type
}

// GetURL returns the inference endpoint for the http detector.
func (c *DetectorConfig) GetURL() string {
	if c == nil || c.URL == nil {
		return ""
	}
	return *c.URL
}

// GetTimeout returns the per-request inference timeout.
func (c *DetectorConfig) GetTimeout() time.Duration {
	if c == nil {
		return 2 * time.Second
	}
	return parseDuration(c.Timeout, 2*time.Second)
}

// GetConfThreshold returns the minimum detection confidence or the default.
func (c *DetectorConfig) GetConfThreshold() float64 {
	if c == nil || c.ConfThreshold == nil {
		return 0.25
	}
	return *c.ConfThreshold
}

// GetIOUThreshold returns the NMS overlap threshold or the default.
func (c *DetectorConfig) GetIOUThreshold() float64 {
	if c == nil || c.IOUThreshold == nil {
		return 0.45
	}
	return *c.IOUThreshold
}

// GetImgSize returns the inference input size or the default.
func (c *DetectorConfig) GetImgSize() int {
	if c == nil || c.ImgSize == nil {
		return 640
	}
	return *c.ImgSize
}

// GetMinArea returns the smallest blob area, in pixels, the colour detector
// reports.
func (c *DetectorConfig) GetMinArea() int {
	if c == nil || c.MinArea == nil {
		return 400
	}
	return *c.MinArea
}

// GetClassNames returns a copy of the configured class-name overrides.
func (c *DetectorConfig) GetClassNames() map[int]string {
	out := make(map[int]string)
	if c == nil {
		return out
	}
	for k, v := range c.ClassNames {
		out[k] = v
	}
	return out
}

// GetSmoothingWindow returns the window size or the default.
func (c *InventoryConfig) GetSmoothingWindow() int {
	if c == nil || c.SmoothingWindow == nil {
		return 10
	}
	return *c.SmoothingWindow
}

// GetSmoothingMethod returns the smoothing method name or the default.
func (c *InventoryConfig) GetSmoothingMethod() string {
	if c == nil || c.SmoothingMethod == nil || *c.SmoothingMethod == "" {
		return "median"
	}
	return *c.SmoothingMethod
}

// GetVerificationInterval returns the presence verification interval.
func (c *TrackerConfig) GetVerificationInterval() time.Duration {
	if c == nil || c.VerificationInterval == nil || *c.VerificationInterval <= 0 {
		return 5 * time.Second
	}
	return seconds(*c.VerificationInterval)
}

// GetTimezone returns the display zone for sale times or the default.
func (c *TrackerConfig) GetTimezone() string {
	if c == nil || c.Timezone == nil || *c.Timezone == "" {
		return units.DefaultTimezone
	}
	return *c.Timezone
}

// GetHost returns the HTTP bind host or the default.
func (c *ServerConfig) GetHost() string {
	if c == nil || c.Host == nil {
		return "0.0.0.0"
	}
	return *c.Host
}

// GetPort returns the HTTP port or the default.
func (c *ServerConfig) GetPort() int {
	if c == nil || c.Port == nil {
		return 8080
	}
	return *c.Port
}

// GetListen returns host:port for the HTTP server.
func (c *ServerConfig) GetListen() string {
	return net.JoinHostPort(c.GetHost(), strconv.Itoa(c.GetPort()))
}

// GetGRPCListen returns the gRPC health listen address; empty disables it.
func (c *ServerConfig) GetGRPCListen() string {
	if c == nil || c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

// GetTargetFPS returns the pipeline cadence or the default.
func (c *StreamConfig) GetTargetFPS() float64 {
	if c == nil || c.TargetFPS == nil || *c.TargetFPS <= 0 {
		return 30
	}
	return *c.TargetFPS
}

// GetFrameBudget returns 1/target_fps as a duration.
func (c *StreamConfig) GetFrameBudget() time.Duration {
	return time.Duration(float64(time.Second) / c.GetTargetFPS())
}

// GetStatsInterval returns how often stats and timers are published.
func (c *StreamConfig) GetStatsInterval() time.Duration {
	if c == nil {
		return time.Second
	}
	return parseDuration(c.StatsInterval, time.Second)
}

// GetBackoff returns the wait after a cycle skipped for a capture failure.
func (c *StreamConfig) GetBackoff() time.Duration {
	if c == nil {
		return time.Second
	}
	return parseDuration(c.Backoff, time.Second)
}

// GetSendTimeout returns the per-subscriber send bound.
func (c *StreamConfig) GetSendTimeout() time.Duration {
	if c == nil {
		return 500 * time.Millisecond
	}
	return parseDuration(c.SendTimeout, 500*time.Millisecond)
}

// GetQueueSize returns the per-subscriber outbound queue length.
func (c *StreamConfig) GetQueueSize() int {
	if c == nil || c.QueueSize == nil || *c.QueueSize < 1 {
		return 16
	}
	return *c.QueueSize
}

// GetJPEGQuality returns the frame encoding quality or the default.
func (c *StreamConfig) GetJPEGQuality() int {
	if c == nil || c.JPEGQuality == nil {
		return 85
	}
	return *c.JPEGQuality
}

// GetLevel returns the log level name or the default.
func (c *LoggingConfig) GetLevel() string {
	if c == nil || c.Level == nil || *c.Level == "" {
		return "INFO"
	}
	return *c.Level
}

// GetFormat returns the log output format or the default.
func (c *LoggingConfig) GetFormat() string {
	if c == nil || c.Format == nil || *c.Format == "" {
		return "text"
	}
	return *c.Format
}

// Summary renders the effective settings for the startup log.
func (c *Config) Summary() string {
	return fmt.Sprintf("source=%s detector=%s window=%d method=%s verify=%s fps=%.1f listen=%s",
		c.Camera.GetSource(), c.Detector.GetType(),
		c.Inventory.GetSmoothingWindow(), c.Inventory.GetSmoothingMethod(),
		c.Tracker.GetVerificationInterval(), c.Stream.GetTargetFPS(), c.Server.GetListen())
}

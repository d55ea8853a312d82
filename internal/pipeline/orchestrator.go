// Package pipeline drives the capture, detect, smooth, track and broadcast
// loop at a fixed target cadence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/inventory.report/internal/broadcast"
	"github.com/banshee-data/inventory.report/internal/capture"
	"github.com/banshee-data/inventory.report/internal/config"
	"github.com/banshee-data/inventory.report/internal/detect"
	"github.com/banshee-data/inventory.report/internal/inventory"
	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/presence"
	"github.com/banshee-data/inventory.report/internal/timeutil"
)

// State is the lifecycle state of an Orchestrator.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyRunning is returned by Start when the loop is not stopped.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Broadcaster is the part of the hub the pipeline publishes through.
type Broadcaster interface {
	Publish(ctx context.Context, msg broadcast.Message) broadcast.Result
	Count() int
}

// Settings are the loop tunables.
type Settings struct {
	TargetFPS         float64
	StatsInterval     time.Duration
	Backoff           time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	JPEGQuality       int
	TraceLen          int
}

// SettingsFrom extracts loop settings from the loaded configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		TargetFPS:         cfg.Stream.GetTargetFPS(),
		StatsInterval:     cfg.Stream.GetStatsInterval(),
		Backoff:           cfg.Stream.GetBackoff(),
		ReconnectAttempts: cfg.Camera.GetReconnectAttempts(),
		ReconnectDelay:    cfg.Camera.GetReconnectDelay(),
		JPEGQuality:       cfg.Stream.GetJPEGQuality(),
	}
}

func (s Settings) withDefaults() Settings {
	if s.TargetFPS <= 0 {
		s.TargetFPS = 30
	}
	if s.StatsInterval <= 0 {
		s.StatsInterval = time.Second
	}
	if s.Backoff <= 0 {
		s.Backoff = time.Second
	}
	if s.ReconnectAttempts < 1 {
		s.ReconnectAttempts = 1
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		s.JPEGQuality = 85
	}
	if s.TraceLen < 1 {
		s.TraceLen = DefaultTraceLen
	}
	return s
}

// Budget is the target duration of one cycle.
func (s Settings) Budget() time.Duration {
	return time.Duration(float64(time.Second) / s.TargetFPS)
}

// Deps are the collaborators the orchestrator drives. Clock, Logger and
// Metrics are optional.
type Deps struct {
	Source     capture.Source
	Detector   detect.Detector
	Aggregator *inventory.Aggregator
	Tracker    *presence.Tracker
	Hub        Broadcaster
	Clock      timeutil.Clock
	Logger     *slog.Logger
	Metrics    *monitoring.Metrics
}

// Orchestrator owns the aggregator and tracker and is the only goroutine
// that mutates them while running.
type Orchestrator struct {
	settings   Settings
	source     capture.Source
	detector   detect.Detector
	aggregator *inventory.Aggregator
	tracker    *presence.Tracker
	hub        Broadcaster
	clock      timeutil.Clock
	logger     *slog.Logger
	metrics    *monitoring.Metrics

	latency *detect.LatencyWindow
	traces  *traces

	state    atomic.Int32
	mu       sync.Mutex
	stopCh   chan struct{}
	done     chan struct{}
	started  time.Time
	lastStat time.Time

	frames   atomic.Uint64
	streamed atomic.Uint64
	resetReq atomic.Bool

	viewMu sync.RWMutex
	view   View
}

// New wires an orchestrator. The loop does not run until Start or Run.
func New(deps Deps, settings Settings) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	o := &Orchestrator{
		settings:   settings.withDefaults(),
		source:     deps.Source,
		detector:   deps.Detector,
		aggregator: deps.Aggregator,
		tracker:    deps.Tracker,
		hub:        deps.Hub,
		clock:      clock,
		logger:     monitoring.Component(deps.Logger, "pipeline"),
		metrics:    deps.Metrics,
		latency:    detect.NewLatencyWindow(detect.DefaultLatencySamples),
	}
	o.traces = newTraces(o.settings.TraceLen)
	o.view = View{Timers: map[string]string{}, History: map[string]Trace{}}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Start launches the loop in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if !o.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})
	stopCh, done := o.stopCh, o.done
	o.started = o.clock.Now()
	o.mu.Unlock()

	o.logger.Info("pipeline started",
		"target_fps", o.settings.TargetFPS,
		"budget", o.settings.Budget(),
		"stats_interval", o.settings.StatsInterval)

	go o.loop(ctx, stopCh, done)
	return nil
}

// Run is the blocking form of Start. It returns once the loop has stopped,
// either through Stop or because ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	o.Wait()
	return nil
}

// Stop asks a running loop to exit at the next cycle boundary. It does not
// wait; use Wait for that.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return
	}
	close(o.stopCh)
	o.logger.Info("pipeline stopping")
}

// Wait blocks until the loop has exited. It returns immediately if the loop
// was never started.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Healthy reports whether the loop is running against a healthy source.
func (o *Orchestrator) Healthy() bool {
	return o.State() == Running && o.source.Healthy()
}

// Uptime returns how long the current run has lasted.
func (o *Orchestrator) Uptime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started.IsZero() {
		return 0
	}
	return o.clock.Since(o.started)
}

// FramesProcessed returns the number of completed cycles.
func (o *Orchestrator) FramesProcessed() uint64 { return o.frames.Load() }

// FramesStreamed returns the number of frame messages published.
func (o *Orchestrator) FramesStreamed() uint64 { return o.streamed.Load() }

// View returns a copy of the latest published state.
func (o *Orchestrator) View() View {
	o.viewMu.RLock()
	defer o.viewMu.RUnlock()
	return o.view
}

// RequestReset clears inventory history, timers and sales at the start of
// the next cycle.
func (o *Orchestrator) RequestReset() {
	o.resetReq.Store(true)
}

func (o *Orchestrator) reset() {
	o.aggregator.Reset()
	o.tracker.Reset()
	o.traces.reset()
	o.latency.Reset()
	o.logger.Info("inventory and timers reset")
}

func (o *Orchestrator) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer func() {
		o.state.Store(int32(Stopped))
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("pipeline context cancelled")
			o.logFinal()
			return
		case <-stopCh:
			o.logFinal()
			return
		default:
		}
		o.cycle(ctx, stopCh)
	}
}

func (o *Orchestrator) cycle(ctx context.Context, stopCh <-chan struct{}) {
	if o.resetReq.Swap(false) {
		o.reset()
	}
	start := o.clock.Now()

	frame, ok := o.acquire(ctx)
	if !ok {
		o.wait(ctx, stopCh, o.settings.Backoff)
		return
	}

	dets := o.detect(ctx, frame)
	snapshot := o.aggregator.UpdateAt(dets, start)
	o.traces.record(o.aggregator)

	now := o.clock.Now()
	for _, sale := range o.tracker.Update(snapshot, now) {
		o.publish(ctx, broadcast.NewMessage(broadcast.TypeSale, sale, now))
		if o.metrics != nil {
			o.metrics.Sales.WithLabelValues(sale.Product).Inc()
		}
	}

	if o.hub.Count() > 0 {
		if payload, err := EncodeFrame(frame.Image, dets, o.settings.JPEGQuality); err != nil {
			o.logger.Warn("frame encoding failed", "seq", frame.Seq, "error", err)
		} else {
			o.publish(ctx, broadcast.NewMessage(broadcast.TypeFrame, payload, now))
			o.streamed.Add(1)
		}
	}
	o.publish(ctx, broadcast.NewMessage(broadcast.TypeInventory, snapshot, now))

	frames := o.frames.Add(1)
	stats := broadcast.Stats{
		FPS:               o.latency.FPS(),
		InferenceTime:     o.latency.Average(),
		TotalItems:        snapshot.Total(),
		FrameCount:        frames,
		ActiveConnections: o.hub.Count(),
	}
	if o.lastStat.IsZero() || now.Sub(o.lastStat) >= o.settings.StatsInterval {
		o.lastStat = now
		o.publish(ctx, broadcast.NewMessage(broadcast.TypeStats, stats, now))
		o.publish(ctx, broadcast.NewMessage(broadcast.TypeTimers, o.tracker.ActiveTimers(now), now))
		o.logger.Debug("stats", "fps", stats.FPS, "inference_time", stats.InferenceTime,
			"total_items", stats.TotalItems, "frames", frames, "subscribers", stats.ActiveConnections)
	}

	o.storeView(snapshot, stats, now)
	o.observe(snapshot)

	elapsed := o.clock.Since(start)
	if o.metrics != nil {
		o.metrics.FramesProcessed.Inc()
		o.metrics.CycleDuration.Observe(elapsed.Seconds())
	}
	budget := o.settings.Budget()
	if elapsed >= budget {
		if o.metrics != nil {
			o.metrics.CycleOverruns.Inc()
		}
		return
	}
	o.wait(ctx, stopCh, budget-elapsed)
}

// acquire reads a frame, reconnecting once on failure.
func (o *Orchestrator) acquire(ctx context.Context) (capture.Frame, bool) {
	frame, err := o.source.Read(ctx)
	if err == nil {
		return frame, true
	}
	if ctx.Err() != nil {
		return capture.Frame{}, false
	}
	if o.metrics != nil {
		o.metrics.CaptureFailures.Inc()
	}
	o.logger.Warn("frame read failed, reconnecting", "error", err)

	if !o.source.Reconnect(ctx, o.settings.ReconnectAttempts, o.settings.ReconnectDelay) {
		if o.metrics != nil {
			o.metrics.Reconnects.WithLabelValues("failed").Inc()
		}
		o.logger.Error("frame source unavailable, backing off", "backoff", o.settings.Backoff)
		return capture.Frame{}, false
	}
	if o.metrics != nil {
		o.metrics.Reconnects.WithLabelValues("succeeded").Inc()
	}

	frame, err = o.source.Read(ctx)
	if err != nil {
		if o.metrics != nil {
			o.metrics.CaptureFailures.Inc()
		}
		o.logger.Error("frame read failed after reconnect, backing off", "backoff", o.settings.Backoff, "error", err)
		return capture.Frame{}, false
	}
	return frame, true
}

func (o *Orchestrator) detect(ctx context.Context, frame capture.Frame) []detect.Detection {
	t0 := o.clock.Now()
	dets, err := o.detector.Detect(ctx, frame.Image)
	took := o.clock.Since(t0)

	o.latency.Observe(took)
	if o.metrics != nil {
		o.metrics.InferenceDuration.Observe(took.Seconds())
	}
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("detection failed, treating frame as empty", "seq", frame.Seq, "error", err)
			if o.metrics != nil {
				o.metrics.DetectionErrors.Inc()
			}
		}
		return nil
	}
	return dets
}

func (o *Orchestrator) publish(ctx context.Context, msg broadcast.Message) {
	res := o.hub.Publish(ctx, msg)
	if res.Failed > 0 {
		o.logger.Debug("publish incomplete", "type", msg.Type, "delivered", res.Delivered, "failed", res.Failed)
	}
}

// wait sleeps for d unless the loop is asked to stop first.
func (o *Orchestrator) wait(ctx context.Context, stopCh <-chan struct{}, d time.Duration) {
	select {
	case <-o.clock.After(d):
	case <-stopCh:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) storeView(snapshot inventory.Snapshot, stats broadcast.Stats, now time.Time) {
	v := View{
		UpdatedAt:  now,
		Inventory:  snapshot,
		Sorted:     o.aggregator.Sorted("count"),
		Timers:     o.tracker.ActiveTimers(now),
		Sales:      o.tracker.SalesLog(0),
		Aggregator: o.aggregator.Stats(),
		Tracker:    o.tracker.Stats(),
		Stream:     stats,
		Source:     o.source.Info(),
		History:    o.traces.snapshot(o.aggregator),
	}
	o.viewMu.Lock()
	o.view = v
	o.viewMu.Unlock()
}

func (o *Orchestrator) observe(snapshot inventory.Snapshot) {
	if o.metrics == nil {
		return
	}
	o.metrics.InventoryItems.Reset()
	for name, n := range snapshot.Counts() {
		o.metrics.InventoryItems.WithLabelValues(name).Set(float64(n))
	}
	o.metrics.TotalItems.Set(float64(snapshot.Total()))
}

func (o *Orchestrator) logFinal() {
	st := o.aggregator.Stats()
	o.logger.Info("pipeline stopped",
		"frames", o.frames.Load(),
		"frames_streamed", o.streamed.Load(),
		"avg_detections_per_frame", st.AvgDetectionsPerFrame,
		"unique_classes", st.UniqueClassesTracked,
		"total_items", st.CurrentTotalItems,
		"total_sales", o.tracker.TotalSales())
}

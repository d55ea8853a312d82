package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/inventory.report/internal/api"
	"github.com/banshee-data/inventory.report/internal/broadcast"
	"github.com/banshee-data/inventory.report/internal/capture"
	"github.com/banshee-data/inventory.report/internal/config"
	"github.com/banshee-data/inventory.report/internal/detect"
	"github.com/banshee-data/inventory.report/internal/inventory"
	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/pipeline"
	"github.com/banshee-data/inventory.report/internal/presence"
	"github.com/banshee-data/inventory.report/internal/timeutil"
	"github.com/banshee-data/inventory.report/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the YAML or JSON configuration file")
	listen      = flag.String("listen", "", "HTTP listen address (overrides server.host and server.port)")
	devMode     = flag.Bool("dev", false, "Run with the synthetic camera and colour detector")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides server.grpc_listen)")
	logLevel    = flag.String("log-level", "", "Log level: DEBUG, INFO, WARN or ERROR")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

const shutdownTimeout = 5 * time.Second

// overrides are the command-line settings applied on top of the file.
type overrides struct {
	listen     string
	grpcListen string
	logLevel   string
	dev        bool
}

// apply writes the overrides into cfg and returns the HTTP and gRPC listen
// addresses to use.
func (o overrides) apply(cfg *config.Config) (httpAddr, grpcAddr string) {
	if o.dev {
		if cfg.Camera == nil {
			cfg.Camera = &config.CameraConfig{}
		}
		if cfg.Detector == nil {
			cfg.Detector = &config.DetectorConfig{}
		}
		synthetic, colour := config.SourceSynthetic, config.DetectorColor
		cfg.Camera.Source = &synthetic
		cfg.Detector.Type = &colour
	}
	if o.logLevel != "" {
		if cfg.Logging == nil {
			cfg.Logging = &config.LoggingConfig{}
		}
		level := o.logLevel
		cfg.Logging.Level = &level
	}

	httpAddr = cfg.Server.GetListen()
	if o.listen != "" {
		httpAddr = o.listen
	}
	grpcAddr = cfg.Server.GetGRPCListen()
	if o.grpcListen != "" {
		grpcAddr = o.grpcListen
	}
	return httpAddr, grpcAddr
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ov := overrides{listen: *listen, grpcListen: *grpcListen, logLevel: *logLevel, dev: *devMode}
	if err := run(ctx, *configPath, ov); err != nil {
		fmt.Fprintf(os.Stderr, "inventory: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, ov overrides) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bootLogger := monitoring.NewLogger(os.Stderr, monitoring.LevelInfo, "text")
	cfg, err := config.LoadOrDefault(path, bootLogger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	httpAddr, grpcAddr := ov.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := monitoring.NewLogger(os.Stderr, cfg.Logging.GetLevel(), cfg.Logging.GetFormat())
	logger.Info("starting", "version", version.String(), "config", cfg.Summary())

	metrics := monitoring.NewMetrics()
	clock := timeutil.RealClock{}

	source, err := capture.New(ctx, cfg.Camera, nil, clock, logger)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer source.Close()

	detector, err := detect.New(cfg.Detector, nil)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	agg := inventory.New(
		cfg.Inventory.GetSmoothingWindow(),
		inventory.ParseMethod(cfg.Inventory.GetSmoothingMethod()),
		cfg.Detector.GetClassNames(),
	)
	tracker := presence.New(cfg.Tracker.GetVerificationInterval(), clock,
		presence.WithLogger(logger),
		presence.WithTimezone(cfg.Tracker.GetTimezone()),
	)
	hub := broadcast.NewHub(logger,
		broadcast.WithSendTimeout(cfg.Stream.GetSendTimeout()),
		broadcast.WithQueueSize(cfg.Stream.GetQueueSize()),
		broadcast.WithMetrics(metrics),
		broadcast.WithClock(clock),
	)
	defer hub.Close()

	orch := pipeline.New(pipeline.Deps{
		Source:     source,
		Detector:   detector,
		Aggregator: agg,
		Tracker:    tracker,
		Hub:        hub,
		Clock:      clock,
		Logger:     logger,
		Metrics:    metrics,
	}, pipeline.SettingsFrom(cfg))

	srv := api.NewServer(orch, hub,
		api.WithLogger(logger),
		api.WithMetrics(metrics),
		api.WithClock(clock),
	)

	if err := orch.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup

	// HTTP server goroutine
	serveErr := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		server := &http.Server{
			Addr:              httpAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server listening", "addr", httpAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("http server: %w", err)
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Warn("http server force close error", "error", err)
			}
		}
	}()

	if grpcAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hs := api.NewHealthServer(orch, logger)
			if err := hs.ListenAndServe(ctx, grpcAddr); err != nil {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		logger.Error("listener failed", "error", runErr)
		cancel()
	}

	orch.Stop()
	orch.Wait()
	hub.Close()
	wg.Wait()
	logger.Info("graceful shutdown complete", "frames", orch.FramesProcessed())
	return runErr
}

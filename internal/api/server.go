// Package api serves the HTTP and WebSocket surface of the inventory
// pipeline: JSON status endpoints, the live observer socket, metrics, charts
// and the /debug/ admin pages.
package api

import (
	"bufio"
	"embed"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/inventory.report/internal/broadcast"
	"github.com/banshee-data/inventory.report/internal/httputil"
	"github.com/banshee-data/inventory.report/internal/inventory"
	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/pipeline"
	"github.com/banshee-data/inventory.report/internal/presence"
	"github.com/banshee-data/inventory.report/internal/timeutil"
	"github.com/banshee-data/inventory.report/internal/version"
)

//go:embed static/*
var staticFS embed.FS

// DefaultSalesLimit caps /api/sales when no limit is given.
const DefaultSalesLimit = 100

const maxSalesLimit = 10000

// Pipeline is what the server reads from the running orchestrator.
type Pipeline interface {
	View() pipeline.View
	State() pipeline.State
	Healthy() bool
	Uptime() time.Duration
	FramesStreamed() uint64
	RequestReset()
}

// Server holds the handlers. It never touches aggregator or tracker state
// directly; everything it reports comes from Pipeline.View.
type Server struct {
	pipeline Pipeline
	hub      *broadcast.Hub
	metrics  *monitoring.Metrics
	logger   *slog.Logger
	clock    timeutil.Clock
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and socket logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = monitoring.Component(l, "api") }
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock sets the clock used to stamp replies.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewServer creates a server over a pipeline and its broadcast hub.
func NewServer(p Pipeline, hub *broadcast.Hub, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		hub:      hub,
		logger:   monitoring.Component(nil, "api"),
		clock:    timeutil.RealClock{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// observers are served from any origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full route table wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := s.ServeMux()
	s.AttachAdminRoutes(mux)
	return LoggingMiddleware(s.logger, mux)
}

// ServeMux registers the public routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/inventory", s.handleInventory)
	mux.HandleFunc("/api/timers", s.handleTimers)
	mux.HandleFunc("/api/sales", s.handleSales)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/charts/sales", s.handleSalesChart)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "index page missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	status := "healthy"
	if !s.pipeline.Healthy() {
		status = "degraded"
	}
	httputil.WriteJSONOK(w, map[string]any{
		"status":             status,
		"pipeline":           s.pipeline.State().String(),
		"uptime_seconds":     s.pipeline.Uptime().Seconds(),
		"active_connections": s.hub.Count(),
		"frames_streamed":    s.pipeline.FramesStreamed(),
		"version":            version.Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	v := s.pipeline.View()
	httputil.WriteJSONOK(w, map[string]any{
		"inventory":   v.Aggregator,
		"tracker":     v.Tracker,
		"stream":      v.Stream,
		"source":      v.Source,
		"subscribers": s.hub.Stats(),
		"updated_at":  v.UpdatedAt,
	})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	v := s.pipeline.View()
	sorted := v.Sorted
	if sorted == nil {
		sorted = []inventory.Entry{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"inventory":   v.Inventory,
		"sorted":      sorted,
		"total_items": v.Inventory.Total(),
		"frame":       v.Inventory.Frame(),
	})
}

func (s *Server) handleTimers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	v := s.pipeline.View()
	timers := v.Timers
	if timers == nil {
		timers = map[string]string{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"timers":                timers,
		"active_products":       v.Tracker.ActiveProducts,
		"verification_interval": v.Tracker.VerificationInterval,
	})
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", DefaultSalesLimit, maxSalesLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	v := s.pipeline.View()
	sales := v.SalesTail(limit)
	if sales == nil {
		sales = []presence.SaleRecord{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"sales":       sales,
		"total_sales": len(v.Sales),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	s.pipeline.RequestReset()
	s.logger.Info("reset requested", "remote", r.RemoteAddr)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reset scheduled"})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the WebSocket upgrade take over the connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// LoggingMiddleware logs method, path, status and duration of every request.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = monitoring.DiscardLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		level := slog.LevelDebug
		if lrw.statusCode >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request",
			"status", lrw.statusCode,
			"method", r.Method,
			"uri", r.RequestURI,
			"duration_ms", float64(time.Since(start).Nanoseconds())/1e6)
	})
}

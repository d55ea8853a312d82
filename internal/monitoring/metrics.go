package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inventory"

// Metrics holds the Prometheus collectors for the pipeline and the broadcast
// hub. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed   prometheus.Counter
	CaptureFailures   prometheus.Counter
	Reconnects        *prometheus.CounterVec
	DetectionErrors   prometheus.Counter
	InferenceDuration prometheus.Histogram
	CycleDuration     prometheus.Histogram
	CycleOverruns     prometheus.Counter
	InventoryItems    *prometheus.GaugeVec
	TotalItems        prometheus.Gauge
	Sales             *prometheus.CounterVec

	Subscribers       prometheus.Gauge
	MessagesSent      *prometheus.CounterVec
	SendFailures      *prometheus.CounterVec
	BroadcastDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frames_processed_total",
			Help:      "Frames that completed a full pipeline cycle",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "capture_failures_total",
			Help:      "Frame reads that failed",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "reconnects_total",
			Help:      "Frame source reconnect attempts by outcome",
		}, []string{"outcome"}),
		DetectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "detection_errors_total",
			Help:      "Detector calls that failed and were treated as empty frames",
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "inference_duration_seconds",
			Help:      "Detector latency per frame",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Processing time per pipeline cycle, excluding the pacing sleep",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		CycleOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycle_overruns_total",
			Help:      "Cycles that took longer than the frame budget",
		}),
		InventoryItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "items",
			Help:      "Smoothed item count per class",
		}, []string{"class"}),
		TotalItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "total_items",
			Help:      "Smoothed item count across all classes",
		}),
		Sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "sales_total",
			Help:      "Recorded sale events per product",
		}, []string{"product"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Currently registered subscribers",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_sent_total",
			Help:      "Messages delivered to subscribers by type",
		}, []string{"type"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "send_failures_total",
			Help:      "Failed subscriber deliveries by reason",
		}, []string{"reason"}),
		BroadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "publish_duration_seconds",
			Help:      "Time to complete one publish round",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.FramesProcessed,
		m.CaptureFailures,
		m.Reconnects,
		m.DetectionErrors,
		m.InferenceDuration,
		m.CycleDuration,
		m.CycleOverruns,
		m.InventoryItems,
		m.TotalItems,
		m.Sales,
		m.Subscribers,
		m.MessagesSent,
		m.SendFailures,
		m.BroadcastDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

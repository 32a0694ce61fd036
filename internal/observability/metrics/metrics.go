package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamhub"

// Recorder owns a private prometheus registry with the HTTP, ingest, asset
// and realtime collectors used across the service.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	ingestRuns     *prometheus.CounterVec
	ingestStage    *prometheus.HistogramVec
	activeIngests  prometheus.Gauge
	assetUploads   *prometheus.CounterVec
	assetBytes     prometheus.Counter
	assetDeletes   *prometheus.CounterVec
	connections    prometheus.Gauge
	onlineUsers    prometheus.Gauge
	chatEvents     *prometheus.CounterVec
	busPublishErrs prometheus.Counter
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New creates and registers the collectors on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion pipeline runs by outcome.",
		}, []string{"outcome"}),
		ingestStage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_stage_duration_seconds",
			Help:      "Duration of each ingestion stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600, 1800},
		}, []string{"stage", "outcome"}),
		activeIngests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_active",
			Help:      "Ingestion runs currently in progress.",
		}),
		assetUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_uploads_total",
			Help:      "Asset store uploads by outcome.",
		}, []string{"outcome"}),
		assetBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_upload_bytes_total",
			Help:      "Bytes written to the asset store.",
		}),
		assetDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_deletes_total",
			Help:      "Compensating asset deletions by outcome.",
		}, []string{"outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Open realtime connections on this instance.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_online_users",
			Help:      "Distinct users with at least one open connection.",
		}),
		chatEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_events_total",
			Help:      "Realtime events emitted by name.",
		}, []string{"event"}),
		busPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_bus_publish_errors_total",
			Help:      "Failed publishes to the cross-instance chat bus.",
		}),
	}
	registry.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.ingestRuns,
		r.ingestStage,
		r.activeIngests,
		r.assetUploads,
		r.assetBytes,
		r.assetDeletes,
		r.connections,
		r.onlineUsers,
		r.chatEvents,
		r.busPublishErrs,
	)
	return r
}

// Default returns the shared recorder used when callers pass nil.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the shared recorder.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// Or returns r, or the default recorder when r is nil.
func Or(r *Recorder) *Recorder {
	if r != nil {
		return r
	}
	return Default()
}

// Registry exposes the underlying prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	route = normalizePath(route)
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveIngest counts a finished pipeline run.
func (r *Recorder) ObserveIngest(outcome string) {
	r.ingestRuns.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveIngestStage(stage, outcome string, duration time.Duration) {
	r.ingestStage.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// IngestStarted increments the active gauge and returns a func that
// decrements it.
func (r *Recorder) IngestStarted() func() {
	r.activeIngests.Inc()
	var once sync.Once
	return func() {
		once.Do(r.activeIngests.Dec)
	}
}

func (r *Recorder) ObserveAssetUpload(outcome string, bytes int64) {
	r.assetUploads.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		r.assetBytes.Add(float64(bytes))
	}
}

func (r *Recorder) ObserveAssetDelete(outcome string) {
	r.assetDeletes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ConnectionOpened() {
	r.connections.Inc()
}

func (r *Recorder) ConnectionClosed() {
	r.connections.Dec()
}

func (r *Recorder) SetOnlineUsers(n int) {
	r.onlineUsers.Set(float64(n))
}

func (r *Recorder) ObserveChatEvent(event string) {
	r.chatEvents.WithLabelValues(event).Inc()
}

func (r *Recorder) ObserveBusPublishError() {
	r.busPublishErrs.Inc()
}

// normalizePath collapses identifier-like segments so unmatched routes do not
// explode label cardinality.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" || strings.HasPrefix(part, "{") {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = "{id}"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digits := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 3
}

package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// HTTPMetrics contains Prometheus metrics for the HTTP API and live stream.
type HTTPMetrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	httpRequestErrorsTotal *prometheus.CounterVec
	httpResponseSizeBytes  *prometheus.HistogramVec

	uploadsTotal           *prometheus.CounterVec
	statisticsCacheTotal   *prometheus.CounterVec
	wsConnectionsActive    prometheus.Gauge
	wsMessagesSentTotal    prometheus.Counter
	streamClientsActive    prometheus.Gauge
	streamFramesTotal      prometheus.Counter
	streamReadErrorsTotal  prometheus.Counter
	streamFrameDurationSec prometheus.Histogram

	collectors []prometheus.Collector
}

// NewHTTPMetrics creates and registers HTTP metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize HTTP metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() error {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"method", "path"},
	)

	m.httpRequestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP requests that ended in an error response",
		},
		[]string{"method", "path", "error_type"},
	)

	m.httpResponseSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
		[]string{"method", "path"},
	)

	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_detection_requests_total",
			Help: "Detection requests by method and outcome",
		},
		[]string{"method", "status"}, // method: upload, webcam
	)

	m.statisticsCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_statistics_cache_total",
			Help: "Statistics cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	m.wsConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_websocket_connections_active",
		Help: "Number of connected emotion websocket clients",
	})

	m.wsMessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_websocket_messages_sent_total",
		Help: "Total number of emotion updates pushed over websockets",
	})

	m.streamClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_mjpeg_clients_active",
		Help: "Number of connected MJPEG viewers",
	})

	m.streamFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_frames_total",
		Help: "Total number of frames published to the MJPEG stream",
	})

	m.streamReadErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_camera_read_errors_total",
		Help: "Total number of failed camera reads in the stream loop",
	})

	m.streamFrameDurationSec = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stream_frame_duration_seconds",
		Help:    "Time to read, classify, annotate and encode one frame",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})

	m.collectors = []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestErrorsTotal,
		m.httpResponseSizeBytes,
		m.uploadsTotal,
		m.statisticsCacheTotal,
		m.wsConnectionsActive,
		m.wsMessagesSentTotal,
		m.streamClientsActive,
		m.streamFramesTotal,
		m.streamReadErrorsTotal,
		m.streamFrameDurationSec,
	}
	return nil
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordHTTPRequest records a completed request.
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordHTTPRequestError records a request that ended in an error response.
func (m *HTTPMetrics) RecordHTTPRequestError(method, path, errorType string) {
	m.httpRequestErrorsTotal.WithLabelValues(method, path, errorType).Inc()
}

// RecordHTTPResponseSize records the response body size.
func (m *HTTPMetrics) RecordHTTPResponseSize(method, path string, sizeBytes int64) {
	m.httpResponseSizeBytes.WithLabelValues(method, path).Observe(float64(sizeBytes))
}

// RecordDetectionRequest records an upload or capture request outcome.
func (m *HTTPMetrics) RecordDetectionRequest(method, status string) {
	m.uploadsTotal.WithLabelValues(method, status).Inc()
}

// RecordStatisticsCache records a statistics cache hit or miss.
func (m *HTTPMetrics) RecordStatisticsCache(hit bool) {
	if hit {
		m.statisticsCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	m.statisticsCacheTotal.WithLabelValues("miss").Inc()
}

// WebsocketConnectionStarted increments the active websocket gauge.
func (m *HTTPMetrics) WebsocketConnectionStarted() {
	m.wsConnectionsActive.Inc()
}

// WebsocketConnectionClosed decrements the active websocket gauge.
func (m *HTTPMetrics) WebsocketConnectionClosed() {
	m.wsConnectionsActive.Dec()
}

// RecordWebsocketMessageSent counts a pushed emotion update.
func (m *HTTPMetrics) RecordWebsocketMessageSent() {
	m.wsMessagesSentTotal.Inc()
}

// StreamClientConnected increments the MJPEG viewer gauge.
func (m *HTTPMetrics) StreamClientConnected() {
	m.streamClientsActive.Inc()
}

// StreamClientDisconnected decrements the MJPEG viewer gauge.
func (m *HTTPMetrics) StreamClientDisconnected() {
	m.streamClientsActive.Dec()
}

// RecordStreamFrame records one published frame.
func (m *HTTPMetrics) RecordStreamFrame(durationSeconds float64) {
	m.streamFramesTotal.Inc()
	m.streamFrameDurationSec.Observe(durationSeconds)
}

// RecordStreamReadError counts a failed camera read.
func (m *HTTPMetrics) RecordStreamReadError() {
	m.streamReadErrorsTotal.Inc()
}

// GetActiveWebsocketConnections returns the current websocket gauge value.
func (m *HTTPMetrics) GetActiveWebsocketConnections() float64 {
	var metric dto.Metric
	if err := m.wsConnectionsActive.Write(&metric); err != nil {
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}

// GetStreamReadErrors returns the failed camera read count.
func (m *HTTPMetrics) GetStreamReadErrors() float64 {
	var metric dto.Metric
	if err := m.streamReadErrorsTotal.Write(&metric); err != nil {
		return 0
	}
	if metric.Counter != nil && metric.Counter.Value != nil {
		return *metric.Counter.Value
	}
	return 0
}

// Package metrics provides custom Prometheus metrics for the components of emotion-go.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// EmotionMetrics contains Prometheus metrics for face detection and classification.
type EmotionMetrics struct {
	registry *prometheus.Registry

	DetectionsTotal    *prometheus.CounterVec
	DetectDuration     prometheus.Histogram
	FaceSearchDuration prometheus.Histogram
	PresetHitsTotal    *prometheus.CounterVec
	InferenceDuration  prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
	ModelLoaded        prometheus.Gauge
	ConfidenceHist     prometheus.Histogram

	collectors []prometheus.Collector
}

// NewEmotionMetrics creates and registers emotion detection metrics.
func NewEmotionMetrics(registry *prometheus.Registry) (*EmotionMetrics, error) {
	m := &EmotionMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize emotion metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register emotion metrics: %w", err)
	}
	return m, nil
}

func (m *EmotionMetrics) initMetrics() error {
	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_detections_total",
			Help: "Total number of classified frames and images by label",
		},
		[]string{"emotion", "source"}, // source: frame, image
	)

	m.DetectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emotion_detect_duration_seconds",
		Help:    "End to end time of one detection, face search through annotation",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})

	m.FaceSearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emotion_face_search_duration_seconds",
		Help:    "Time spent running cascade presets until a face is found",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})

	m.PresetHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_face_preset_hits_total",
			Help: "Which cascade preset located the face, or none",
		},
		[]string{"preset"},
	)

	m.InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emotion_inference_duration_seconds",
		Help:    "Time spent in classifier invocation",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
	})

	m.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_errors_total",
			Help: "Total number of detection errors by type",
		},
		[]string{"error_type"},
	)

	m.ModelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emotion_model_loaded",
		Help: "1 when the classifier model is loaded",
	})

	m.ConfidenceHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emotion_confidence",
		Help:    "Distribution of top-label confidence",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
	})

	m.collectors = []prometheus.Collector{
		m.DetectionsTotal,
		m.DetectDuration,
		m.FaceSearchDuration,
		m.PresetHitsTotal,
		m.InferenceDuration,
		m.ErrorsTotal,
		m.ModelLoaded,
		m.ConfidenceHist,
	}
	return nil
}

// Describe implements the prometheus.Collector interface.
func (m *EmotionMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *EmotionMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordDetection counts a classified face and its confidence.
func (m *EmotionMetrics) RecordDetection(emotion, source string, confidence, durationSeconds float64) {
	m.DetectionsTotal.WithLabelValues(emotion, source).Inc()
	m.ConfidenceHist.Observe(confidence)
	m.DetectDuration.Observe(durationSeconds)
}

// RecordFaceSearch records the preset that found a face. A negative index means no preset did.
func (m *EmotionMetrics) RecordFaceSearch(presetIndex int, durationSeconds float64) {
	preset := "none"
	if presetIndex >= 0 {
		preset = strconv.Itoa(presetIndex + 1)
	}
	m.PresetHitsTotal.WithLabelValues(preset).Inc()
	m.FaceSearchDuration.Observe(durationSeconds)
}

// RecordInference records one classifier call.
func (m *EmotionMetrics) RecordInference(durationSeconds float64, err error) {
	m.InferenceDuration.Observe(durationSeconds)
	if err != nil {
		m.ErrorsTotal.WithLabelValues(categorizeError(err)).Inc()
	}
}

// RecordError counts a detection error by type.
func (m *EmotionMetrics) RecordError(err error) {
	m.ErrorsTotal.WithLabelValues(categorizeError(err)).Inc()
}

// SetModelLoaded updates the model loaded gauge.
func (m *EmotionMetrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
		return
	}
	m.ModelLoaded.Set(0)
}

// errorTyper is implemented by errors that carry their own metric label.
type errorTyper interface {
	ErrorType() string
}

// categorizeError maps an error to a low-cardinality label value.
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	var typed errorTyper
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no face"):
		return "no_face"
	case strings.Contains(msg, "model"):
		return "model"
	case strings.Contains(msg, "frame"), strings.Contains(msg, "image"):
		return "invalid_input"
	case strings.Contains(msg, "inference"), strings.Contains(msg, "invoke"):
		return "inference"
	default:
		return "other"
	}
}

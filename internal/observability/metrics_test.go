package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// because every instance owns its registry
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Emotion)
			assert.NotNil(t, m.Datastore)
			assert.NotNil(t, m.HTTP)
			assert.NotNil(t, m.MQTT)
		}()
	}
	wg.Wait()
}

func TestEmotionMetricsRecording(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Emotion.RecordDetection("Happy", "upload", 0.91, 0.02)
	m.Emotion.RecordDetection("Happy", "upload", 0.75, 0.02)
	m.Emotion.RecordDetection("Sad", "stream", 0.6, 0.02)
	m.Emotion.RecordFaceSearch(0, 0.01)
	m.Emotion.RecordFaceSearch(-1, 0.03)
	m.Emotion.RecordInference(0.005, errors.New("invoke failed"))
	m.Emotion.SetModelLoaded(true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Emotion.DetectionsTotal.WithLabelValues("Happy", "upload")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Emotion.DetectionsTotal.WithLabelValues("Sad", "stream")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Emotion.PresetHitsTotal.WithLabelValues("1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Emotion.PresetHitsTotal.WithLabelValues("none")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Emotion.ErrorsTotal.WithLabelValues("inference")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Emotion.ModelLoaded), 0)
}

func TestWebsocketGauge(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.HTTP.WebsocketConnectionStarted()
	m.HTTP.WebsocketConnectionStarted()
	m.HTTP.WebsocketConnectionClosed()

	assert.InDelta(t, 1, m.HTTP.GetActiveWebsocketConnections(), 0)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Datastore.RecordDbOperation("db_insert", "emotion_detections", "success")
	m.MQTT.UpdateConnectionStatus(true)

	e := echo.New()
	m.RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `datastore_db_operations_total{operation="db_insert",status="success",table="emotion_detections"} 1`)
	assert.Contains(t, body, "mqtt_connection_status 1")
	assert.Contains(t, body, "go_goroutines")
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/stream"
	"github.com/tphakala/emotion-go/internal/testutil"
)

func TestGetHistory(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	confidence := 0.75
	env.ds.On("List", "alice", 5).Return([]datastore.Detection{
		{ID: 2, UserName: "alice", DetectedEmotion: "Sad", Confidence: &confidence,
			DetectionMethod: datastore.MethodWebcam, Timestamp: testClock.Add(time.Minute)},
		{ID: 1, UserName: "alice", DetectedEmotion: "Happy",
			DetectionMethod: datastore.MethodUpload, Timestamp: testClock},
	}, nil).Once()

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/history?user_name=alice&limit=5", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, HistoryRecord{
		ID: 2, UserName: "alice", Emotion: "Sad", Confidence: &confidence,
		Timestamp: "2024-01-15T14:31:00", Method: "webcam",
	}, resp.Records[0])
	assert.Nil(t, resp.Records[1].Confidence)
	env.ds.AssertExpectations(t)
}

func TestGetHistoryDefaultLimit(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("List", "", defaultHistoryLimit).Return([]datastore.Detection{}, nil).Twice()

	for _, query := range []string{"", "?limit=abc"} {
		rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/history"+query, http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"records":[],"total":0}`, rec.Body.String())
	}
	env.ds.AssertExpectations(t)
}

func TestGetHistoryDatastoreError(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("List", "", defaultHistoryLimit).Return([]datastore.Detection(nil), errors.NewStd("locked")).Once()

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/history", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestGetStatisticsCached(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("Statistics", "alice").Return([]datastore.EmotionCount{
		{Emotion: "Happy", Count: 3},
		{Emotion: "Sad", Count: 1},
	}, nil).Once()

	for range 3 {
		rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/statistics?user_name=alice", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"statistics":{"Happy":3,"Sad":1}}`, rec.Body.String())
	}
	env.ds.AssertNumberOfCalls(t, "Statistics", 1)
}

func TestStatisticsInvalidatedByInsert(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("Statistics", "").Return([]datastore.EmotionCount{{Emotion: "Happy", Count: 1}}, nil).Once()
	env.ds.On("Statistics", "").Return([]datastore.EmotionCount{{Emotion: "Happy", Count: 2}}, nil).Once()
	env.ds.On("Save", mock.Anything).Return(nil).Once()

	get := func() string {
		rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/statistics", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	assert.JSONEq(t, `{"success":true,"statistics":{"Happy":1}}`, get())
	rec := env.serve(newUploadRequest(t, strPtr("alice"), &uploadPart{filename: "face.jpg", data: []byte("x")}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"statistics":{"Happy":2}}`, get())
	env.ds.AssertExpectations(t)
}

func adminSettings(t *testing.T, password string) func(*conf.Settings) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return func(s *conf.Settings) {
		s.Security.Admin.Username = "admin"
		s.Security.Admin.PasswordHash = string(hash)
	}
}

func deleteRequest(id, user, password string) *http.Request {
	req := httptest.NewRequest(http.MethodDelete, "/api/detections/"+id, http.NoBody)
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	return req
}

func TestDeleteDetectionDisabledWithoutAdmin(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	rec := env.serve(deleteRequest("1", "admin", "secret"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgNotFound, decodeError(t, rec))
	env.ds.AssertNotCalled(t, "Delete", mock.Anything)
}

func TestDeleteDetectionAuth(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, adminSettings(t, "secret"))

	tests := []struct {
		name, user, password string
	}{
		{"no credentials", "", ""},
		{"wrong password", "admin", "guess"},
		{"wrong user", "root", "secret"},
	}
	for _, tt := range tests {
		rec := env.serve(deleteRequest("1", tt.user, tt.password))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tt.name)
	}
	env.ds.AssertNotCalled(t, "Delete", mock.Anything)
}

func TestDeleteDetection(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, adminSettings(t, "secret"))
	env.ds.On("Delete", "5").Return(nil).Once()
	env.ds.On("Delete", "6").Return(errors.Newf("detection 6 not found").
		Category(errors.CategoryNotFound).Build()).Once()
	env.ds.On("Statistics", "").Return([]datastore.EmotionCount{}, nil).Twice()

	// prime the statistics cache
	env.serve(httptest.NewRequest(http.MethodGet, "/api/statistics", http.NoBody))

	rec := env.serve(deleteRequest("5", "admin", "secret"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"success":true`)

	// the delete dropped the cached statistics
	env.serve(httptest.NewRequest(http.MethodGet, "/api/statistics", http.NoBody))
	env.ds.AssertNumberOfCalls(t, "Statistics", 2)

	rec = env.serve(deleteRequest("6", "admin", "secret"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgDetectionAbsent, decodeError(t, rec))

	rec = env.serve(deleteRequest("abc", "admin", "secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgInvalidID, decodeError(t, rec))

	env.ds.AssertExpectations(t)
}

func TestCurrentEmotion(t *testing.T) {
	t.Parallel()

	state := stream.NewState()
	env := setupTestEnvironment(t, nil)
	env.ctrl.state = state

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/emotion", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap stream.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, stream.InitialEmotion, snap.Emotion)
	assert.Zero(t, snap.Confidence)

	state.Set("Surprise", 0.66)
	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/emotion", http.NoBody))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "Surprise", snap.Emotion)
	assert.InDelta(t, 0.66, snap.Confidence, 1e-9)
}

func TestGetLabels(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/labels", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"labels":["Angry","Disgust","Fear","Happy","Sad","Surprise","Neutral"]}`,
		rec.Body.String())
}

func TestGetModelInfo(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/model", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var info emotion.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "loaded", info.Status)
	assert.Equal(t, emotion.NumLabels, info.NumEmotions)

	env.detector.unloaded = true
	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/model", http.NoBody))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "error", info.Status)
	assert.Equal(t, "Model not loaded", info.Message)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("Ping").Return(nil).Once()

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.CameraConnected)
	assert.True(t, resp.ModelLoaded)
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "2024-01-15T14:30:00Z", resp.Timestamp)
	assert.GreaterOrEqual(t, resp.System.MemoryPercent, 0.0)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("Ping").Return(errors.NewStd("database is locked")).Once()

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"database unavailable"}`, rec.Body.String())
}

func TestUnknownEndpoint(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/predict", http.NoBody),
		httptest.NewRequest(http.MethodPut, "/upload", http.NoBody),
	} {
		rec := env.serve(req)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.URL.Path)
		assert.JSONEq(t, `{"error":"Endpoint not found"}`, rec.Body.String())
	}
}

func TestPanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(&conf.Settings{})
	require.NoError(t, err)
	t.Cleanup(srv.Controller().Shutdown)
	srv.Echo().GET("/boom", func(echo.Context) error {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "kaboom")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestVideoFeedUnavailable(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	rec := env.serve(httptest.NewRequest(http.MethodGet, "/video_feed", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/ws/emotion", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVideoFeedEndsOnShutdown(t *testing.T) {
	t.Parallel()

	feed := stream.NewFeed()
	env := setupTestEnvironment(t, nil, WithVideoFeed(feed))
	feed.Publish([]byte{0xFF, 0xD8, 0xFF, 0xD9})

	done := testutil.Go(func() *httptest.ResponseRecorder {
		return env.serve(httptest.NewRequest(http.MethodGet, "/video_feed", http.NoBody))
	})

	require.Eventually(t, func() bool { return feed.Clients() == 1 }, testutil.DefaultTestTimeout, testutil.PollInterval)
	env.ctrl.Shutdown()

	rec := testutil.WaitFor(t, done, testutil.DefaultTestTimeout, "video feed did not end on shutdown")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "--frame\r\n")
	assert.Equal(t, 0, feed.Clients())
}

func TestVideoFeedEndsWhenViewerLeaves(t *testing.T) {
	t.Parallel()

	// no frames are published, as with a camera that is down
	feed := stream.NewFeed()
	env := setupTestEnvironment(t, nil, WithVideoFeed(feed))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/video_feed", http.NoBody).WithContext(ctx)
	done := testutil.Go(func() int { return env.serve(req).Code })

	require.Eventually(t, func() bool { return feed.Clients() == 1 }, testutil.DefaultTestTimeout, testutil.PollInterval)
	cancel()

	code := testutil.WaitFor(t, done, testutil.DefaultTestTimeout, "video feed did not end after the viewer left")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, feed.Clients())
}

func TestIndexPage(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil, WithVideoFeed(http.NotFoundHandler()))
	rec := env.serve(httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "<title>Emotion Detection</title>")
	assert.Contains(t, body, `src="/video_feed"`)
	for _, label := range emotion.Labels() {
		assert.Contains(t, body, `data-label="`+label+`"`)
	}
	assert.True(t, strings.Contains(body, "vtest"))
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(nil)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultBodyLimit, cfg.BodyLimit)
	require.NoError(t, cfg.Validate())

	settings := &conf.Settings{}
	settings.WebServer.Host = "127.0.0.1"
	settings.WebServer.Port = "8081"
	settings.WebServer.ShutdownTimeout = 3 * time.Second
	settings.Upload.MaxSize = "4M"
	settings.WebServer.RateLimit = conf.RateLimitSettings{Enabled: true, Rate: 2, Burst: 4}

	cfg = ConfigFromSettings(settings)
	assert.Equal(t, "127.0.0.1:8081", cfg.Address())
	assert.Equal(t, "4M", cfg.BodyLimit)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.RateLimitEnabled)
	assert.InDelta(t, 2.0, cfg.RateLimit, 0)
	assert.Equal(t, 4, cfg.RateBurst)
	require.NoError(t, cfg.Validate())

	settings.Upload.MaxSize = "lots"
	cfg = ConfigFromSettings(settings)
	assert.Equal(t, DefaultBodyLimit, cfg.BodyLimit)

	cfg.Port = ""
	assert.Error(t, cfg.Validate())
}

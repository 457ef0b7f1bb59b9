// test_utils_test.go: shared fakes and helpers for the API tests.

package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
)

// MockDataStore implements datastore.Interface for testing.
type MockDataStore struct {
	mock.Mock
}

func (m *MockDataStore) Open() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDataStore) Save(detection *datastore.Detection) error {
	args := m.Called(detection)
	return args.Error(0)
}

func (m *MockDataStore) Get(id string) (datastore.Detection, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Detection), args.Error(1)
}

func (m *MockDataStore) List(userName string, limit int) ([]datastore.Detection, error) {
	args := m.Called(userName, limit)
	return args.Get(0).([]datastore.Detection), args.Error(1)
}

func (m *MockDataStore) Statistics(userName string) ([]datastore.EmotionCount, error) {
	args := m.Called(userName)
	return args.Get(0).([]datastore.EmotionCount), args.Error(1)
}

func (m *MockDataStore) Count(userName string) (int64, error) {
	args := m.Called(userName)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataStore) Delete(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockDataStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDataStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeDetector returns a fixed result and counts calls.
type fakeDetector struct {
	mu        sync.Mutex
	result    emotion.Result
	err       error
	unloaded  bool
	calls     int
	annotated bool
}

func (f *fakeDetector) Detect(_ *gocv.Mat, annotate bool) (emotion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.annotated = annotate
	return f.result, f.err
}

func (f *fakeDetector) DetectImage(_ []byte, annotate bool) (emotion.Result, gocv.Mat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.annotated = annotate
	return f.result, gocv.NewMat(), f.err
}

func (f *fakeDetector) Available() bool { return !f.unloaded }

func (f *fakeDetector) ModelInfo() emotion.ModelInfo {
	if f.unloaded {
		return emotion.ModelInfo{Status: "error", Message: "Model not loaded"}
	}
	return emotion.ModelInfo{
		Status:      "loaded",
		ModelPath:   "emotion_model.tflite",
		Emotions:    emotion.Labels(),
		NumEmotions: emotion.NumLabels,
		FaceSize:    emotion.FaceSize,
	}
}

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeCamera fills frames with a blank image or fails.
type fakeCamera struct {
	err    error
	opened bool
}

func (f *fakeCamera) Read(dst *gocv.Mat) error {
	if f.err != nil {
		return f.err
	}
	blank := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer blank.Close()
	blank.CopyTo(dst)
	return nil
}

func (f *fakeCamera) IsOpened() bool { return f.opened }

// recordingPublisher collects enqueued detections.
type recordingPublisher struct {
	mu     sync.Mutex
	events []datastore.Detection
}

func (p *recordingPublisher) Enqueue(d datastore.Detection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, d)
	return true
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// testClock is the fixed time used for stored file names.
var testClock = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

// testEnv bundles the controller and its fakes.
type testEnv struct {
	e         *echo.Echo
	ds        *MockDataStore
	detector  *fakeDetector
	camera    *fakeCamera
	publisher *recordingPublisher
	settings  *conf.Settings
	ctrl      *Controller
}

// setupTestEnvironment builds a controller on fakes. configure may adjust
// the settings before the routes are registered.
func setupTestEnvironment(t *testing.T, configure func(*conf.Settings), opts ...Option) *testEnv {
	t.Helper()

	settings := &conf.Settings{}
	settings.Version = "test"
	settings.Upload.Path = t.TempDir()
	settings.Upload.AllowedExtensions = []string{"png", "jpg", "jpeg", "gif"}
	if configure != nil {
		configure(settings)
	}

	env := &testEnv{
		e:         echo.New(),
		ds:        new(MockDataStore),
		detector:  &fakeDetector{result: emotion.Result{Label: "Happy", Confidence: 0.9, Found: true}},
		camera:    &fakeCamera{opened: true},
		publisher: &recordingPublisher{},
		settings:  settings,
	}

	opts = append([]Option{
		WithClock(func() time.Time { return testClock }),
		WithPublisher(env.publisher),
	}, opts...)
	env.ctrl = New(env.e, env.ds, env.detector, env.camera, nil, settings, nil, opts...)
	t.Cleanup(env.ctrl.Shutdown)
	return env
}

// serve runs req through the echo router.
func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

// uploadPart describes the file part of an upload request. A nil part
// sends no file at all.
type uploadPart struct {
	filename string
	data     []byte
}

// newUploadRequest builds a multipart POST /upload.
func newUploadRequest(t *testing.T, userName *string, part *uploadPart) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if userName != nil {
		require.NoError(t, w.WriteField("user_name", *userName))
	}
	if part != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+part.filename+`"`)
		h.Set("Content-Type", "application/octet-stream")
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(part.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func strPtr(s string) *string { return &s }

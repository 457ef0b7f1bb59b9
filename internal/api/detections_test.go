package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/errors"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	for _, name := range []string{"notes.txt", "script.JPG.exe", "noextension", "archive.tar.gz"} {
		rec := env.serve(newUploadRequest(t, strPtr("alice"), &uploadPart{filename: name, data: []byte("x")}))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, msgFileType, decodeError(t, rec), name)
	}

	// nothing was stored or classified
	env.ds.AssertNotCalled(t, "Save", mock.Anything)
	assert.Zero(t, env.detector.callCount())
	entries, err := os.ReadDir(env.settings.Upload.Path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadValidationMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		user     *string
		part     *uploadPart
		expected string
	}{
		{"no file part", strPtr("alice"), nil, msgNoFile},
		{"missing user", nil, &uploadPart{filename: "face.jpg", data: []byte("x")}, msgUserRequired},
		{"blank user", strPtr("   "), &uploadPart{filename: "face.jpg", data: []byte("x")}, msgUserRequired},
		{"empty filename", strPtr("alice"), &uploadPart{filename: "", data: nil}, msgNoFileSelected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestEnvironment(t, nil)
			rec := env.serve(newUploadRequest(t, tt.user, tt.part))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.expected, decodeError(t, rec))
			env.ds.AssertNotCalled(t, "Save", mock.Anything)
		})
	}
}

func TestUploadNonMultipartBody(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"user_name":"alice"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := env.serve(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgNoFile, decodeError(t, rec))
}

func TestUploadStoresDetection(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("Save", mock.MatchedBy(func(d *datastore.Detection) bool {
		return d.UserName == "alice" &&
			d.DetectedEmotion == "Happy" &&
			d.DetectionMethod == datastore.MethodUpload &&
			d.Confidence != nil && *d.Confidence == 0.9 &&
			d.Timestamp.Equal(testClock)
	})).Run(func(args mock.Arguments) {
		args.Get(0).(*datastore.Detection).ID = 7
	}).Return(nil).Once()

	rec := env.serve(newUploadRequest(t, strPtr(" alice "), &uploadPart{filename: "My Face.JPG", data: []byte("jpegdata")}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Happy", resp.Emotion)
	require.NotNil(t, resp.Confidence)
	assert.InDelta(t, 0.9, *resp.Confidence, 1e-9)
	assert.Equal(t, "alice", resp.UserName)
	assert.Equal(t, uint(7), resp.RecordID)
	assert.Equal(t, "alice_20240115_143000_My_Face.JPG", resp.Filename)
	assert.Equal(t, "2024-01-15T14:30:00Z", resp.Timestamp)

	stored, err := os.ReadFile(filepath.Join(env.settings.Upload.Path, resp.Filename))
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(stored))

	assert.False(t, env.detector.annotated, "uploads are classified without annotation")
	assert.Equal(t, 1, env.publisher.count())
	env.ds.AssertExpectations(t)
}

func TestUploadUnreadableImage(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.detector.err = errors.Join(emotion.ErrInvalidFrame, errors.NewStd("cannot decode image"))
	env.detector.result = emotion.Result{Label: emotion.ErrorLabel}

	rec := env.serve(newUploadRequest(t, strPtr("bob"), &uploadPart{filename: "broken.png", data: []byte("not a png")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgReadImage, decodeError(t, rec))

	env.ds.AssertNotCalled(t, "Save", mock.Anything)
	entries, err := os.ReadDir(env.settings.Upload.Path)
	require.NoError(t, err)
	assert.Empty(t, entries, "unreadable uploads are removed")
}

func TestUploadStoresDetectorSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		label string
	}{
		{"no face", emotion.ErrNoFace, emotion.NoFaceDetected},
		{"model missing", emotion.ErrModelUnavailable, emotion.ErrorLabel},
		{"inference", emotion.ErrInference, emotion.ErrorLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestEnvironment(t, nil)
			env.detector.err = tt.err
			env.detector.result = emotion.Result{Label: tt.label}
			env.ds.On("Save", mock.MatchedBy(func(d *datastore.Detection) bool {
				return d.DetectedEmotion == tt.label && d.Confidence == nil
			})).Return(nil).Once()

			rec := env.serve(newUploadRequest(t, strPtr("carol"), &uploadPart{filename: "face.png", data: []byte("png")}))
			require.Equal(t, http.StatusOK, rec.Code)

			var resp DetectionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.label, resp.Emotion)
			assert.Nil(t, resp.Confidence)
			env.ds.AssertExpectations(t)
		})
	}
}

func TestUploadDatastoreFailure(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("Save", mock.Anything).Return(errors.NewStd("disk full")).Once()

	rec := env.serve(newUploadRequest(t, strPtr("dave"), &uploadPart{filename: "face.gif", data: []byte("gif")}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgInternal, decodeError(t, rec))
	assert.NotContains(t, rec.Body.String(), "disk full")
	assert.Zero(t, env.publisher.count())
}

func newCaptureRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestCaptureRequiresUser(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	for _, body := range []string{`{}`, `{"user_name":"  "}`, `not json`} {
		rec := env.serve(newCaptureRequest(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, msgUserRequired, decodeError(t, rec), body)
	}
	assert.Zero(t, env.detector.callCount())
}

func TestCaptureCameraFailure(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.camera.err = errors.NewStd("device busy")

	rec := env.serve(newCaptureRequest(`{"user_name":"erin"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgCaptureFailed, decodeError(t, rec))
	env.ds.AssertNotCalled(t, "Save", mock.Anything)
}

func TestCaptureStoresAnnotatedFrame(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	env.ds.On("Save", mock.MatchedBy(func(d *datastore.Detection) bool {
		return d.DetectionMethod == datastore.MethodWebcam && d.UserName == "frank"
	})).Run(func(args mock.Arguments) {
		args.Get(0).(*datastore.Detection).ID = 3
	}).Return(nil).Once()

	rec := env.serve(newCaptureRequest(`{"user_name":"frank"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "frank_20240115_143000_webcam.jpg", resp.Filename)
	assert.Equal(t, uint(3), resp.RecordID)
	assert.True(t, env.detector.annotated)
	assert.FileExists(t, filepath.Join(env.settings.Upload.Path, resp.Filename))
	env.ds.AssertExpectations(t)
}

func TestCaptureRateLimited(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, func(s *conf.Settings) {
		s.WebServer.RateLimit = conf.RateLimitSettings{Enabled: true, Rate: 0.001, Burst: 1}
	})

	first := env.serve(newCaptureRequest(`{}`))
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := env.serve(newCaptureRequest(`{}`))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestSecureFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"alice_20240115_143000_face.jpg", "alice_20240115_143000_face.jpg"},
		{"My cool picture.jpg", "My_cool_picture.jpg"},
		{"../../../etc/passwd", "etc_passwd"},
		{`..\..\windows\win.ini`, "windows_win.ini"},
		{"Zoë_Ångström.png", "Zoe_Angstrom.png"},
		{"  .hidden.gif  ", "hidden.gif"},
		{"a<b>c|d?.jpeg", "abcd.jpeg"},
		{"日本語.png", "png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, secureFilename(tt.in), tt.in)
	}
}

func TestAllowedFileIgnoresCase(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	for _, name := range []string{"a.png", "a.PNG", "a.Jpg", "a.jpeg", "a.GIF", "x.y.jpg"} {
		assert.True(t, env.ctrl.allowedFile(name), name)
	}
	for _, name := range []string{"a.bmp", "png", "a.", "a.jpg "} {
		assert.False(t, env.ctrl.allowedFile(name), name)
	}
}

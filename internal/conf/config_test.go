package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// writeConfig writes content to a temp config.yaml and resets viper
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "main:\n  name: kiosk\n")

	settings, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "kiosk", settings.Main.Name)
	assert.Equal(t, "5000", settings.WebServer.Port)
	assert.Equal(t, 640, settings.Camera.Width)
	assert.Equal(t, 480, settings.Camera.Height)
	assert.Equal(t, 2, settings.Stream.ClassifyEvery)
	assert.Equal(t, "uploads", settings.Upload.Path)
	assert.Equal(t, []string{"png", "jpg", "jpeg", "gif"}, settings.Upload.AllowedExtensions)
	assert.True(t, settings.Output.SQLite.Enabled)
	assert.Equal(t, "emotions.db", settings.Output.SQLite.Path)
	assert.Equal(t, "haarcascade_frontalface_default.xml", settings.Emotion.CascadePath)
	assert.Equal(t, 10*time.Second, settings.WebServer.ShutdownTimeout)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)

	assert.Same(t, settings, GetSettings())
}

func TestEmbeddedDefaultConfigIsValid(t *testing.T) {
	path := writeConfig(t, getDefaultConfig())

	settings, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "emotion-go/detections", settings.MQTT.Topic)
	assert.Equal(t, time.Second, settings.Camera.RetryDelay)
}

func TestPortEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "webserver:\n  port: \"8080\"\n")
	t.Setenv("PORT", "9090")
	t.Setenv("DEBUG", "true")

	settings, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", settings.WebServer.Port)
	assert.True(t, settings.Debug)
}

func TestPrefixedEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("EMOTION_CAMERA_DEVICE", "2")
	t.Setenv("EMOTION_STREAM_CLASSIFYEVERY", "3")

	settings, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 2, settings.Camera.Device)
	assert.Equal(t, 3, settings.Stream.ClassifyEvery)
}

func TestLoadFromRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "stream:\n  classifyevery: 0\noutput:\n  mysql:\n    enabled: true\n")

	_, err := LoadFrom(path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestLoadFromMissingFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	path := writeConfig(t, "")
	settings, err := LoadFrom(path)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	settings.Security.Admin.Username = "admin"
	settings.Security.Admin.PasswordHash = string(hash)
	settings.Camera.Device = 1

	out := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(out, settings))

	viper.Reset()
	reloaded, err := LoadFrom(out)
	require.NoError(t, err)
	assert.Equal(t, "admin", reloaded.Security.Admin.Username)
	assert.Equal(t, 1, reloaded.Camera.Device)
	assert.Equal(t, settings.Upload.AllowedExtensions, reloaded.Upload.AllowedExtensions)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

func TestGetDefaultConfigPaths(t *testing.T) {
	t.Parallel()

	paths, err := GetDefaultConfigPaths()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(paths), 2)
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths[1], "emotion-go")
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestModuleLoggerLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("shown", String("label", "Happy"), Float64("confidence", 0.912345))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "label=Happy")
	assert.Contains(t, out, "confidence=0.912")
}

func TestModuleNamesAreJoined(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	root := NewSlogLogger(buf, LogLevelDebug, time.UTC)
	api := root.Module("api").Module("upload")
	api.Info("request")

	assert.Contains(t, buf.String(), "module=api.upload")
}

func TestWithAccumulatesFieldsImmutably(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	withUser := base.With(String("user", "alice"))
	withBoth := withUser.With(Int("record_id", 7))

	withUser.Info("first")
	withBoth.Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "user=alice")
	assert.NotContains(t, lines[0], "record_id")
	assert.Contains(t, lines[1], "record_id=7")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "abc-123")).Info("traced")
	log.WithContext(context.Background()).Info("untraced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=abc-123")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestTraceLevelLabel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)
	log.Trace("sql query")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestCentralLoggerFileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"datastore": "error"},
	})
	require.NoError(t, err)

	cl.Module("emotion").Info("classified", String("label", "Sad"))
	cl.Module("datastore").Info("suppressed")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "classified", entry["msg"])
	assert.Equal(t, "emotion", entry["module"])
	assert.Equal(t, "Sad", entry["label"])
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestGormAdapterTrace(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelInfo, time.UTC), 10*time.Millisecond)

	sql := func() (string, int64) { return "SELECT 1", 1 }

	adapter.Trace(context.Background(), time.Now(), sql, nil)
	assert.Empty(t, buf.String(), "normal queries log at trace")

	adapter.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "record not found is not a query error")

	adapter.Trace(context.Background(), time.Now(), sql, fmt.Errorf("disk I/O error"))
	assert.Contains(t, buf.String(), "query error")

	buf.Reset()
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "slow query")
}

func TestDiscardLoggerDropsErrors(t *testing.T) {
	t.Parallel()

	log := NewDiscardLogger()
	assert.NotPanics(t, func() {
		log.Error("nothing", Error(fmt.Errorf("boom")))
	})
	assert.NoError(t, log.Flush())
}

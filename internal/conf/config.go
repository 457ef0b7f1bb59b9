// Package conf provides configuration management for emotion-go.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/emotion-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EmotionSettings contains settings for face detection and classification
type EmotionSettings struct {
	ModelPath   string // path to the 48x48 grayscale emotion .tflite model
	CascadePath string // path to the Haar cascade XML for frontal faces
	Threads     int    // number of interpreter threads, 0 for runtime.NumCPU()
}

// CameraSettings contains settings for the capture device
type CameraSettings struct {
	Device     int           // video device index
	Width      int           // requested frame width
	Height     int           // requested frame height
	FPS        int           // requested frame rate
	RetryDelay time.Duration // wait before retrying after a failed read
}

// StreamSettings contains settings for the MJPEG stream loop
type StreamSettings struct {
	ClassifyEvery int // classify every Nth frame, 1 classifies every frame
	JPEGQuality   int // JPEG quality for streamed frames, 1-100
}

// RateLimitSettings contains limiter settings for the detection endpoints
type RateLimitSettings struct {
	Enabled bool    // true to rate limit /upload and /capture
	Rate    float64 // requests per second per client
	Burst   int     // burst size
}

// WebServerSettings contains settings for the HTTP server
type WebServerSettings struct {
	Host            string            // address to bind to
	Port            string            // port for web server
	Debug           bool              // true to enable echo debug mode
	ShutdownTimeout time.Duration     // graceful shutdown timeout
	RateLimit       RateLimitSettings // limiter for detection endpoints
}

// UploadSettings contains settings for stored images
type UploadSettings struct {
	Path              string   // directory for uploaded and captured images
	MaxSize           string   // request body limit, echo BodyLimit format e.g. "16M"
	AllowedExtensions []string // lowercase extensions accepted by /upload
}

// SQLiteSettings contains settings for the SQLite backend
type SQLiteSettings struct {
	Enabled bool   // true to enable sqlite output
	Path    string // path to sqlite database
}

// MySQLSettings contains settings for the MySQL backend
type MySQLSettings struct {
	Enabled  bool   // true to enable mysql output
	Username string // username for mysql database
	Password string // password for mysql database
	Database string // database name for mysql database
	Host     string // host for mysql database
	Port     string // port for mysql database
}

// OutputSettings contains settings for detection persistence
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// AdminSettings holds the credentials for admin-only endpoints
type AdminSettings struct {
	Username     string // basic auth username, empty disables admin endpoints
	PasswordHash string // bcrypt hash of the admin password
}

// SecuritySettings contains security settings
type SecuritySettings struct {
	Admin AdminSettings
}

// MQTTSettings contains settings for MQTT detection events
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT broker URL, e.g. tcp://localhost:1883
	Topic    string // topic for detection events
	ClientID string // client id, random suffix appended at runtime
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // true to retain published messages
}

// TelemetrySettings contains settings for Prometheus metrics
type TelemetrySettings struct {
	Enabled bool // true to expose /metrics
}

// SentrySettings contains settings for error reporting
type SentrySettings struct {
	Enabled     bool   // true to report errors to Sentry
	DSN         string // Sentry DSN
	Environment string // environment tag, e.g. production
}

// Settings contains all configuration options for emotion-go.
type Settings struct {
	Debug bool // true to enable debug mode

	Version   string `yaml:"-"` // build version, runtime value
	BuildDate string `yaml:"-"` // build date, runtime value

	Main struct {
		Name string // name of the node, used in MQTT events
	}

	Emotion   EmotionSettings
	Camera    CameraSettings
	Stream    StreamSettings
	WebServer WebServerSettings
	Upload    UploadSettings
	Output    OutputSettings
	Security  SecuritySettings
	MQTT      MQTTSettings
	Telemetry TelemetrySettings
	Sentry    SentrySettings
	Logging   logger.LoggingConfig
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration from the default search paths, applies
// defaults and environment overrides, and validates the result.
func Load() (*Settings, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path searches
// the default locations.
func LoadFrom(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(configFile string) error {
	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment variable issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml to the first writable
// user config path and reads it back.
func createDefaultConfig(configPaths []string) error {
	if len(configPaths) == 0 {
		return fmt.Errorf("no config paths available")
	}
	// the working directory comes first in the search list, prefer the user dir
	target := configPaths[0]
	if len(configPaths) > 1 {
		target = configPaths[1]
	}
	configPath := filepath.Join(target, "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath. The write goes through a
// temporary file and a rename so a crash never leaves a truncated config.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempName := tempFile.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tempName)
	}()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempName, configPath); err != nil {
		return fmt.Errorf("error renaming temporary file: %w", err)
	}
	return nil
}

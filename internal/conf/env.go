// env.go - Environment variable configuration and validation for emotion-go
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for automatic environment overrides, e.g.
// EMOTION_CAMERA_DEVICE sets camera.device.
const EnvPrefix = "EMOTION"

var envKeyReplacer = strings.NewReplacer(".", "_")

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicit environment variable bindings
func getEnvBindings() []envBinding {
	return []envBinding{
		// Plain PORT and DEBUG are honoured for container platforms
		{"webserver.port", "PORT", validateEnvPort},
		{"debug", "DEBUG", validateEnvBool},

		{"webserver.port", "EMOTION_PORT", validateEnvPort},
		{"emotion.modelpath", "EMOTION_MODEL_PATH", validateEnvPath},
		{"emotion.cascadepath", "EMOTION_CASCADE_PATH", validateEnvPath},
		{"camera.device", "EMOTION_CAMERA", validateEnvCamera},
		{"output.sqlite.path", "EMOTION_DB_PATH", validateEnvPath},
		{"upload.path", "EMOTION_UPLOAD_PATH", validateEnvPath},
		{"mqtt.password", "EMOTION_MQTT_PASSWORD", nil},
		{"sentry.dsn", "EMOTION_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	// viper.BindEnv takes several names for one key, the first set one wins
	keys := make([]string, 0)
	names := make(map[string][]string)
	for _, binding := range getEnvBindings() {
		if _, seen := names[binding.ConfigKey]; !seen {
			keys = append(keys, binding.ConfigKey)
		}
		names[binding.ConfigKey] = append(names[binding.ConfigKey], binding.EnvVar)

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	for _, key := range keys {
		args := append([]string{key}, names[key]...)
		if err := viper.BindEnv(args...); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", key, err))
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

// validateEnvPort validates a TCP port number
func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

// validateEnvCamera validates a video device index
func validateEnvCamera(value string) error {
	idx, err := strconv.Atoi(value)
	if err != nil || idx < 0 {
		return fmt.Errorf("must be a non-negative device index")
	}
	return nil
}

// validateEnvPath rejects paths with parent directory traversal
func validateEnvPath(value string) error {
	if strings.Contains(value, "..") {
		return fmt.Errorf("path traversal not allowed")
	}
	return nil
}

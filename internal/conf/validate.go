// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// sizePattern matches echo BodyLimit values such as 512K, 16M or 1G
var sizePattern = regexp.MustCompile(`^[0-9]+[KMGTP]?$`)

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateEmotionSettings,
		validateCameraSettings,
		validateStreamSettings,
		validateWebServerSettings,
		validateUploadSettings,
		validateOutputSettings,
		validateSecuritySettings,
		validateMQTTSettings,
		validateSentrySettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateEmotionSettings(s *Settings) error {
	if s.Emotion.ModelPath == "" {
		return errors.New("emotion.modelpath must not be empty")
	}
	if s.Emotion.CascadePath == "" {
		return errors.New("emotion.cascadepath must not be empty")
	}
	if s.Emotion.Threads < 0 {
		return errors.New("emotion.threads must be 0 or greater")
	}
	return nil
}

func validateCameraSettings(s *Settings) error {
	if s.Camera.Device < 0 {
		return fmt.Errorf("camera.device must be 0 or greater, got %d", s.Camera.Device)
	}
	if s.Camera.Width <= 0 || s.Camera.Height <= 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", s.Camera.Width, s.Camera.Height)
	}
	if s.Camera.FPS <= 0 {
		return fmt.Errorf("camera.fps must be positive, got %d", s.Camera.FPS)
	}
	return nil
}

func validateStreamSettings(s *Settings) error {
	if s.Stream.ClassifyEvery < 1 {
		return fmt.Errorf("stream.classifyevery must be at least 1, got %d", s.Stream.ClassifyEvery)
	}
	if s.Stream.JPEGQuality < 1 || s.Stream.JPEGQuality > 100 {
		return fmt.Errorf("stream.jpegquality must be between 1 and 100, got %d", s.Stream.JPEGQuality)
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	port, err := strconv.Atoi(s.WebServer.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be between 1 and 65535, got %q", s.WebServer.Port)
	}
	rl := s.WebServer.RateLimit
	if rl.Enabled && (rl.Rate <= 0 || rl.Burst < 1) {
		return errors.New("webserver.ratelimit requires a positive rate and burst")
	}
	return nil
}

func validateUploadSettings(s *Settings) error {
	if s.Upload.Path == "" {
		return errors.New("upload.path must not be empty")
	}
	if len(s.Upload.AllowedExtensions) == 0 {
		return errors.New("upload.allowedextensions must not be empty")
	}
	if !sizePattern.MatchString(s.Upload.MaxSize) {
		return fmt.Errorf("upload.maxsize %q is not a valid size, use e.g. 16M", s.Upload.MaxSize)
	}
	return nil
}

func validateOutputSettings(s *Settings) error {
	sqlite, mysql := s.Output.SQLite.Enabled, s.Output.MySQL.Enabled
	switch {
	case sqlite && mysql:
		return errors.New("only one of output.sqlite and output.mysql can be enabled")
	case !sqlite && !mysql:
		return errors.New("one of output.sqlite or output.mysql must be enabled")
	case sqlite && s.Output.SQLite.Path == "":
		return errors.New("output.sqlite.path must not be empty")
	case mysql && (s.Output.MySQL.Host == "" || s.Output.MySQL.Database == ""):
		return errors.New("output.mysql requires host and database")
	}
	return nil
}

func validateSecuritySettings(s *Settings) error {
	admin := s.Security.Admin
	if admin.Username == "" {
		return nil
	}
	if admin.PasswordHash == "" {
		return errors.New("security.admin.passwordhash is required when an admin username is set")
	}
	if _, err := bcrypt.Cost([]byte(admin.PasswordHash)); err != nil {
		return fmt.Errorf("security.admin.passwordhash is not a bcrypt hash: %w", err)
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	if s.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when MQTT is enabled")
	}
	if _, err := url.Parse(s.MQTT.Broker); err != nil {
		return fmt.Errorf("mqtt.broker is not a valid URL: %w", err)
	}
	if s.MQTT.Topic == "" {
		return errors.New("mqtt.topic is required when MQTT is enabled")
	}
	return nil
}

func validateSentrySettings(s *Settings) error {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return errors.New("sentry.dsn is required when Sentry is enabled")
	}
	return nil
}

// UploadLimitBytes converts upload.maxsize to bytes, 0 when unparsable.
func (u *UploadSettings) UploadLimitBytes() int64 {
	if !sizePattern.MatchString(u.MaxSize) {
		return 0
	}
	unit := u.MaxSize[len(u.MaxSize)-1]
	digits := u.MaxSize
	multiplier := int64(1)
	if unit < '0' || unit > '9' {
		digits = u.MaxSize[:len(u.MaxSize)-1]
		switch unit {
		case 'K':
			multiplier = 1 << 10
		case 'M':
			multiplier = 1 << 20
		case 'G':
			multiplier = 1 << 30
		case 'T':
			multiplier = 1 << 40
		case 'P':
			multiplier = 1 << 50
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n * multiplier
}

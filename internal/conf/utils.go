// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/emotion-go/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in order: the working directory, the user config directory, and on
// unix systems /etc/emotion-go.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	if runtime.GOOS == osWindows {
		return []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "emotion-go"),
		}, nil
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "emotion-go"),
		"/etc/emotion-go",
	}, nil
}

// GetDefaultConfigDir returns the user config directory that a default
// config.yaml is written to.
func GetDefaultConfigDir() (string, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	return paths[1], nil
}

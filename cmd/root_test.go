package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"absent", []string{"serve", "--port", "8080"}, ""},
		{"separate value", []string{"--config", "/etc/emotion.yaml", "serve"}, "/etc/emotion.yaml"},
		{"equals form", []string{"history", "--config=./dev.yaml"}, "./dev.yaml"},
		{"missing value", []string{"serve", "--config"}, ""},
		{"after terminator", []string{"detect", "--", "--config", "x.yaml"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ConfigPath(tt.args))
		})
	}
}

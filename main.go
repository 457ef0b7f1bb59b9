package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tphakala/emotion-go/cmd"
	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	settings, err := conf.LoadFrom(cmd.ConfigPath(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	err = rootCmd.Execute()

	if settings.Sentry.Enabled {
		errors.FlushSentry(2 * time.Second)
	}
	if err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/emotion-go/cmd/detect"
	"github.com/tphakala/emotion-go/cmd/history"
	"github.com/tphakala/emotion-go/cmd/model"
	"github.com/tphakala/emotion-go/cmd/serve"
	"github.com/tphakala/emotion-go/cmd/upload"
	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "emotion-go",
		Short:        "Emotion detection server and CLI",
		Version:      settings.Version,
		SilenceUsage: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	uploadCmd := upload.Command(settings)
	subcommands := []*cobra.Command{
		serve.Command(settings),
		detect.Command(settings),
		model.Command(settings),
		history.Command(settings),
		history.StatsCommand(settings),
		uploadCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// the upload client only needs console output
		return initialize(settings, cmd.Name() != uploadCmd.Name())
	}

	return rootCmd
}

// initialize sets up logging and error reporting before a subcommand runs.
func initialize(settings *conf.Settings, withTelemetry bool) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if withTelemetry && settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Version, settings.Sentry.Environment); err != nil {
			// error reporting is optional, carry on without it
			central.Module("main").Warn("sentry disabled", logger.Error(err))
		}
	}
	return nil
}

// ConfigPath returns the value of --config in args, or "" to search the
// default locations. The config is loaded before the command tree exists,
// so the flag is read ahead of cobra.
func ConfigPath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--":
			return ""
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	var configFile string
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config.yaml (default: search ./, ~/.config/emotion-go, /etc/emotion-go)")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

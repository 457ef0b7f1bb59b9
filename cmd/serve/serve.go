package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/emotion-go/internal/api"
	"github.com/tphakala/emotion-go/internal/camera"
	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/mqtt"
	"github.com/tphakala/emotion-go/internal/observability"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
	"github.com/tphakala/emotion-go/internal/stream"
)

// Command creates the serve command, which runs the camera stream and the
// web server until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"realtime"},
		Short:   "Start the live camera stream and web server",
		Long:    "Capture frames from the camera, classify faces in real time and serve the web UI and JSON API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port for the web server")
	cmd.Flags().IntVar(&settings.Camera.Device, "camera", viper.GetInt("camera.device"), "Video device index")
	cmd.Flags().StringVar(&settings.Emotion.ModelPath, "model", viper.GetString("emotion.modelpath"), "Path to the emotion .tflite model")
	cmd.Flags().StringVar(&settings.Emotion.CascadePath, "cascade", viper.GetString("emotion.cascadepath"), "Path to the Haar cascade XML")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Run starts all components and blocks until SIGINT or SIGTERM. Components
// stop in reverse dependency order: the HTTP server first, then the stream
// loop, the camera, the detector and the datastore.
func Run(parent context.Context, settings *conf.Settings) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Global().Module("serve")
	defer func() {
		if err := logger.Global().Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
		}
	}()

	log.Info("starting emotion-go",
		logger.String("version", settings.Version),
		logger.String("build_date", settings.BuildDate))

	var m *observability.Metrics
	if settings.Telemetry.Enabled {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	ds, err := openDatastore(settings, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := ds.Close(); err != nil {
			log.Warn("failed to close datastore", logger.Error(err))
		}
	}()

	var detectorOpts []emotion.Option
	if m != nil {
		detectorOpts = append(detectorOpts, emotion.WithMetrics(m.Emotion))
	}
	detector, err := emotion.NewDetector(settings, detectorOpts...)
	if err != nil {
		log.Warn("emotion model unavailable, frames are streamed without classification", logger.Error(err))
	}
	defer detector.Close()

	cam := camera.New(settings.Camera)
	defer func() {
		if err := cam.Close(); err != nil {
			log.Warn("failed to close camera", logger.Error(err))
		}
	}()
	if err := cam.Open(); err != nil {
		// reopened lazily by the stream loop
		log.Warn("camera not available at startup", logger.Error(err))
	}

	state := stream.NewState()
	var httpMetrics *metrics.HTTPMetrics
	if m != nil {
		httpMetrics = m.HTTP
	}
	broadcaster := stream.NewBroadcaster(cam, detector, state, settings, stream.WithStreamMetrics(httpMetrics))
	hub := stream.NewHub(state, httpMetrics)

	ctrlOpts := []api.Option{
		api.WithVideoFeed(broadcaster.Handler()),
		api.WithHub(hub),
	}
	publisher := newPublisher(settings, m, log)
	if publisher != nil {
		ctrlOpts = append(ctrlOpts, api.WithPublisher(publisher))
	}

	server, err := api.NewServer(settings,
		api.WithDataStore(ds),
		api.WithDetector(detector),
		api.WithCamera(cam),
		api.WithState(state),
		api.WithMetrics(m),
		api.WithControllerOptions(ctrlOpts...),
	)
	if err != nil {
		return err
	}

	// background workers outlive the HTTP server so in-flight requests can
	// still read the camera and enqueue events during graceful shutdown
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var workers errgroup.Group
	workers.Go(func() error { return broadcaster.Run(workerCtx) })
	if publisher != nil {
		workers.Go(func() error { return publisher.Run(workerCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	serverErr := g.Wait()
	if serverErr != nil {
		log.Error("web server stopped with error", logger.Error(serverErr))
	}

	log.Info("stopping background workers")
	stopWorkers()
	if err := workers.Wait(); err != nil {
		log.Warn("background worker error", logger.Error(err))
	}

	log.Info("shutdown complete")
	return serverErr
}

// openDatastore creates and opens the configured detection store.
func openDatastore(settings *conf.Settings, m *observability.Metrics) (datastore.Interface, error) {
	var dsMetrics *datastore.Metrics
	if m != nil {
		dsMetrics = m.Datastore
	}
	ds, err := datastore.New(settings, dsMetrics)
	if err != nil {
		return nil, err
	}
	if err := ds.Open(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return ds, nil
}

// newPublisher returns the MQTT publisher, or nil when MQTT is disabled or
// misconfigured.
func newPublisher(settings *conf.Settings, m *observability.Metrics, log logger.Logger) *mqtt.Publisher {
	if !settings.MQTT.Enabled {
		return nil
	}
	var mqttMetrics *metrics.MQTTMetrics
	if m != nil {
		mqttMetrics = m.MQTT
	}
	client, err := mqtt.NewClient(settings, mqttMetrics)
	if err != nil {
		log.Warn("mqtt disabled", logger.Error(err))
		return nil
	}
	return mqtt.NewPublisher(client, settings.MQTT.Topic, settings.Main.Name)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/broadcast"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/config"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/hci"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/metrics"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/notify"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/server"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/source"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "broadcast-audio-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.Server.Address),
		slog.String("audio_listen_address", cfg.Audio.ListenAddress),
		slog.Int("audio_queue_size", cfg.Audio.QueueSize),
		slog.String("broadcast_preset", cfg.Broadcast.Preset),
		slog.String("streaming_phy", cfg.Broadcast.StreamingPhy),
		slog.Bool("webhook_configured", cfg.Notify.WebhookURL != ""),
		slog.String("log_level", cfg.Logging.Level),
	)

	phy, err := parseStreamingPhy(cfg.Broadcast.StreamingPhy)
	if err != nil {
		logger.Error("Invalid streaming PHY", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// The virtual controller stands in for a Bluetooth adapter; every HCI
	// command completes after the configured delay.
	controller := hci.NewVirtualController(logger, cfg.Broadcast.GetCompletionDelay())
	logger.Info("Virtual controller initialized",
		slog.Duration("completion_delay", cfg.Broadcast.GetCompletionDelay()),
	)

	// Initialize UDP audio source
	audioSource := source.NewUDPSource(&cfg.Audio, logger, appMetrics)
	logger.Info("UDP audio source initialized")

	// Initialize webhook notifier (if configured)
	var notifier *notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier, err = notify.NewNotifier(notify.Config{
			URL:        cfg.Notify.WebhookURL,
			Timeout:    cfg.Notify.GetTimeout(),
			MaxRetries: cfg.Notify.MaxRetries,
			QueueSize:  cfg.Notify.QueueSize,
		}, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create webhook notifier", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Webhook notifier initialized")
	}

	// Initialize broadcast manager
	params := broadcast.Params{
		Advertiser:     controller,
		Iso:            controller,
		Source:         audioSource,
		Metrics:        appMetrics,
		StreamingPhy:   phy,
		ConfigOverride: cfg.Broadcast.Preset,
		PaIntervalMin:  cfg.Broadcast.PaIntervalMin,
		PaIntervalMax:  cfg.Broadcast.PaIntervalMax,
	}
	if notifier != nil {
		params.Sink = notifier
	}
	manager, err := broadcast.NewManager(logger, params)
	if err != nil {
		logger.Error("Failed to create broadcast manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Broadcast manager initialized",
		slog.String("preset", cfg.Broadcast.Preset),
	)

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, manager, audioSource, notifier, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", cfg.Server.Address),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Tear down broadcasts; this also stops the audio source.
	manager.Close()

	// Drain and stop the notifier last so teardown events still go out.
	if notifier != nil {
		notifier.Close()
	}

	// Get final statistics
	stats := audioSource.GetStatistics()
	logger.Info("Final audio source statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("frames_delivered", stats.FramesDelivered),
	)

	logger.Info("Service stopped")
}

// parseStreamingPhy maps the configured PHY name onto its HCI value. An
// empty name keeps the manager default.
func parseStreamingPhy(name string) (uint8, error) {
	switch name {
	case "":
		return 0, nil
	case "1m":
		return hci.Phy1M, nil
	case "2m":
		return hci.Phy2M, nil
	case "coded":
		return hci.PhyCoded, nil
	default:
		return 0, fmt.Errorf("unknown streaming PHY %q", name)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

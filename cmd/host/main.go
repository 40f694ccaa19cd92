package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/wasm-bridge/internal/app"
	"github.com/woxQAQ/wasm-bridge/internal/config"
	"github.com/woxQAQ/wasm-bridge/internal/metrics"
	"github.com/woxQAQ/wasm-bridge/internal/uiserver"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	bundleDir := flag.String("bundle", "", "Bundle directory containing manifest.yaml; overrides the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadHostConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *bundleDir != "" {
		cfg.BundleDir = *bundleDir
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Starting wasm-bridge",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		m        *metrics.Metrics
		uiConfig = uiserver.Config{
			Listen:          cfg.UI.Listen,
			RootID:          cfg.UI.RootID,
			AllowOrigins:    cfg.UI.AllowOrigins,
			EventsPerSecond: cfg.UI.EventsPerSecond,
			EventBurst:      cfg.UI.EventBurst,
		}
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		uiConfig.Metrics = m
		uiConfig.Gatherer = reg
	}

	application, err := app.New(ctx, cfg, logger, app.WithMetrics(m))
	if err != nil {
		logger.Fatal("Failed to create application", zap.Error(err))
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	application.Start(ctx)

	server := uiserver.New(application, uiConfig, logger)
	if err := server.Run(ctx); err != nil {
		logger.Error("UI server error", zap.Error(err))
		cancel()
	}

	if err := application.Close(context.Background()); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	logger.Info("Host shutdown complete")
}

// newLogger builds a development logger for debug and a production logger
// at the requested level otherwise.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/heimdex/heimdex-stt/internal/api"
	"github.com/heimdex/heimdex-stt/internal/config"
	"github.com/heimdex/heimdex-stt/internal/discovery"
	"github.com/heimdex/heimdex-stt/internal/history"
	"github.com/heimdex/heimdex-stt/internal/logging"
	"github.com/heimdex/heimdex-stt/internal/metrics"
	"github.com/heimdex/heimdex-stt/internal/model"
	"github.com/heimdex/heimdex-stt/internal/transcription"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting speech-to-text service",
		"service", cfg.ServiceName,
		"version", config.Version,
		"engine", cfg.Engine,
		"model", cfg.ModelName,
		"device", cfg.ModelDevice,
		"compute_type", cfg.ComputeType,
		"max_file_size", humanize.Bytes(uint64(cfg.MaxFileSize)),
	)

	if err := cfg.EnsureUploadDir(); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	var repo history.Repository
	if cfg.HistoryPath != "" {
		database, err := history.New(cfg.HistoryPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer database.Close()
		repo = history.NewRepository(database.Conn())
		logger.Info("request history enabled", "path", logging.SanitizePath(cfg.HistoryPath))
	}

	engine, err := model.NewEngine(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	adapter := model.NewAdapter(engine, model.OptionsFromConfig(cfg), logging.WithComponent(logger, "model"))
	defer adapter.Close()

	// A failed load is not fatal: the service starts degraded and /health
	// reports 503 until restarted.
	loadCtx, loadCancel := context.WithTimeout(context.Background(), cfg.LoadTimeout())
	if err := adapter.Initialize(loadCtx); err != nil {
		logger.Error("model unavailable, serving unhealthy", "error", err)
	}
	loadCancel()
	m.SetModelReady(adapter.IsReady())

	pipeline := transcription.NewPipeline(transcription.Config{
		AllowedFormats:   cfg.AllowedFormats,
		MaxFileSize:      cfg.MaxFileSize,
		UploadDir:        cfg.UploadDir,
		InferenceTimeout: cfg.InferenceTimeout(),
	}, adapter, m, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Host:        cfg.Host,
		Port:        cfg.Port,
		ServiceName: cfg.ServiceName,
		Version:     config.Version,
		ModelName:   cfg.ModelName,
		Model:       adapter,
		Pipeline:    pipeline,
		History:     repo,
		Metrics:     m,
		Gatherer:    reg,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	if cfg.MDNSEnabled {
		stop, err := discovery.Advertise(discovery.Advertisement{
			Instance: discovery.InstanceName(cfg.ServiceName),
			Port:     cfg.Port,
			Model:    cfg.ModelName,
			Version:  config.Version,
		}, logging.WithComponent(logger, "discovery"))
		if err != nil {
			logger.Warn("mdns advertisement failed", "error", err)
		} else {
			defer stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// Handlers can outlive the drain deadline; their staged files must still
	// be removed before the model and ledger close.
	logger.Info("waiting for in-flight transcriptions")
	pipeline.Drain()

	logger.Info("shutdown complete")
	return nil
}

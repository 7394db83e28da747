package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/heimdex/heimdex-stt/internal/history"
	"github.com/heimdex/heimdex-stt/internal/metrics"
	"github.com/heimdex/heimdex-stt/internal/transcription"
)

// HealthChecker reports whether a model is loaded. *model.Adapter implements it.
type HealthChecker interface {
	IsReady() bool
}

// Processor runs one upload through the transcription pipeline.
type Processor interface {
	Process(ctx context.Context, up transcription.Upload) (*transcription.Result, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host        string
	Port        int
	ServiceName string
	Version     string
	ModelName   string
	Model       HealthChecker
	Pipeline    Processor
	History     history.Repository // nil disables /stats and the ledger
	Metrics     *metrics.Metrics   // nil disables request metrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       0, // large uploads
			WriteTimeout:      0, // inference is unbounded unless STT_INFERENCE_TIMEOUT is set
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

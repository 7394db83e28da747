package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heimdex/heimdex-stt/internal/history"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", rootHandler(cfg))
	r.Get("/health", healthHandler(cfg))
	r.Post("/transcribe", transcribeHandler(cfg))
	r.Get("/stats", statsHandler(cfg))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := cfg.Model != nil && cfg.Model.IsReady()
		if cfg.Metrics != nil {
			cfg.Metrics.SetModelReady(ready)
		}
		if !ready {
			WriteError(w, http.StatusServiceUnavailable, "Service unhealthy: model not loaded")
			return
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Model:   cfg.ModelName,
		})
	}
}

func rootHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, RootResponse{
			Service: cfg.ServiceName,
			Version: cfg.Version,
			Endpoints: map[string]string{
				"health":     "/health",
				"transcribe": "/transcribe (POST)",
				"metrics":    "/metrics",
				"stats":      "/stats",
			},
			Model: cfg.ModelName,
		})
	}
}

func statsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteJSON(w, http.StatusOK, StatsResponse{Enabled: false})
			return
		}

		stats, err := cfg.History.Stats(r.Context())
		if err != nil {
			cfg.Logger.Error("failed to read history stats", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to read history")
			return
		}
		recent, err := cfg.History.Recent(r.Context(), history.DefaultRecentLimit)
		if err != nil {
			cfg.Logger.Error("failed to read recent history", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to read history")
			return
		}

		WriteJSON(w, http.StatusOK, StatsResponse{
			Enabled: true,
			Stats:   stats,
			Recent:  recent,
		})
	}
}

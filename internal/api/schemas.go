package api

import "github.com/heimdex/heimdex-stt/internal/history"

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Model   string `json:"model"`
}

type RootResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
	Model     string            `json:"model"`
}

type StatsResponse struct {
	Enabled bool             `json:"enabled"`
	Stats   *history.Stats   `json:"stats,omitempty"`
	Recent  []*history.Entry `json:"recent,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

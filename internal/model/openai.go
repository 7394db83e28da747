package model

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible engine. Any server exposing
// /models/{id} and /audio/transcriptions with verbose_json works
// (faster-whisper-server, LocalAI, speaches, the OpenAI API itself).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string // model id sent to the server
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIEngine loads models hosted behind an OpenAI-compatible API.
type OpenAIEngine struct {
	cfg    OpenAIConfig
	client *openai.Client
}

// NewOpenAIEngine builds the API client. No network traffic happens until Load.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIEngine{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (e *OpenAIEngine) Name() string { return "openai" }

// Load confirms the server knows the configured model id. Device and compute
// type are decided server-side and only logged here.
func (e *OpenAIEngine) Load(ctx context.Context, opts LoadOptions) (Model, error) {
	m, err := e.client.GetModel(ctx, e.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("model %q unavailable at %s: %w", e.cfg.Model, e.cfg.BaseURL, err)
	}

	e.cfg.Logger.Info("remote model available",
		"model_id", m.ID,
		"owned_by", m.OwnedBy,
		"requested_device", opts.Device,
		"requested_compute_type", opts.ComputeType,
	)

	return &openAIModel{client: e.client, modelID: m.ID}, nil
}

type openAIModel struct {
	client  *openai.Client
	modelID string
}

func (m *openAIModel) Transcribe(ctx context.Context, audioPath string) (*RawResult, error) {
	resp, err := m.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    m.modelID,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, err
	}

	result := &RawResult{
		Text:     resp.Text,
		Language: resp.Language,
		Segments: make([]RawSegment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, RawSegment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	return result, nil
}

func (m *openAIModel) Close() error { return nil }

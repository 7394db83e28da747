package model

import (
	"fmt"
	"log/slog"

	"github.com/heimdex/heimdex-stt/internal/config"
)

// NewEngine creates the Engine selected by cfg.Engine.
func NewEngine(cfg *config.Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Engine {
	case config.EngineSubprocess, "":
		return NewSubprocessEngine(SubprocessConfig{
			PythonPath: cfg.Python,
			ModuleName: cfg.EngineModule,
			Logger:     logger,
			DebugPaths: cfg.LogLevel == "debug",
		})
	case config.EngineOpenAI:
		return NewOpenAIEngine(OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModelID(),
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("model: unknown engine %q (supported: subprocess, openai)", cfg.Engine)
	}
}

// OptionsFromConfig maps the configured model selection to LoadOptions.
func OptionsFromConfig(cfg *config.Config) LoadOptions {
	return LoadOptions{
		Name:        cfg.ModelName,
		Device:      cfg.ModelDevice,
		ComputeType: cfg.ComputeType,
	}
}

// Package config provides configuration management for the speech-to-text service.
// Configuration is loaded from environment variables (STT_ prefix) with sensible
// defaults, optionally layered over a YAML file and a local .env file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultServiceName = "speech-to-text-service"
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultModelName   = "base"
	DefaultModelDevice = "cpu"
	DefaultComputeType = "int8"
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	DefaultUploadDir   = "uploads"
	DefaultEngine      = EngineSubprocess
	DefaultModule      = "stt_engine"
	DefaultOpenAIURL   = "http://localhost:9000/v1"
	DefaultHistoryPath = "data/history.db"
	DefaultLoadTimeout = 120 // seconds

	EngineSubprocess = "subprocess"
	EngineOpenAI     = "openai"

	// Environment variable names
	EnvConfigFile       = "STT_CONFIG_FILE"
	EnvServiceName      = "STT_SERVICE_NAME"
	EnvHost             = "STT_HOST"
	EnvPort             = "STT_PORT"
	EnvLogLevel         = "STT_LOG_LEVEL"
	EnvLogFormat        = "STT_LOG_FORMAT"
	EnvModelName        = "STT_MODEL_NAME"
	EnvModelDevice      = "STT_MODEL_DEVICE"
	EnvComputeType      = "STT_COMPUTE_TYPE"
	EnvMaxFileSize      = "STT_MAX_FILE_SIZE"
	EnvAllowedFormats   = "STT_ALLOWED_FORMATS"
	EnvUploadDir        = "STT_UPLOAD_DIR"
	EnvEngine           = "STT_ENGINE"
	EnvPython           = "STT_PYTHON"
	EnvEngineModule     = "STT_ENGINE_MODULE"
	EnvOpenAIBaseURL    = "STT_OPENAI_BASE_URL"
	EnvOpenAIAPIKey     = "STT_OPENAI_API_KEY"
	EnvOpenAIModel      = "STT_OPENAI_MODEL"
	EnvLoadTimeout      = "STT_LOAD_TIMEOUT"
	EnvInferenceTimeout = "STT_INFERENCE_TIMEOUT"
	EnvHistoryPath      = "STT_HISTORY_PATH"
	EnvMDNSEnabled      = "STT_MDNS_ENABLED"
)

// DefaultAllowedFormats is the MIME allow-list used when none is configured.
var DefaultAllowedFormats = []string{
	"audio/wav", "audio/wave", "audio/x-wav",
	"audio/mpeg", "audio/mp3",
	"audio/mp4", "audio/m4a",
	"audio/ogg",
	"audio/flac",
	"audio/webm",
}

var (
	validModels       = []string{"tiny", "base", "small", "medium", "large", "large-v2", "large-v3"}
	validDevices      = []string{"cpu", "cuda", "auto"}
	validComputeTypes = []string{"int8", "float16", "float32"}
	validEngines      = []string{EngineSubprocess, EngineOpenAI}
	validLogLevels    = []string{"debug", "info", "warn", "warning", "error"}
	validLogFormats   = []string{"json", "text"}
)

// Config is the immutable service configuration. Fields are exported so the
// YAML layer can decode into it; callers treat a loaded Config as read-only.
type Config struct {
	ServiceName string `yaml:"service_name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	ModelName   string `yaml:"model_name"`
	ModelDevice string `yaml:"model_device"`
	ComputeType string `yaml:"compute_type"`

	MaxFileSize    int64    `yaml:"max_file_size"`
	AllowedFormats []string `yaml:"allowed_formats"`
	UploadDir      string   `yaml:"upload_dir"`

	Engine        string `yaml:"engine"`
	Python        string `yaml:"python"`
	EngineModule  string `yaml:"engine_module"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIModel   string `yaml:"openai_model"`

	LoadTimeoutSec      int `yaml:"load_timeout"`
	InferenceTimeoutSec int `yaml:"inference_timeout"`

	HistoryPath string `yaml:"history_path"`
	MDNSEnabled bool   `yaml:"mdns_enabled"`
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		ServiceName:    DefaultServiceName,
		Host:           DefaultHost,
		Port:           DefaultPort,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		ModelName:      DefaultModelName,
		ModelDevice:    DefaultModelDevice,
		ComputeType:    DefaultComputeType,
		MaxFileSize:    DefaultMaxFileSize,
		AllowedFormats: append([]string(nil), DefaultAllowedFormats...),
		UploadDir:      DefaultUploadDir,
		Engine:         DefaultEngine,
		EngineModule:   DefaultModule,
		OpenAIBaseURL:  DefaultOpenAIURL,
		LoadTimeoutSec: DefaultLoadTimeout,
		HistoryPath:    DefaultHistoryPath,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// STT_CONFIG_FILE (if any), then environment overrides. The result is validated.
func Load() (*Config, error) {
	LoadDotEnv(".env")

	cfg := Defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ServiceName, EnvServiceName)
	setString(&c.Host, EnvHost)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.LogFormat, EnvLogFormat)
	setString(&c.ModelName, EnvModelName)
	setString(&c.ModelDevice, EnvModelDevice)
	setString(&c.ComputeType, EnvComputeType)
	setString(&c.UploadDir, EnvUploadDir)
	setString(&c.Engine, EnvEngine)
	setString(&c.Python, EnvPython)
	setString(&c.EngineModule, EnvEngineModule)
	setString(&c.OpenAIBaseURL, EnvOpenAIBaseURL)
	setString(&c.OpenAIAPIKey, EnvOpenAIAPIKey)
	setString(&c.OpenAIModel, EnvOpenAIModel)

	// An empty history path is meaningful (ledger disabled), so presence matters here.
	if v, ok := os.LookupEnv(EnvHistoryPath); ok {
		c.HistoryPath = strings.TrimSpace(v)
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = port
	}

	if v := os.Getenv(EnvMaxFileSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxFileSize, err)
		}
		c.MaxFileSize = n
	}

	if v := os.Getenv(EnvAllowedFormats); v != "" {
		formats, err := parseList(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAllowedFormats, err)
		}
		c.AllowedFormats = formats
	}

	if v := os.Getenv(EnvLoadTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvLoadTimeout, err)
		}
		c.LoadTimeoutSec = n
	}

	if v := os.Getenv(EnvInferenceTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvInferenceTimeout, err)
		}
		c.InferenceTimeoutSec = n
	}

	if v := os.Getenv(EnvMDNSEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMDNSEnabled, err)
		}
		c.MDNSEnabled = b
	}

	return nil
}

// Validate checks every field against its allowed range.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("log_level must be one of [%s], got '%s'", strings.Join(validLogLevels, ", "), c.LogLevel)
	}
	if !contains(validLogFormats, c.LogFormat) {
		return fmt.Errorf("log_format must be one of [%s], got '%s'", strings.Join(validLogFormats, ", "), c.LogFormat)
	}
	if !contains(validModels, c.ModelName) {
		return fmt.Errorf("model_name must be one of [%s], got '%s'", strings.Join(validModels, ", "), c.ModelName)
	}
	if !contains(validDevices, c.ModelDevice) {
		return fmt.Errorf("model_device must be one of [%s], got '%s'", strings.Join(validDevices, ", "), c.ModelDevice)
	}
	if !contains(validComputeTypes, c.ComputeType) {
		return fmt.Errorf("compute_type must be one of [%s], got '%s'", strings.Join(validComputeTypes, ", "), c.ComputeType)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if len(c.AllowedFormats) == 0 {
		return fmt.Errorf("allowed_formats cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("upload_dir cannot be empty")
	}
	if !contains(validEngines, c.Engine) {
		return fmt.Errorf("engine must be one of [%s], got '%s'", strings.Join(validEngines, ", "), c.Engine)
	}
	if c.Engine == EngineOpenAI && c.OpenAIBaseURL == "" {
		return fmt.Errorf("openai_base_url cannot be empty when engine is %q", EngineOpenAI)
	}
	if c.LoadTimeoutSec < 1 {
		return fmt.Errorf("load_timeout must be at least 1 second, got %d", c.LoadTimeoutSec)
	}
	if c.InferenceTimeoutSec < 0 {
		return fmt.Errorf("inference_timeout cannot be negative, got %d", c.InferenceTimeoutSec)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadTimeout returns how long model initialisation may take.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutSec) * time.Second
}

// InferenceTimeout bounds a single inference call. Zero means unbounded.
func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSec) * time.Second
}

// OpenAIModelID returns the model identifier sent to an OpenAI-compatible server.
func (c *Config) OpenAIModelID() string {
	if c.OpenAIModel != "" {
		return c.OpenAIModel
	}
	return c.ModelName
}

// EnsureUploadDir creates the staging directory if it does not exist.
func (c *Config) EnsureUploadDir() error {
	if err := os.MkdirAll(c.UploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload dir %s: %w", c.UploadDir, err)
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Version information (set at build time via ldflags)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.sage/config.yaml or ./config.yaml)
//  3. Default values
//
// The numeric knobs of the dispatch pipeline (history window, retrieval topK,
// round budget, retry caps, timeouts) are all configuration, not constants, so
// deployments can tune latency against quota pressure without rebuilding.
//
// Security: API keys are only ever read from the environment and are never
// logged; the config directory is created with 0750 permissions.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrNoModels indicates the model fallback list is empty.
	ErrNoModels = errors.New("no generation models configured")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max output tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max output tokens")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidTopK indicates the retrieval topK is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval topK")

	// ErrInvalidMinScore indicates the retrieval score threshold is out of range.
	ErrInvalidMinScore = errors.New("invalid retrieval min score")

	// ErrInvalidMaxRounds indicates the dispatch round budget is out of range.
	ErrInvalidMaxRounds = errors.New("invalid max rounds")

	// ErrInvalidTimeout indicates a timeout value is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// Default model identifiers. The generation models form the fallback ladder:
// the dispatcher tries them strictly in order when a model is unknown to the
// endpoint or keeps rate-limiting.
var defaultModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-flash-latest",
}

// DefaultEmbedderModel is the default Gemini embedding model.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
type Config struct {
	// Generation configuration
	Models          []string `mapstructure:"models"`            // Fallback ladder, tried in order
	Temperature     float32  `mapstructure:"temperature"`       // 0.0 to 2.0
	MaxOutputTokens int32    `mapstructure:"max_output_tokens"` // Cap on generated tokens

	// Retrieval configuration
	EmbedderModel string  `mapstructure:"embedder_model"`
	ContentDir    string  `mapstructure:"content_dir"` // Source documents for the index
	TopK          int     `mapstructure:"top_k"`       // Retrieved chunks per query
	MinScore      float64 `mapstructure:"min_score"`   // Similarity floor, 0 disables

	// Dispatch configuration
	HistoryWindow int           `mapstructure:"history_window"` // Recent turns included in the prompt
	MaxRounds     int           `mapstructure:"max_rounds"`     // Tool-calling round budget
	RetryDelay    time.Duration `mapstructure:"retry_delay"`    // Rate-limit wait when no hint is given
	RetryCap      time.Duration `mapstructure:"retry_cap"`      // Ceiling on any rate-limit wait
	RequestBudget time.Duration `mapstructure:"request_budget"` // Outer wall-clock budget per message

	// Server configuration
	Addr string `mapstructure:"addr"`

	// API keys. Environment only, never persisted to the config file.
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`
	WeatherAPIKey string `mapstructure:"weather_api_key"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".sage")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("models", defaultModels)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_output_tokens", 1024)

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("content_dir", "content")
	v.SetDefault("top_k", 3)
	v.SetDefault("min_score", 0.1)

	v.SetDefault("history_window", 8)
	v.SetDefault("max_rounds", 2)
	v.SetDefault("retry_delay", 2*time.Second)
	v.SetDefault("retry_cap", 7*time.Second)
	v.SetDefault("request_budget", 30*time.Second)

	v.SetDefault("addr", "127.0.0.1:3000")
}

// bindEnvVariables binds environment variables explicitly.
// The API keys keep their conventional upstream names (GEMINI_API_KEY,
// WEATHER_API_KEY); everything else is prefixed SAGE_.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("weather_api_key", "WEATHER_API_KEY")

	mustBind("addr", "SAGE_ADDR")
	mustBind("content_dir", "SAGE_CONTENT_DIR")
	mustBind("embedder_model", "SAGE_EMBEDDER_MODEL")
	mustBind("request_budget", "SAGE_REQUEST_BUDGET")
}

// Validate checks the configuration for invalid values (fail-fast at startup).
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	if len(c.Models) == 0 {
		return ErrNoModels
	}
	for _, m := range c.Models {
		if m == "" {
			return fmt.Errorf("%w: empty model identifier", ErrNoModels)
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (want 0.0-2.0)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxOutputTokens < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxOutputTokens)
	}
	if c.HistoryWindow < 0 || c.HistoryWindow > 100 {
		return fmt.Errorf("%w: %d (want 0-100)", ErrInvalidHistoryWindow, c.HistoryWindow)
	}
	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: %d (want 1-20)", ErrInvalidTopK, c.TopK)
	}
	if c.MinScore < 0 || c.MinScore >= 1 {
		return fmt.Errorf("%w: %v (want [0,1))", ErrInvalidMinScore, c.MinScore)
	}
	if c.MaxRounds < 1 || c.MaxRounds > 10 {
		return fmt.Errorf("%w: %d (want 1-10)", ErrInvalidMaxRounds, c.MaxRounds)
	}
	for name, d := range map[string]time.Duration{
		"retry_delay":    c.RetryDelay,
		"retry_cap":      c.RetryCap,
		"request_budget": c.RequestBudget,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidTimeout, name, d)
		}
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// OllamaConfig locates the model server.
type OllamaConfig struct {
	BaseURL          string `yaml:"base_url"`
	Binary           string `yaml:"binary"`
	ManageServer     bool   `yaml:"manage_server"`
	StartTimeoutSecs int    `yaml:"start_timeout_secs"`
}

// EmbedderConfig configures the embedding client.
type EmbedderConfig struct {
	Model       string  `yaml:"model"`
	Dimensions  int     `yaml:"dimensions"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit"`
	MaxRetries  int     `yaml:"max_retries"`
}

// CompletionConfig configures the chat model and the list offered to users.
type CompletionConfig struct {
	Model       string   `yaml:"model"`
	Models      []string `yaml:"models"`
	APIKey      string   `yaml:"api_key,omitempty"`
	TimeoutSecs int      `yaml:"timeout_secs"`
}

// ChunkerConfig configures how rows are grouped into chunks.
type ChunkerConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// DatasetConfig configures file parsing.
type DatasetConfig struct {
	Delimiter         string `yaml:"delimiter"`
	NumericSampleSize int    `yaml:"numeric_sample_size"`
}

// RetrievalConfig sets how many chunks feed a prompt.
type RetrievalConfig struct {
	TopK        int `yaml:"top_k"`
	SummaryTopK int `yaml:"summary_top_k"`
}

// CacheConfig configures the embedding cache. An empty path disables it.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Ollama     OllamaConfig     `yaml:"ollama"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Completion CompletionConfig `yaml:"completion"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Environment variables that override file settings.
const (
	EnvOllamaHost = "OLLAMA_HOST"
	EnvChatModel  = "CSVRAG_CHAT_MODEL"
	EnvEmbedModel = "CSVRAG_EMBED_MODEL"
)

// DefaultModels is the chat model list offered when none is configured.
var DefaultModels = []string{"gemma3:1b", "gemma2:2b", "llama3.2", "phi3", "mistral", "qwen2.5"}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/csvrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/csvrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if utf8.RuneCountInString(c.Dataset.Delimiter) != 1 {
		return fmt.Errorf("dataset.delimiter: want exactly one character, got %q", c.Dataset.Delimiter)
	}
	for name, v := range map[string]int{
		"ollama.start_timeout_secs":   c.Ollama.StartTimeoutSecs,
		"embedder.dimensions":         c.Embedder.Dimensions,
		"embedder.timeout_secs":       c.Embedder.TimeoutSecs,
		"embedder.max_retries":        c.Embedder.MaxRetries,
		"completion.timeout_secs":     c.Completion.TimeoutSecs,
		"chunker.batch_size":          c.Chunker.BatchSize,
		"dataset.numeric_sample_size": c.Dataset.NumericSampleSize,
		"retrieval.top_k":             c.Retrieval.TopK,
		"retrieval.summary_top_k":     c.Retrieval.SummaryTopK,
	} {
		if v < 0 {
			return fmt.Errorf("%s: must not be negative, got %d", name, v)
		}
	}
	if c.Embedder.RateLimit < 0 {
		return fmt.Errorf("embedder.rate_limit: must not be negative, got %g", c.Embedder.RateLimit)
	}
	return nil
}

// DelimiterRune returns the configured field delimiter.
func (c *AppConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Dataset.Delimiter)
	if r == utf8.RuneError {
		return ','
	}
	return r
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "csvrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Ollama.Binary == "" {
		cfg.Ollama.Binary = "ollama"
	}
	if cfg.Ollama.StartTimeoutSecs == 0 {
		cfg.Ollama.StartTimeoutSecs = 10
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "nomic-embed-text"
	}
	if cfg.Embedder.Dimensions == 0 {
		cfg.Embedder.Dimensions = 768
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "gemma3:1b"
	}
	if len(cfg.Completion.Models) == 0 {
		cfg.Completion.Models = append([]string(nil), DefaultModels...)
	}
	if cfg.Completion.TimeoutSecs == 0 {
		cfg.Completion.TimeoutSecs = 120
	}
	if cfg.Chunker.BatchSize == 0 {
		cfg.Chunker.BatchSize = 10
	}
	if cfg.Dataset.Delimiter == "" {
		cfg.Dataset.Delimiter = ","
	}
	if cfg.Dataset.NumericSampleSize == 0 {
		cfg.Dataset.NumericSampleSize = 10
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.SummaryTopK == 0 {
		cfg.Retrieval.SummaryTopK = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv(EnvOllamaHost); v != "" {
		cfg.Ollama.BaseURL = normalizeHost(v)
	}
	if v := os.Getenv(EnvChatModel); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv(EnvEmbedModel); v != "" {
		cfg.Embedder.Model = v
	}
}

// normalizeHost accepts OLLAMA_HOST in its bare host:port form.
func normalizeHost(v string) string {
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return v
	}
	return "http://" + v
}

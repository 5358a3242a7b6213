package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the docqa service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Answer     AnswerConfig     `yaml:"answer"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int `yaml:"max_upload_mb"`
}

// StorageConfig holds the vector store location.
type StorageConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// ChunkingConfig holds chunker tunables, in runes. Overlap is a pointer so
// an explicit 0 (no overlap) survives defaulting.
type ChunkingConfig struct {
	Size    int  `yaml:"size"`
	Overlap *int `yaml:"overlap"`
}

// RetrievalConfig holds retrieval tunables. MinScore 0 disables the
// similarity cutoff, so only an absent key takes the default.
type RetrievalConfig struct {
	TopK     int      `yaml:"top_k"`
	MinScore *float64 `yaml:"min_score"` // cosine similarity threshold
}

// AnswerConfig holds prompt assembly and generation-call policy.
// MaxRetries 0 means a single attempt.
type AnswerConfig struct {
	ContextBudget int  `yaml:"context_budget"` // max context runes in the prompt
	MaxRetries    *int `yaml:"max_retries"`
	TimeoutSec    int  `yaml:"timeout_sec"`
}

// EmbeddingConfig holds embedder settings. MaxRetries 0 means a single attempt.
type EmbeddingConfig struct {
	Provider      string `yaml:"provider"` // openai, ollama
	Model         string `yaml:"model"`
	Dimensions    int    `yaml:"dimensions"`
	MaxInputChars int    `yaml:"max_input_chars"` // deterministic truncation cap, runes
	TimeoutSec    int    `yaml:"timeout_sec"`
	MaxRetries    *int   `yaml:"max_retries"`
	Concurrency   int    `yaml:"concurrency"` // parallel chunk embeddings per ingest
	Cache         bool   `yaml:"cache"`
}

// GenerationConfig holds generator settings.
type GenerationConfig struct {
	Provider string `yaml:"provider"` // openai, ollama
	Model    string `yaml:"model"`
}

// ProvidersConfig holds external collaborator endpoints.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`
}

// OpenAIConfig holds OpenAI-compatible API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig holds Ollama host settings.
type OllamaConfig struct {
	Host string `yaml:"host"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: by env)
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR} / ${VAR:-default}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 64
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join("data", "docqa.db")
	}
	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 1000
	}
	if c.Chunking.Overlap == nil {
		c.Chunking.Overlap = ptr(200)
	}
	if *c.Chunking.Overlap >= c.Chunking.Size {
		c.Chunking.Overlap = ptr(c.Chunking.Size / 4)
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.MinScore == nil {
		c.Retrieval.MinScore = ptr(0.25)
	}
	if c.Answer.ContextBudget <= 0 {
		c.Answer.ContextBudget = 6000
	}
	if c.Answer.MaxRetries == nil {
		c.Answer.MaxRetries = ptr(2)
	}
	if c.Answer.TimeoutSec <= 0 {
		c.Answer.TimeoutSec = 60
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.MaxInputChars <= 0 {
		c.Embedding.MaxInputChars = 8000
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.MaxRetries == nil {
		c.Embedding.MaxRetries = ptr(2)
	}
	if c.Embedding.Concurrency <= 0 {
		c.Embedding.Concurrency = 4
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = c.Embedding.Provider
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if *c.Chunking.Overlap < 0 || *c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be in [0, chunking.size), size %d",
			*c.Chunking.Overlap, c.Chunking.Size)
	}
	if *c.Retrieval.MinScore < 0 || *c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be in [0, 1], got %f", *c.Retrieval.MinScore)
	}
	if *c.Answer.MaxRetries < 0 {
		return fmt.Errorf("answer.max_retries must be >= 0, got %d", *c.Answer.MaxRetries)
	}
	if *c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding.max_retries must be >= 0, got %d", *c.Embedding.MaxRetries)
	}
	for _, field := range []struct {
		name, value string
	}{
		{"embedding.provider", c.Embedding.Provider},
		{"generation.provider", c.Generation.Provider},
	} {
		switch field.value {
		case "openai", "ollama":
			// ok
		default:
			return fmt.Errorf("%s must be \"openai\" or \"ollama\", got %q", field.name, field.value)
		}
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("generation.model is required")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func ptr[T any](v T) *T {
	return &v
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

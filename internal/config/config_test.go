package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Config{}
	cfg.HTTP.Port = 8080
	cfg.Embedding.Model = "text-embedding-3-small"
	cfg.Generation.Model = "gpt-4o-mini"
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Chunking.Size != 1000 || *cfg.Chunking.Overlap != 200 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Retrieval.TopK != 5 || *cfg.Retrieval.MinScore != 0.25 {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if *cfg.Answer.MaxRetries != 2 || *cfg.Embedding.MaxRetries != 2 {
		t.Errorf("unexpected retry defaults: answer=%d embedding=%d",
			*cfg.Answer.MaxRetries, *cfg.Embedding.MaxRetries)
	}
	if cfg.Answer.ContextBudget != 6000 {
		t.Errorf("unexpected context budget: %d", cfg.Answer.ContextBudget)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Concurrency != 4 {
		t.Errorf("unexpected embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Generation.Provider != "openai" {
		t.Errorf("generation provider should inherit embedding provider, got %q", cfg.Generation.Provider)
	}
	if cfg.Storage.Path == "" {
		t.Error("storage path default missing")
	}
}

func TestApplyDefaults_KeepsExplicitZeros(t *testing.T) {
	cfg := Config{}
	cfg.HTTP.Port = 8080
	cfg.Embedding.Model = "text-embedding-3-small"
	cfg.Generation.Model = "gpt-4o-mini"
	cfg.Chunking.Overlap = ptr(0)
	cfg.Retrieval.MinScore = ptr(0.0)
	cfg.Answer.MaxRetries = ptr(0)
	cfg.Embedding.MaxRetries = ptr(0)

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	if *cfg.Chunking.Overlap != 0 {
		t.Errorf("explicit zero overlap overwritten: %d", *cfg.Chunking.Overlap)
	}
	if *cfg.Retrieval.MinScore != 0 {
		t.Errorf("explicit zero min_score overwritten: %f", *cfg.Retrieval.MinScore)
	}
	if *cfg.Answer.MaxRetries != 0 || *cfg.Embedding.MaxRetries != 0 {
		t.Errorf("explicit zero retries overwritten: answer=%d embedding=%d",
			*cfg.Answer.MaxRetries, *cfg.Embedding.MaxRetries)
	}
}

func TestLoad_ExplicitZerosFromYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	yaml := `
http:
  port: 8080
chunking:
  overlap: 0
retrieval:
  min_score: 0
answer:
  max_retries: 0
embedding:
  provider: ollama
  model: nomic-embed-text
  max_retries: 0
generation:
  model: llama3.1
`
	if err := os.WriteFile(filepath.Join(dir, "config", "zerotest.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(dir)

	cfg, err := Load("zerotest")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *cfg.Chunking.Overlap != 0 {
		t.Errorf("overlap: 0 should disable overlap, got %d", *cfg.Chunking.Overlap)
	}
	if *cfg.Retrieval.MinScore != 0 {
		t.Errorf("min_score: 0 should disable the cutoff, got %f", *cfg.Retrieval.MinScore)
	}
	if *cfg.Answer.MaxRetries != 0 || *cfg.Embedding.MaxRetries != 0 {
		t.Errorf("max_retries: 0 should mean single attempts: answer=%d embedding=%d",
			*cfg.Answer.MaxRetries, *cfg.Embedding.MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = ptr(c.Chunking.Size) }, "chunking.overlap"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = ptr(-1) }, "chunking.overlap"},
		{"min score too large", func(c *Config) { c.Retrieval.MinScore = ptr(1.5) }, "min_score"},
		{"negative answer retries", func(c *Config) { c.Answer.MaxRetries = ptr(-1) }, "answer.max_retries"},
		{"negative embedding retries", func(c *Config) { c.Embedding.MaxRetries = ptr(-1) }, "embedding.max_retries"},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "bedrock" }, "embedding.provider"},
		{"bad generation provider", func(c *Config) { c.Generation.Provider = "vertex" }, "generation.provider"},
		{"missing embedding model", func(c *Config) { c.Embedding.Model = "" }, "embedding.model"},
		{"missing generation model", func(c *Config) { c.Generation.Model = "" }, "generation.model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	yaml := `
http:
  port: ${TEST_DOCQA_PORT:-9090}
embedding:
  provider: ollama
  model: ${TEST_DOCQA_EMB_MODEL}
generation:
  provider: ollama
  model: llama3.1
`
	if err := os.WriteFile(filepath.Join(dir, "config", "envtest.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Chdir(dir)
	t.Setenv("TEST_DOCQA_EMB_MODEL", "nomic-embed-text")

	cfg, err := Load("envtest")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected default-expanded port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("expected env-expanded model, got %q", cfg.Embedding.Model)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("defaults not applied on load, topK=%d", cfg.Retrieval.TopK)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load("nonexistent-env"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	if got := GetEnv(); got != "local" {
		t.Errorf("expected default local, got %q", got)
	}

	t.Setenv("ENV", "prod")
	if got := GetEnv(); got != "prod" {
		t.Errorf("expected prod, got %q", got)
	}
}

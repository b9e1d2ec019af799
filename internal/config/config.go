package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Health    HealthConfig    `mapstructure:"health"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Log       LogConfig       `mapstructure:"log"`
}

type QdrantConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig fixes the embedding model and its vector dimension.
// MaxInputChars bounds a single input; longer texts are rejected, not
// truncated, so callers must pre-chunk.
type EmbeddingConfig struct {
	Model         string        `mapstructure:"model"`
	Dimension     int           `mapstructure:"dimension"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
	CacheSize     int           `mapstructure:"cache_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RetrievalConfig struct {
	TopK             int `mapstructure:"top_k"`
	MaxContextTokens int `mapstructure:"max_context_tokens"`
}

type IngestConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	EmbedBatch   int           `mapstructure:"embed_batch"`
	StateDir     string        `mapstructure:"state_dir"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

// HealthConfig configures the worker's health and metrics endpoint.
type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

// SecretsConfig selects where credentials are resolved from when they are
// not set directly in the config. See internal/secrets.
type SecretsConfig struct {
	Provider   string `mapstructure:"provider"`
	File       string `mapstructure:"file"`
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	VaultMount string `mapstructure:"vault_mount"`
	VaultPath  string `mapstructure:"vault_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues. Chunking violations are hard
// errors (the chunker cannot run with them); everything else is a warning.
func (c *Config) Validate() ([]string, error) {
	if c.Chunking.Size <= 0 {
		return nil, fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return nil, fmt.Errorf("chunking.overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Embedding.Dimension <= 0 {
		return nil, fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}

	var warnings []string
	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.Retrieval.TopK <= 0 {
		warnings = append(warnings, fmt.Sprintf("retrieval.top_k %d is not positive, queries will return nothing", c.Retrieval.TopK))
	}
	return warnings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "docs")
	v.SetDefault("qdrant.timeout", 15*time.Second)

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.max_input_chars", 8192)
	v.SetDefault("embedding.cache_size", 1000)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 2*time.Minute)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.max_context_tokens", 3000)

	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.initial_delay", 500*time.Millisecond)
	v.SetDefault("ingest.max_delay", 30*time.Second)
	v.SetDefault("ingest.embed_batch", 16)
	v.SetDefault("ingest.state_dir", ".corpus")

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "corpus-ingest")

	v.SetDefault("health.addr", ":8080")

	v.SetDefault("secrets.provider", "env")

	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from an optional file and the environment.
// Every key has a default, so a missing file is not an error when path is "".
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CORPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	return &cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

// environment variables that override the yaml file
const (
	EnvAPIKey         = "OPEN_AI_API_KEY"
	EnvModelName      = "OPEN_AI_MODEL_NAME"
	EnvEmbeddingModel = "EMBEDDING_MODEL_NAME"
	EnvBaseURL        = "OPEN_AI_BASE_URL"
)

type Config struct {
	CompletionLLM LLMConfig      `yaml:"completion_llm"`
	EmbedLLM      LLMConfig      `yaml:"embed_llm"`
	Store         StoreConfig    `yaml:"store"`
	Database      DatabaseConfig `yaml:"database"`
	RAG           RAGConfig      `yaml:"rag"`
	Timeouts      TimeoutConfig  `yaml:"timeouts"`
	Retry         RetryConfig    `yaml:"retry"`
	LogLevel      string         `yaml:"log_level"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	ExportPath    string `yaml:"export_path"`
}

type DatabaseConfig struct {
	DSN        string `yaml:"dsn"`
	Password   string `yaml:"password"`
	Dimensions int    `yaml:"dimensions"`
	Debug      bool   `yaml:"debug"`
}

type RAGConfig struct {
	TopK                int     `yaml:"top_k"`
	MaxDistance         float32 `yaml:"max_distance"`
	MaxItemsPerRequest  int     `yaml:"max_items_per_request"`
	MaxTokensPerRequest int     `yaml:"max_tokens_per_request"`
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	SkipFailedImages    bool    `yaml:"skip_failed_images"`
}

type TimeoutConfig struct {
	Embedding  time.Duration `yaml:"embedding"`
	Completion time.Duration `yaml:"completion"`
	Store      time.Duration `yaml:"store"`
}

type RetryConfig struct {
	MaxRetries      uint64        `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

const defaultMaxRetries = 3

// newConfig seeds the fields where zero is a valid setting, so a yaml
// value of 0 survives and an absent key keeps the default.
func newConfig() *Config {
	return &Config{Retry: RetryConfig{MaxRetries: defaultMaxRetries}}
}

// Default returns a config with every optional field populated
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the yaml file at path, then applies .env and process
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := newConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// .env is optional
	_ = godotenv.Load()

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.CompletionLLM.Key = v
		c.EmbedLLM.Key = v
	}
	if v := os.Getenv(EnvModelName); v != "" {
		c.CompletionLLM.Model = v
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		c.EmbedLLM.Model = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.CompletionLLM.BaseURL = v
		c.EmbedLLM.BaseURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.CompletionLLM.Provider == "" {
		c.CompletionLLM.Provider = ProviderOpenAI
	}
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = ProviderOpenAI
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendChromem
	}
	if c.Store.Path == "" {
		c.Store.Path = models.DefaultDBPath
	}
	if c.Store.Collection == "" {
		c.Store.Collection = models.DefaultCollectionName
	}
	if c.Database.Dimensions == 0 {
		c.Database.Dimensions = 1536
	}

	if c.RAG.TopK <= 0 {
		c.RAG.TopK = models.DefaultTopK
	}
	if c.RAG.MaxDistance <= 0 {
		c.RAG.MaxDistance = models.DefaultMaxDistance
	}
	if c.RAG.MaxItemsPerRequest <= 0 {
		c.RAG.MaxItemsPerRequest = models.MaxItemsPerRequest
	}
	if c.RAG.MaxTokensPerRequest <= 0 {
		c.RAG.MaxTokensPerRequest = models.MaxTokensPerRequest
	}
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 8000
	}
	if c.RAG.ChunkOverlap < 0 {
		c.RAG.ChunkOverlap = 0
	}

	if c.Timeouts.Embedding == 0 {
		c.Timeouts.Embedding = 60 * time.Second
	}
	if c.Timeouts.Completion == 0 {
		c.Timeouts.Completion = 120 * time.Second
	}
	if c.Timeouts.Store == 0 {
		c.Timeouts.Store = 30 * time.Second
	}

	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = 500 * time.Millisecond
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = 10 * time.Second
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the settings required to reach the model providers
func (c *Config) Validate() error {
	var errs []error
	if err := c.CompletionLLM.validate("completion_llm"); err != nil {
		errs = append(errs, err)
	}
	if err := c.EmbedLLM.validate("embed_llm"); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case BackendChromem:
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize))
	}
	return errors.Join(errs...)
}

func (l LLMConfig) validate(section string) error {
	if l.Model == "" {
		return fmt.Errorf("%s.model is required", section)
	}
	switch l.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(l.Key) == "" {
			return fmt.Errorf("%s.key is required for provider %s", section, l.Provider)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%s.provider %q is not supported", section, l.Provider)
	}
	return nil
}

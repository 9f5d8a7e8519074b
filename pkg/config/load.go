package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file.
// An empty path yields the default configuration with environment overrides.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		applyEnvironmentOverrides(cfg)
		if err := validateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	config := Config{
		Store: StoreConfig{AutoMigrate: true},
		Memory: MemoryConfig{
			EnableVectorSearch:      true,
			EnableConceptExtraction: true,
		},
	}

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	if dsn := os.Getenv("DIMMEM_STORE_DSN"); dsn != "" {
		config.Store.Postgres.DSN = dsn
	}

	if path := os.Getenv("DIMMEM_BOLT_PATH"); path != "" {
		config.Store.Bolt.Path = path
	}

	if path := os.Getenv("DIMMEM_SQLITE_PATH"); path != "" {
		config.Store.SQLite.Path = path
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Reasoning.OpenAI.APIKey = apiKey
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Reasoning.Anthropic.APIKey = apiKey
	}

	if level := os.Getenv("DIMMEM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// validateConfig validates the configuration and fills in defaults.
func validateConfig(config *Config) error {
	switch strings.ToLower(config.Store.Type) {
	case "", "mock", "memory":
		config.Store.Type = "mock"
	case "bolt", "boltdb":
		config.Store.Type = "bolt"
		if config.Store.Bolt.Path == "" {
			config.Store.Bolt.Path = "./data/dimmem.bolt.db"
		}
	case "sqlite", "sqlite3":
		config.Store.Type = "sqlite"
		if config.Store.SQLite.Path == "" {
			config.Store.SQLite.Path = "./data/dimmem.db"
		}
	case "postgres", "postgresql":
		config.Store.Type = "postgres"
		if config.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres DSN is required for postgres store type")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", config.Store.Type)
	}

	switch strings.ToLower(config.Reasoning.Provider) {
	case "", "mock":
		config.Reasoning.Provider = "mock"
	case "openai":
		config.Reasoning.Provider = "openai"
		if config.Reasoning.OpenAI.Model == "" {
			config.Reasoning.OpenAI.Model = "gpt-4o-mini"
		}
		if config.Reasoning.OpenAI.EmbeddingModel == "" {
			config.Reasoning.OpenAI.EmbeddingModel = "text-embedding-3-small"
		}
	case "anthropic":
		config.Reasoning.Provider = "anthropic"
		if config.Reasoning.Anthropic.Model == "" {
			config.Reasoning.Anthropic.Model = "claude-3-5-haiku-latest"
		}
	default:
		return fmt.Errorf("unsupported reasoning provider: %s", config.Reasoning.Provider)
	}

	switch strings.ToLower(config.Embedding.Provider) {
	case "", "hash":
		config.Embedding.Provider = "hash"
	case "reasoning", "openai":
		config.Embedding.Provider = "reasoning"
	default:
		return fmt.Errorf("unsupported embedding provider: %s", config.Embedding.Provider)
	}
	if config.Embedding.Dimensions <= 0 {
		config.Embedding.Dimensions = 256
	}
	if config.Embedding.CacheSize < 0 {
		config.Embedding.CacheSize = 0
	}

	switch strings.ToLower(config.Extraction.Provider) {
	case "", "none", "keyword":
		config.Extraction.Provider = "none"
	case "reasoning", "llm":
		config.Extraction.Provider = "reasoning"
	default:
		return fmt.Errorf("unsupported extraction provider: %s", config.Extraction.Provider)
	}

	mem := &config.Memory
	if mem.ContextWindow <= 0 {
		mem.ContextWindow = 4000
	}
	if mem.MemoryPressureThreshold <= 0 {
		mem.MemoryPressureThreshold = 10000
	}
	if mem.CoreBlockLimit <= 0 {
		mem.CoreBlockLimit = 2000
	}
	if mem.MaxCoreBlocksPerUser <= 0 {
		mem.MaxCoreBlocksPerUser = 1
	}
	if mem.SummaryPreviewLength <= 0 {
		mem.SummaryPreviewLength = 100
	}
	if mem.RecentConversationLimit <= 0 {
		mem.RecentConversationLimit = 10
	}
	if mem.ConceptLimit <= 0 {
		mem.ConceptLimit = 10
	}
	if mem.RetrievalTimeout <= 0 {
		mem.RetrievalTimeout = 10 * time.Second
	}
	if mem.CompressionTimeout <= 0 {
		mem.CompressionTimeout = 30 * time.Second
	}
	if mem.AutoCompressAfter < 0 {
		return fmt.Errorf("auto_compress_after must not be negative")
	}
	if mem.AutoCompressEvery <= 0 {
		mem.AutoCompressEvery = 50
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}

	return nil
}

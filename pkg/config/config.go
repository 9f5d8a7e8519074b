package config

import (
	"time"
)

// Config represents the top-level configuration for the dimmem library.
type Config struct {
	// Store configures the durable record store behind every dimension
	Store StoreConfig `yaml:"store"`

	// Embedding configures the embedding provider
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Reasoning configures the reasoning engine (LLM)
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Extraction configures concept extraction from conversations
	Extraction ExtractionConfig `yaml:"extraction"`

	// Memory configures the orchestrator and dimension stores
	Memory MemoryConfig `yaml:"memory"`

	// Scripting configures the Lua scripting engine
	Scripting ScriptingConfig `yaml:"scripting"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the durable record store.
type StoreConfig struct {
	// Type specifies the backend ("mock", "bolt", "sqlite", "postgres")
	Type string `yaml:"type"`

	// Bolt configures BoltDB storage
	Bolt BoltConfig `yaml:"bolt"`

	// SQLite configures SQLite storage
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres configures PostgreSQL storage
	Postgres PostgresConfig `yaml:"postgres"`

	// AutoMigrate applies SQL migrations on startup
	AutoMigrate bool `yaml:"auto_migrate"`
}

// BoltConfig configures BoltDB storage.
type BoltConfig struct {
	// Path is the database file
	Path string `yaml:"path"`
}

// SQLiteConfig configures SQLite storage.
type SQLiteConfig struct {
	// Path is the database file
	Path string `yaml:"path"`
}

// PostgresConfig configures PostgreSQL storage.
type PostgresConfig struct {
	// DSN is the data source name (connection string)
	DSN string `yaml:"dsn"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "hash" (deterministic, offline) or "reasoning" (uses the reasoning engine)
	Provider string `yaml:"provider"`

	// Dimensions is the vector length produced by the hash provider
	Dimensions int `yaml:"dimensions"`

	// CacheSize bounds the number of cached embeddings (0 disables caching)
	CacheSize int64 `yaml:"cache_size"`
}

// ReasoningConfig configures the reasoning engine (LLM).
type ReasoningConfig struct {
	// Provider is the LLM provider ("openai", "anthropic", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures OpenAI integration
	OpenAI OpenAIConfig `yaml:"openai"`

	// Anthropic configures Anthropic integration
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// OpenAIConfig configures OpenAI integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the OpenAI model to use for chat/completion
	Model string `yaml:"model"`

	// EmbeddingModel is the model to use for generating embeddings
	EmbeddingModel string `yaml:"embedding_model"`

	// BaseURL overrides the API endpoint
	BaseURL string `yaml:"base_url"`
}

// AnthropicConfig configures Anthropic integration.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key
	APIKey string `yaml:"api_key"`

	// Model is the Anthropic model to use
	Model string `yaml:"model"`
}

// ExtractionConfig configures concept extraction.
type ExtractionConfig struct {
	// Provider is "none" (keyword heuristic only) or "reasoning"
	Provider string `yaml:"provider"`

	// Domain is passed to the extraction service as a hint
	Domain string `yaml:"domain"`
}

// MemoryConfig configures the orchestrator.
type MemoryConfig struct {
	// ContextWindow bounds rendered context summaries, in characters
	ContextWindow int `yaml:"context_window"`

	// MemoryPressureThreshold is the live record count that triggers a warning
	MemoryPressureThreshold int `yaml:"memory_pressure_threshold"`

	// EnableVectorSearch turns on embedding similarity search for concepts
	EnableVectorSearch bool `yaml:"enable_vector_search"`

	// EnableConceptExtraction turns on background concept extraction
	EnableConceptExtraction bool `yaml:"enable_concept_extraction"`

	// CoreBlockLimit is the default per-block character limit
	CoreBlockLimit int `yaml:"core_block_limit"`

	// MaxCoreBlocksPerUser caps the core memories a single user may own
	MaxCoreBlocksPerUser int `yaml:"max_core_blocks_per_user"`

	// SummaryPreviewLength bounds the stored summary of a recorded conversation
	SummaryPreviewLength int `yaml:"summary_preview_length"`

	// RecentConversationLimit bounds conversations in a structured context
	RecentConversationLimit int `yaml:"recent_conversation_limit"`

	// ConceptLimit bounds concepts in a structured context
	ConceptLimit int `yaml:"concept_limit"`

	// RetrievalTimeout bounds a whole active retrieval
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`

	// CompressionTimeout bounds a whole compression run
	CompressionTimeout time.Duration `yaml:"compression_timeout"`

	// AutoCompressAfter is the age beyond which events are compressed automatically (0 disables)
	AutoCompressAfter time.Duration `yaml:"auto_compress_after"`

	// AutoCompressEvery is the number of client operations between automatic compressions
	AutoCompressEvery int `yaml:"auto_compress_every"`
}

// ScriptingConfig configures the Lua scripting engine.
type ScriptingConfig struct {
	// Paths is a list of directories containing Lua scripts
	Paths []string `yaml:"paths"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is "text" or "json"
	Format string `yaml:"format"`
}

// Default returns a configuration that runs fully offline: in-memory store,
// hash embeddings, mock reasoning and keyword concept extraction.
func Default() *Config {
	cfg := &Config{
		Store:      StoreConfig{Type: "mock", AutoMigrate: true},
		Embedding:  EmbeddingConfig{Provider: "hash"},
		Reasoning:  ReasoningConfig{Provider: "mock"},
		Extraction: ExtractionConfig{Provider: "none"},
		Memory: MemoryConfig{
			EnableVectorSearch:      true,
			EnableConceptExtraction: true,
		},
	}
	_ = validateConfig(cfg)
	return cfg
}

package dimmem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/lexlapax/dimmem/pkg/config"
	"github.com/lexlapax/dimmem/pkg/embedding"
	"github.com/lexlapax/dimmem/pkg/extraction"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/core"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/adapters/boltdb"
	storeMock "github.com/lexlapax/dimmem/pkg/mem/recordstore/adapters/mock"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/adapters/postgres"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/adapters/sqlite"
	"github.com/lexlapax/dimmem/pkg/mmu"
	"github.com/lexlapax/dimmem/pkg/reasoning"
	"github.com/lexlapax/dimmem/pkg/reasoning/adapters/anthropic"
	reasoningMock "github.com/lexlapax/dimmem/pkg/reasoning/adapters/mock"
	reasoningOpenAI "github.com/lexlapax/dimmem/pkg/reasoning/adapters/openai"
	"github.com/lexlapax/dimmem/pkg/scripting"
)

// DefaultScriptPaths are searched when the configuration names no script paths.
var DefaultScriptPaths = []string{"./scripts"}

// NewFromConfig creates a Client from the configuration file at path.
// An empty path uses the defaults with environment overrides.
func NewFromConfig(path string) (*Client, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return Open(context.Background(), cfg)
}

// Open builds every component described by cfg, loads the dimension caches
// from the record store and returns the client. On failure everything
// opened so far is released.
func Open(ctx context.Context, cfg *config.Config) (client *Client, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	backend, closeStore, err := initRecordStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	engine, err := initReasoningEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reasoning engine: %w", err)
	}

	provider, closeProvider, err := initEmbeddingProvider(cfg, engine)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if closeProvider != nil {
		closers = append(closers, closeProvider)
	}

	scriptEngine, err := initScriptEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scripting engine: %w", err)
	}
	closers = append(closers, scriptEngine.Close)

	mem := cfg.Memory
	stores, err := mmu.NewStores(backend, mmu.StoreConfig{
		Core: core.Config{
			BlockLimit: mem.CoreBlockLimit,
			MaxPerUser: mem.MaxCoreBlocksPerUser,
		},
		EnableVectorSearch: mem.EnableVectorSearch,
	}, dimension.WithEmbedder(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dimension stores: %w", err)
	}

	opts := []mmu.Option{
		mmu.WithConfig(mmu.Config{
			ContextWindow:           mem.ContextWindow,
			MemoryPressureThreshold: mem.MemoryPressureThreshold,
			EnableConceptExtraction: mem.EnableConceptExtraction,
			ExtractionDomain:        cfg.Extraction.Domain,
			SummaryPreviewLength:    mem.SummaryPreviewLength,
			RecentConversationLimit: mem.RecentConversationLimit,
			ConceptLimit:            mem.ConceptLimit,
			RetrievalTimeout:        mem.RetrievalTimeout,
			CompressionTimeout:      mem.CompressionTimeout,
		}),
		mmu.WithTopicInferer(mmu.NewLuaTopicInferer(scriptEngine)),
	}
	if cfg.Extraction.Provider == "reasoning" {
		opts = append(opts, mmu.WithExtractor(extraction.NewReasoningExtractor(engine)))
	}
	orchestrator := mmu.New(stores, opts...)

	loaded, err := orchestrator.Load(ctx)
	if err != nil {
		orchestrator.Close()
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}

	client = New(orchestrator, Config{
		AutoCompressAfter: mem.AutoCompressAfter,
		AutoCompressEvery: mem.AutoCompressEvery,
	})
	client.closers = closers

	log.Info("dimmem client initialized from config",
		"store_type", cfg.Store.Type,
		"reasoning_provider", cfg.Reasoning.Provider,
		"embedding_provider", cfg.Embedding.Provider,
		"extraction_provider", cfg.Extraction.Provider,
		"loaded_records", loaded,
	)
	return client, nil
}

// initRecordStore opens the configured backend. The returned close function
// may be nil.
func initRecordStore(ctx context.Context, cfg *config.Config) (recordstore.Store, func() error, error) {
	log.Info("Initializing record store", "type", cfg.Store.Type)

	switch cfg.Store.Type {
	case "mock":
		return storeMock.NewMockStore(), nil, nil

	case "bolt":
		path := cfg.Store.Bolt.Path
		if err := ensureDir(path); err != nil {
			return nil, nil, err
		}
		store, err := boltdb.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using BoltDB record store", "path", path)
		return store, store.Close, nil

	case "sqlite":
		path := cfg.Store.SQLite.Path
		if err := ensureDir(path); err != nil {
			return nil, nil, err
		}
		if cfg.Store.AutoMigrate {
			store, err := sqlite.Open(ctx, path)
			if err != nil {
				return nil, nil, err
			}
			log.Info("Using SQLite record store", "path", path, "migrated", true)
			return store, store.Close, nil
		}

		db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		log.Info("Using SQLite record store", "path", path, "migrated", false)
		return sqlite.NewSQLiteStore(db), db.Close, nil

	case "postgres":
		dsn := cfg.Store.Postgres.DSN
		if cfg.Store.AutoMigrate {
			store, err := postgres.Open(ctx, dsn)
			if err != nil {
				return nil, nil, err
			}
			log.Info("Using PostgreSQL record store", "migrated", true)
			return store, store.Close, nil
		}

		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
		}
		store := postgres.NewPostgresStore(pool)
		log.Info("Using PostgreSQL record store", "migrated", false)
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported record store type: %s", cfg.Store.Type)
	}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return nil
}

// initReasoningEngine initializes the reasoning engine. Providers without an
// API key fall back to the mock engine.
func initReasoningEngine(cfg *config.Config) (reasoning.Engine, error) {
	switch cfg.Reasoning.Provider {
	case "openai":
		rc := cfg.Reasoning.OpenAI
		if rc.APIKey == "" {
			log.Warn("OpenAI API key not found, falling back to mock engine")
			return newMockEngine(), nil
		}
		adapter, err := reasoningOpenAI.NewOpenAIAdapter(reasoningOpenAI.Config{
			APIKey:         rc.APIKey,
			ChatModel:      rc.Model,
			EmbeddingModel: rc.EmbeddingModel,
			BaseURL:        rc.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		log.Info("Using OpenAI reasoning engine", "chat_model", rc.Model, "embedding_model", rc.EmbeddingModel)
		return adapter, nil

	case "anthropic":
		rc := cfg.Reasoning.Anthropic
		if rc.APIKey == "" {
			log.Warn("Anthropic API key not found, falling back to mock engine")
			return newMockEngine(), nil
		}
		adapter, err := anthropic.NewAdapter(anthropic.Config{
			APIKey:     rc.APIKey,
			Model:      rc.Model,
			MaxRetries: 2,
		})
		if err != nil {
			return nil, err
		}
		log.Info("Using Anthropic reasoning engine", "model", rc.Model)
		return adapter, nil

	case "mock":
		log.Info("Using mock reasoning engine")
		return newMockEngine(), nil

	default:
		return nil, fmt.Errorf("unsupported reasoning provider: %s", cfg.Reasoning.Provider)
	}
}

func newMockEngine() *reasoningMock.MockEngine {
	return reasoningMock.NewMockEngine(
		reasoningMock.WithDefaultResponse(`{"concepts": []}`),
	)
}

// initEmbeddingProvider builds the embedding chain: the reasoning engine with
// a hash fallback, or the hash provider alone, optionally behind a cache.
func initEmbeddingProvider(cfg *config.Config, engine reasoning.Engine) (embedding.Provider, func() error, error) {
	dims := cfg.Embedding.Dimensions

	var provider embedding.Provider = embedding.NewHashProvider(dims)
	if cfg.Embedding.Provider == "reasoning" {
		provider = embedding.NewFallback(embedding.NewEngineProvider(engine, dims), provider)
	}

	if cfg.Embedding.CacheSize <= 0 {
		return provider, nil, nil
	}
	cached, err := embedding.NewCached(provider, cfg.Embedding.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	return cached, func() error { cached.Close(); return nil }, nil
}

// initScriptEngine creates the Lua engine and loads every script directory
// that exists. Missing directories are skipped.
func initScriptEngine(cfg *config.Config) (*scripting.LuaEngine, error) {
	paths := cfg.Scripting.Paths
	if len(paths) == 0 {
		paths = DefaultScriptPaths
	}

	engine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Lua engine: %w", err)
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			log.Warn("Failed to get absolute path", "path", path, "error", err)
			continue
		}
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			log.Debug("Scripts directory not found", "path", abs)
			continue
		}
		if err := engine.LoadScriptDir(abs); err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to load scripts from %s: %w", abs, err)
		}
		log.Info("Loaded scripts", "path", abs)
	}
	return engine, nil
}

//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/config"
	"github.com/lexlapax/dimmem/pkg/dimmem"
	"github.com/lexlapax/dimmem/pkg/entity"
)

func init() {
	// Try multiple locations for .env file
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../../.env")
	}
}

func userCtx() context.Context {
	return entity.ContextWithEntity(context.Background(), entity.NewContext("integration-user", "conv-1"))
}

// TestClientWithPostgres runs the client against a migrated PostgreSQL store
// and reopens it to check that every dimension is reloaded.
func TestClientWithPostgres(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=true to run.")
	}

	cfg := config.Default()
	cfg.Store.Type = "postgres"
	cfg.Store.Postgres.DSN = testDBURL()
	cfg.Scripting.Paths = []string{t.TempDir()}
	cfg.Memory.EnableConceptExtraction = false

	client, err := dimmem.Open(context.Background(), cfg)
	require.NoError(t, err)

	marker := "postgres-" + time.Now().Format("150405.000000")
	_, err = client.Process(userCtx(), dimmem.InputTypeRecord, "integration turn "+marker)
	require.NoError(t, err)
	_, err = client.Process(userCtx(), dimmem.InputTypeLearn, marker+": stored in postgres")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	reopened, err := dimmem.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer reopened.Close()

	resp, err := reopened.Process(userCtx(), dimmem.InputTypeRetrieve, marker)
	require.NoError(t, err)
	assert.Contains(t, resp, "integration turn "+marker)
	assert.Contains(t, resp, "stored in postgres")

	resp, err = reopened.Process(userCtx(), dimmem.InputTypeCompress, time.Now().Add(time.Minute).Format(time.RFC3339))
	require.NoError(t, err)
	assert.Contains(t, resp, "Compressed")
}

// TestClientWithOpenAI records a conversation with LLM concept extraction and
// embeddings and checks the concepts are searchable.
func TestClientWithOpenAI(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("Skipping test because OPENAI_API_KEY is not set")
	}

	data := []byte(`
reasoning:
  provider: openai
embedding:
  provider: reasoning
  dimensions: 1536
  cache_size: 1000
extraction:
  provider: reasoning
  domain: software
`)
	cfg, err := config.LoadFromBytes(data)
	require.NoError(t, err)
	cfg.Scripting.Paths = []string{t.TempDir()}

	client, err := dimmem.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Process(userCtx(), dimmem.InputTypeRecord,
		"We moved the billing service from PostgreSQL to CockroachDB to get multi-region writes.")
	require.NoError(t, err)

	orch := client.Orchestrator()
	orch.Wait()
	assert.Greater(t, orch.Stores().Semantic.Count(), 0, "extraction should have created concepts")

	resp, err := client.Process(userCtx(), dimmem.InputTypeContext, "database migration")
	require.NoError(t, err)
	assert.Contains(t, resp, "## Recent conversations")
}

// Package storetest holds the behavioural checks every record store adapter must pass.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Run exercises store against the recordstore.Store contract.
func Run(t *testing.T, store recordstore.Store) {
	t.Helper()
	ctx := context.Background()
	table := recordstore.TableEpisodic

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := recordstore.Record{
		ID:        "rec-1",
		Data:      json.RawMessage(`{"summary":"first"}`),
		Metadata:  map[string]interface{}{"conversation_id": "c1", "turn": 1},
		CreatedAt: now.Add(-time.Minute),
		UpdatedAt: now.Add(-time.Minute),
	}
	second := recordstore.Record{
		ID:        "rec-2",
		Data:      json.RawMessage(`{"summary":"second"}`),
		Metadata:  map[string]interface{}{"conversation_id": "c2"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, table, first))
		require.NoError(t, store.Create(ctx, table, second))

		got, err := store.Get(ctx, table, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.JSONEq(t, string(first.Data), string(got.Data))
		assert.Equal(t, "c1", got.Metadata["conversation_id"])
		assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		err := store.Create(ctx, table, first)
		assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, table, "missing")
		assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	})

	t.Run("tables are isolated", func(t *testing.T) {
		_, err := store.Get(ctx, recordstore.TableSemantic, first.ID)
		assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	})

	t.Run("find newest first with metadata filter", func(t *testing.T) {
		all, err := store.Find(ctx, table, recordstore.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)

		filtered, err := store.Find(ctx, table, recordstore.Filter{
			Metadata: map[string]interface{}{"conversation_id": "c1", "turn": 1},
		})
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, first.ID, filtered[0].ID)

		limited, err := store.Find(ctx, table, recordstore.Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("update", func(t *testing.T) {
		updated := first
		updated.Data = json.RawMessage(`{"summary":"first, revised"}`)
		updated.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, store.Update(ctx, table, updated))

		got, err := store.Get(ctx, table, first.ID)
		require.NoError(t, err)
		assert.JSONEq(t, string(updated.Data), string(got.Data))

		missing := updated
		missing.ID = "missing"
		err = store.Update(ctx, table, missing)
		assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	})

	t.Run("delete", func(t *testing.T) {
		existed, err := store.Delete(ctx, table, first.ID)
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = store.Delete(ctx, table, first.ID)
		require.NoError(t, err)
		assert.False(t, existed)

		_, err = store.Get(ctx, table, first.ID)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/adapters/mock"
)

func TestCoreStore_CreateDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mock.NewMockStore(), Config{})

	m, err := store.Create(ctx, &Memory{UserID: "u1", Persona: Block{Value: "helpful"}})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, DefaultBlockLimit, m.Persona.Limit)
	assert.Equal(t, DefaultBlockLimit, m.Human.Limit)
	assert.Equal(t, events.Core, store.Dimension())

	// A block longer than its limit is rejected up front
	_, err = store.Create(ctx, &Memory{UserID: "u2", Human: Block{Value: "toolong", Limit: 3}})
	assert.True(t, errors.Is(err, errors.ErrLimitExceeded))
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestCoreStore_MaxPerUser(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mock.NewMockStore(), Config{MaxPerUser: 1})

	_, err := store.Create(ctx, &Memory{UserID: "u1"})
	require.NoError(t, err)

	_, err = store.Create(ctx, &Memory{UserID: "u1"})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = store.Create(ctx, &Memory{UserID: "u2"})
	require.NoError(t, err)

	assert.Len(t, store.GetByUser("u1"), 1)
	assert.Len(t, store.GetByUser("nobody"), 0)
}

func TestCoreStore_AppendToBlock(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()
	store := NewStore(backend, Config{BlockLimit: 20})

	m, err := store.Create(ctx, &Memory{UserID: "u1"})
	require.NoError(t, err)

	// No separator on an empty block
	m, err = store.AppendToBlock(ctx, m.ID, BlockHuman, "likes tea")
	require.NoError(t, err)
	assert.Equal(t, "likes tea", m.Human.Value)

	m, err = store.AppendToBlock(ctx, m.ID, BlockHuman, "has a cat")
	require.NoError(t, err)
	assert.Equal(t, "likes tea\nhas a cat", m.Human.Value)
	assert.Equal(t, 19, m.Human.Len())

	// 19 + 1 + 1 > 20: fails and leaves the block untouched
	_, err = store.AppendToBlock(ctx, m.ID, BlockHuman, "x")
	assert.True(t, errors.Is(err, errors.ErrLimitExceeded))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "likes tea\nhas a cat", got.Human.Value)

	// The rejected append never reached the backend
	assert.Equal(t, 2, backend.Calls(recordstore.TableCore, mock.OpUpdate))

	_, err = store.AppendToBlock(ctx, m.ID, "system", "x")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = store.AppendToBlock(ctx, "missing", BlockHuman, "x")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCoreStore_AppendCountsCharacters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mock.NewMockStore(), Config{BlockLimit: 5})

	m, err := store.Create(ctx, &Memory{UserID: "u1"})
	require.NoError(t, err)

	m, err = store.AppendToBlock(ctx, m.ID, BlockPersona, "你好世界")
	require.NoError(t, err)
	assert.Equal(t, 4, m.Persona.Len())

	_, err = store.AppendToBlock(ctx, m.ID, BlockPersona, "好")
	assert.True(t, errors.Is(err, errors.ErrLimitExceeded))
}

func TestCoreStore_ReplaceAndSearch(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mock.NewMockStore(), Config{BlockLimit: 10})

	m, err := store.Create(ctx, &Memory{UserID: "u1", Persona: Block{Value: "calm"}})
	require.NoError(t, err)

	_, err = store.ReplaceBlock(ctx, m.ID, BlockPersona, strings.Repeat("a", 11))
	assert.True(t, errors.Is(err, errors.ErrLimitExceeded))

	m, err = store.ReplaceBlock(ctx, m.ID, BlockPersona, "Cheerful")
	require.NoError(t, err)
	assert.Equal(t, "Cheerful", m.Persona.Value)

	found, err := store.Search(ctx, "cheer", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, m.ID, found[0].ID)

	found, err = store.Search(ctx, "calm", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCoreStore_LoadFromBackend(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()

	first := NewStore(backend, Config{})
	m, err := first.Create(ctx, &Memory{UserID: "u1", Human: Block{Value: "name: Ada"}})
	require.NoError(t, err)

	second := NewStore(backend, Config{})
	n, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := second.GetByUser("u1")
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].ID)
	assert.Equal(t, "name: Ada", got[0].Human.Value)

	// The cap also holds for loaded records
	_, err = second.Create(ctx, &Memory{UserID: "u1"})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

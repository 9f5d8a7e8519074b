package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/storetest"
)

func TestMockStoreContract(t *testing.T) {
	storetest.Run(t, NewMockStore())
}

func TestMockStoreFailureInjection(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	boom := errors.New("boom")

	store.FailOn(recordstore.TableKnowledge, OpCreate, boom)
	err := store.Create(ctx, recordstore.TableKnowledge, recordstore.Record{ID: "k1"})
	assert.ErrorIs(t, err, boom)

	// Other tables are unaffected
	require.NoError(t, store.Create(ctx, recordstore.TableCore, recordstore.Record{ID: "c1"}))

	store.FailOn(recordstore.TableKnowledge, OpCreate, nil)
	require.NoError(t, store.Create(ctx, recordstore.TableKnowledge, recordstore.Record{ID: "k1"}))

	store.FailOn("*", OpDelete, boom)
	_, err = store.Delete(ctx, recordstore.TableCore, "c1")
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2, store.Calls(recordstore.TableKnowledge, OpCreate))
	assert.Equal(t, 1, store.Len(recordstore.TableCore))
}

func TestMockStoreCopiesRecords(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	meta := map[string]interface{}{"k": "v"}
	require.NoError(t, store.Create(ctx, recordstore.TableCore, recordstore.Record{ID: "c1", Metadata: meta}))
	meta["k"] = "mutated"

	got, err := store.Get(ctx, recordstore.TableCore, "c1")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Metadata["k"])
}

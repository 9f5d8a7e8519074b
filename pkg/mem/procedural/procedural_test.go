package procedural

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/adapters/mock"
)

func numbers(steps []*Step) []int {
	out := make([]int, len(steps))
	for i, s := range steps {
		out[i] = s.StepNumber
	}
	return out
}

func descriptions(steps []*Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Description
	}
	return out
}

func TestProceduralStore_StepsSortedByNumber(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mock.NewMockStore())

	for _, n := range []int{3, 1, 10} {
		_, err := store.Create(ctx, &Step{ProcedureName: "deploy", StepNumber: n, Description: "step"})
		require.NoError(t, err)
	}

	steps := store.GetProcedure("deploy")
	assert.Equal(t, []int{1, 3, 10}, numbers(steps), "non-contiguous numbers are fine")

	// Unnumbered steps go after the highest
	next, err := store.Create(ctx, &Step{ProcedureName: "deploy", Description: "last"})
	require.NoError(t, err)
	assert.Equal(t, 11, next.StepNumber)

	_, err = store.Create(ctx, &Step{ProcedureName: "deploy", StepNumber: 3})
	assert.True(t, errors.Is(err, errors.ErrValidation), "numbers are unique per procedure")

	_, err = store.Create(ctx, &Step{ProcedureName: "other", StepNumber: 3})
	require.NoError(t, err)

	_, err = store.Create(ctx, &Step{ProcedureName: "  "})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	assert.Equal(t, []string{"deploy", "other"}, store.ListProcedures())
	assert.Empty(t, store.GetProcedure("missing"))
}

func TestProceduralStore_RenumberAndRename(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mock.NewMockStore())

	a, err := store.Create(ctx, &Step{ProcedureName: "p", Description: "a"})
	require.NoError(t, err)
	b, err := store.Create(ctx, &Step{ProcedureName: "p", Description: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, descriptions(store.GetProcedure("p")))

	_, err = store.Update(ctx, a.ID, func(s *Step) error {
		s.StepNumber = 5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, descriptions(store.GetProcedure("p")))

	_, err = store.Update(ctx, a.ID, func(s *Step) error {
		s.StepNumber = b.StepNumber
		return nil
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = store.Update(ctx, a.ID, func(s *Step) error {
		s.StepNumber = 0
		return nil
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = store.Update(ctx, b.ID, func(s *Step) error {
		s.ProcedureName = "q"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, descriptions(store.GetProcedure("p")))
	assert.Equal(t, []string{"b"}, descriptions(store.GetProcedure("q")))
}

func TestProceduralStore_Delete(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()
	store := NewStore(backend)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := store.Create(ctx, &Step{ProcedureName: "p"})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	_, err := store.Create(ctx, &Step{ProcedureName: "keep"})
	require.NoError(t, err)

	ok, err := store.Delete(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{1, 3}, numbers(store.GetProcedure("p")))

	removed, err := store.DeleteProcedure(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Empty(t, store.GetProcedure("p"))
	assert.Equal(t, []string{"keep"}, store.ListProcedures())
	assert.Equal(t, 1, store.Count())
}

func TestProceduralStore_ConcurrentCreateAndDelete(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 200; round++ {
		store := NewStore(mock.NewMockStore())

		var old []string
		for i := 0; i < 20; i++ {
			s, err := store.Create(ctx, &Step{ProcedureName: "old"})
			require.NoError(t, err)
			old = append(old, s.ID)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, id := range old {
				_, _ = store.Delete(ctx, id)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _ = store.Create(ctx, &Step{ProcedureName: fmt.Sprintf("new%d", i)})
			}
		}()
		wg.Wait()

		for i := 0; i < 20; i++ {
			name := fmt.Sprintf("new%d", i)
			require.Len(t, store.GetProcedure(name), 1, "round %d: %s lost from the index", round, name)
		}
		require.Empty(t, store.GetProcedure("old"))
		require.Len(t, store.ListProcedures(), 20)
	}
}

func TestProceduralStore_Search(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mock.NewMockStore())

	_, err := store.Create(ctx, &Step{ProcedureName: "backup", StepNumber: 2, Description: "copy files", Actions: []string{"rsync the database dump"}})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Step{ProcedureName: "backup", StepNumber: 1, Description: "stop the database"})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Step{ProcedureName: "deploy", StepNumber: 1, Description: "push image"})
	require.NoError(t, err)

	found, err := store.Search(ctx, "Database", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"stop the database", "copy files"}, descriptions(found))

	found, err = store.Search(ctx, "backup", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"stop the database"}, descriptions(found))

	found, err = store.Search(ctx, "nope", 5)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestProceduralStore_LoadRegroups(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()

	first := NewStore(backend)
	for _, n := range []int{2, 1} {
		_, err := first.Create(ctx, &Step{ProcedureName: "p", StepNumber: n})
		require.NoError(t, err)
	}

	second := NewStore(backend)
	_, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, numbers(second.GetProcedure("p")))
}

package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	ctx := context.Background()
	idx, err := New("concepts")
	require.NoError(t, err)

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "empty index")

	ok, err := idx.Upsert(ctx, "x", "x axis", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = idx.Upsert(ctx, "y", "y axis", []float32{0, 1, 0})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, "xy", "", []float32{1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())

	t.Run("best first and clamped to size", func(t *testing.T) {
		matches, err := idx.Query(ctx, []float32{0.9, 0.1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "x", matches[0].ID)
		assert.Equal(t, "xy", matches[1].ID)
		assert.Greater(t, matches[0].Similarity, matches[2].Similarity)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		_, err := idx.Upsert(ctx, "y", "y moved", []float32{1, 0, 0.01})
		require.NoError(t, err)
		assert.Equal(t, 3, idx.Count())

		matches, err := idx.Query(ctx, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		ids := []string{matches[0].ID, matches[1].ID}
		assert.ElementsMatch(t, []string{"x", "y"}, ids)
	})

	t.Run("rejected vectors", func(t *testing.T) {
		ok, err := idx.Upsert(ctx, "zero", "", []float32{0, 0, 0})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = idx.Upsert(ctx, "short", "", []float32{1, 2})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 3, idx.Count())

		// Re-upserting a zero vector removes the old one
		ok, err = idx.Upsert(ctx, "xy", "", nil)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 2, idx.Count())

		matches, err := idx.Query(ctx, []float32{1, 2}, 2)
		require.NoError(t, err)
		assert.Empty(t, matches, "mismatched query length")
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, idx.Remove(ctx, "x"))
		require.NoError(t, idx.Remove(ctx, "never-indexed"))
		assert.Equal(t, 1, idx.Count())

		matches, err := idx.Query(ctx, []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "y", matches[0].ID)
	})
}

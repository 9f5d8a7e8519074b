package embedding

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/errors"
	reasoningmock "github.com/lexlapax/dimmem/pkg/reasoning/adapters/mock"
)

// mockProvider is a testify mock of Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

func (m *mockProvider) Dimensions() int {
	return m.Called().Int(0)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}), "length mismatch")
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}), "zero vector")
	assert.Zero(t, Cosine(nil, nil))
}

func TestHashProvider(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(64)
	assert.Equal(t, 64, p.Dimensions())
	assert.Equal(t, DefaultDimensions, NewHashProvider(0).Dimensions())

	t.Run("deterministic", func(t *testing.T) {
		a, err := p.Embed(ctx, "Go channels and goroutines")
		require.NoError(t, err)
		b, err := p.Embed(ctx, "go CHANNELS and goroutines!")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
	})

	t.Run("shared words are closer", func(t *testing.T) {
		base, _ := p.Embed(ctx, "summer photo album")
		near, _ := p.Embed(ctx, "summer photo")
		far, _ := p.Embed(ctx, "quarterly tax report")
		assert.Greater(t, Cosine(base, near), Cosine(base, far))
	})

	t.Run("empty and long text", func(t *testing.T) {
		empty, err := p.Embed(ctx, "")
		require.NoError(t, err)
		assert.Len(t, empty, 64)
		assert.Zero(t, Cosine(empty, empty))

		long, err := p.Embed(ctx, strings.Repeat("memory ", 100000))
		require.NoError(t, err)
		assert.Len(t, long, 64)
	})

	t.Run("han characters tokenize individually", func(t *testing.T) {
		assert.Equal(t, []string{"记", "忆", "abc"}, tokenize("记忆 abc"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Embed(cctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEngineProvider(t *testing.T) {
	ctx := context.Background()
	engine := reasoningmock.NewMockEngine(reasoningmock.WithDefaultEmbedding([]float32{0.1, 0.2, 0.3}))
	p := NewEngineProvider(engine, 3)

	vec, err := p.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	vec, err = p.Embed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, vec)
	assert.Equal(t, 1, engine.CallCount("GenerateEmbeddings"), "empty text is answered locally")

	engine.SetShouldError(true)
	_, err = p.Embed(ctx, "hello")
	assert.True(t, errors.Is(err, errors.ErrProvider))
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	inner := new(mockProvider)
	inner.On("Embed", mock.Anything, "hello").Return([]float32{1, 2}, nil).Once()
	inner.On("Dimensions").Return(2)

	c, err := NewCached(inner, 100)
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	c.Wait()

	second, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, c.Dimensions())

	// Mutating a returned vector must not poison the cache
	second[0] = 99
	third, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(1), third[0])

	inner.AssertNumberOfCalls(t, "Embed", 1)

	_, err = NewCached(inner, 0)
	assert.Error(t, err)
}

func TestFallback(t *testing.T) {
	ctx := context.Background()

	primary := new(mockProvider)
	primary.On("Embed", mock.Anything, "ok").Return([]float32{1, 0}, nil)
	primary.On("Embed", mock.Anything, "broken").Return(nil, errors.ErrProvider)
	primary.On("Dimensions").Return(0)

	secondary := NewHashProvider(8)
	f := NewFallback(primary, secondary)

	vec, err := f.Embed(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)

	vec, err = f.Embed(ctx, "broken")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	assert.Equal(t, 8, f.Dimensions())
	primary.AssertExpectations(t)
}

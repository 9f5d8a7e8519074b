package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/reasoning"
)

func TestMockEngine_Process(t *testing.T) {
	tests := []struct {
		name           string
		mockSetup      func(*MockEngine)
		prompt         string
		opts           []reasoning.Option
		expectedResult string
		expectError    bool
	}{
		{
			name: "exact match canned response",
			mockSetup: func(m *MockEngine) {
				m.AddResponse("hello", "Hello, world!")
				m.SetExactMatch(true)
			},
			prompt:         "hello",
			expectedResult: "Hello, world!",
		},
		{
			name: "substring match canned response",
			mockSetup: func(m *MockEngine) {
				m.AddResponse("hello", "Hello, world!")
			},
			prompt:         "Say hello to everyone",
			expectedResult: "Hello, world!",
		},
		{
			name: "first added wins when several keys match",
			mockSetup: func(m *MockEngine) {
				m.AddResponse("say", "first")
				m.AddResponse("hello", "second")
			},
			prompt:         "say hello",
			expectedResult: "first",
		},
		{
			name: "default response when no match",
			mockSetup: func(m *MockEngine) {
				m.SetDefaultResponse("I don't know how to respond to that.")
			},
			prompt:         "unknown prompt",
			expectedResult: "I don't know how to respond to that.",
		},
		{
			name: "process with error",
			mockSetup: func(m *MockEngine) {
				m.SetShouldError(true)
			},
			prompt:      "anything",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewMockEngine()
			if tt.mockSetup != nil {
				tt.mockSetup(engine)
			}

			result, err := engine.Process(context.Background(), tt.prompt, tt.opts...)

			if tt.expectError {
				assert.True(t, errors.Is(err, errors.ErrProvider))
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedResult, result)
			}

			require.Len(t, engine.GetCallHistory(), 1)
			call := engine.GetCallHistory()[0]
			assert.Equal(t, "Process", call.Method)
			assert.Equal(t, tt.prompt, call.Args[1]) // Args[0] is context
		})
	}
}

func TestMockEngine_ProcessKeepsEntityContext(t *testing.T) {
	engine := NewMockEngine()
	ctx := entity.ContextWithEntity(context.Background(), entity.NewContext("alice", "conv-1"))

	_, err := engine.Process(ctx, "hello")
	require.NoError(t, err)

	calls := engine.GetCallHistory()
	require.Len(t, calls, 1)

	callCtx, ok := calls[0].Args[0].(context.Context)
	require.True(t, ok, "first argument should be context")

	got, ok := entity.GetEntityContext(callCtx)
	require.True(t, ok)
	assert.Equal(t, entity.UserID("alice"), got.UserID)
	assert.Equal(t, "conv-1", got.ConversationID)
}

func TestMockEngine_GenerateEmbeddings(t *testing.T) {
	engine := NewMockEngine(WithDefaultEmbedding([]float32{0.7, 0.8, 0.9}))
	engine.AddEmbedding("text1", []float32{0.1, 0.2, 0.3})
	engine.AddEmbedding("text2", []float32{0.4, 0.5, 0.6})

	results, err := engine.GenerateEmbeddings(context.Background(), []string{"text1", "a text2 b", "text3"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
		{0.7, 0.8, 0.9},
	}, results)

	// Returned slices are copies
	results[2][0] = 42
	again, err := engine.GenerateEmbeddings(context.Background(), []string{"text3"})
	require.NoError(t, err)
	assert.Equal(t, float32(0.7), again[0][0])

	assert.Equal(t, 2, engine.CallCount("GenerateEmbeddings"))
}

func TestMockEngine_Options(t *testing.T) {
	engine := NewMockEngine(
		WithDefaultResponse("Default response"),
		WithExactMatch(true),
	)
	engine.AddResponse("hello", "Hello, world!")

	ctx := context.Background()
	result, err := engine.Process(ctx, "Say hello")
	assert.NoError(t, err)
	assert.Equal(t, "Default response", result)

	engine.SetExactMatch(false)
	result, err = engine.Process(ctx, "Say hello")
	assert.NoError(t, err)
	assert.Equal(t, "Hello, world!", result)
}

func TestMockEngine_LatencyHonoursContext(t *testing.T) {
	engine := NewMockEngine(WithLatency(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := engine.Process(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockEngine_ClearHistory(t *testing.T) {
	engine := NewMockEngine()

	ctx := context.Background()
	_, _ = engine.Process(ctx, "prompt1")
	_, _ = engine.Process(ctx, "prompt2")
	_, _ = engine.GenerateEmbeddings(ctx, []string{"text1", "text2"})
	assert.Len(t, engine.GetCallHistory(), 3)

	engine.ClearHistory()
	assert.Len(t, engine.GetCallHistory(), 0)
}

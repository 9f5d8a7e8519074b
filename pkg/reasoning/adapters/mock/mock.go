// Package mock provides a scriptable reasoning.Engine for tests and offline runs.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/reasoning"
)

// Call represents a recorded method call on the mock engine.
type Call struct {
	// Method is the name of the method that was called.
	Method string

	// Args contains the arguments passed to the method.
	Args []interface{}
}

type canned[T any] struct {
	key   string
	value T
}

// MockEngine implements the reasoning.Engine interface with canned responses.
// Canned entries are matched in insertion order.
type MockEngine struct {
	mutex sync.RWMutex

	responses        []canned[string]
	defaultResponse  string
	embeddings       []canned[[]float32]
	defaultEmbedding []float32

	// exactMatch determines if matching is exact or uses Contains
	exactMatch bool

	// err, when set, is returned by every call
	err error

	// latency delays every call, honouring context cancellation
	latency time.Duration

	callHistory []Call
}

// MockOption is a function that configures a MockEngine.
type MockOption func(*MockEngine)

// WithDefaultResponse sets the default response for the mock engine.
func WithDefaultResponse(resp string) MockOption {
	return func(m *MockEngine) {
		m.defaultResponse = resp
	}
}

// WithDefaultEmbedding sets the default embedding for the mock engine.
func WithDefaultEmbedding(embedding []float32) MockOption {
	return func(m *MockEngine) {
		m.defaultEmbedding = embedding
	}
}

// WithExactMatch configures whether the mock engine uses exact matching.
func WithExactMatch(exact bool) MockOption {
	return func(m *MockEngine) {
		m.exactMatch = exact
	}
}

// WithError makes every call fail with err.
func WithError(err error) MockOption {
	return func(m *MockEngine) {
		m.err = err
	}
}

// WithLatency delays every call by d.
func WithLatency(d time.Duration) MockOption {
	return func(m *MockEngine) {
		m.latency = d
	}
}

// NewMockEngine creates a new MockEngine with the given options.
func NewMockEngine(opts ...MockOption) *MockEngine {
	m := &MockEngine{
		defaultResponse:  "This is a mock response",
		defaultEmbedding: []float32{0.0, 0.0, 0.0},
	}

	for _, opt := range opts {
		opt(m)
	}

	log.Debug("Created mock reasoning engine", "exact_match", m.exactMatch)
	return m
}

// Process implements the reasoning.Engine interface.
func (m *MockEngine) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	m.record("Process", ctx, prompt, opts)

	if err := m.wait(ctx); err != nil {
		return "", err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.err != nil {
		return "", m.err
	}

	options := reasoning.Apply(opts...)
	log.DebugContext(ctx, "Processing prompt with mock engine",
		"prompt_length", len(prompt),
		"max_tokens", options.MaxTokens,
	)

	if response, ok := lookup(m.responses, prompt, m.exactMatch); ok {
		return response, nil
	}
	return m.defaultResponse, nil
}

// GenerateEmbeddings implements the reasoning.Engine interface.
func (m *MockEngine) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.record("GenerateEmbeddings", ctx, texts)

	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.err != nil {
		return nil, m.err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, ok := lookup(m.embeddings, text, m.exactMatch)
		if !ok {
			embedding = m.defaultEmbedding
		}
		embeddings[i] = append([]float32(nil), embedding...)
	}

	return embeddings, nil
}

// AddResponse adds a canned response for prompts matching key.
func (m *MockEngine) AddResponse(key, response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.responses = append(m.responses, canned[string]{key: key, value: response})
}

// SetDefaultResponse sets the default response.
func (m *MockEngine) SetDefaultResponse(response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.defaultResponse = response
}

// AddEmbedding adds a canned embedding for texts matching key.
func (m *MockEngine) AddEmbedding(key string, embedding []float32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.embeddings = append(m.embeddings, canned[[]float32]{key: key, value: embedding})
}

// SetDefaultEmbedding sets the default embedding.
func (m *MockEngine) SetDefaultEmbedding(embedding []float32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.defaultEmbedding = embedding
}

// SetExactMatch configures whether the engine uses exact matching.
func (m *MockEngine) SetExactMatch(exact bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.exactMatch = exact
}

// SetShouldError makes every subsequent call fail (or succeed again).
func (m *MockEngine) SetShouldError(shouldErr bool) {
	if shouldErr {
		m.SetError(fmt.Errorf("mock reasoning engine error: %w", errors.ErrProvider))
		return
	}
	m.SetError(nil)
}

// SetError makes every subsequent call fail with err; nil clears it.
func (m *MockEngine) SetError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.err = err
}

// GetCallHistory returns a copy of the call history.
func (m *MockEngine) GetCallHistory() []Call {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	history := make([]Call, len(m.callHistory))
	copy(history, m.callHistory)
	return history
}

// CallCount returns how many times method was called.
func (m *MockEngine) CallCount(method string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n := 0
	for _, c := range m.callHistory {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ClearHistory clears the call history.
func (m *MockEngine) ClearHistory() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callHistory = nil
}

func (m *MockEngine) record(method string, args ...interface{}) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callHistory = append(m.callHistory, Call{Method: method, Args: args})
}

func (m *MockEngine) wait(ctx context.Context) error {
	m.mutex.RLock()
	latency := m.latency
	m.mutex.RUnlock()

	if latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func lookup[T any](entries []canned[T], input string, exact bool) (T, bool) {
	for _, e := range entries {
		if (exact && e.key == input) || (!exact && strings.Contains(input, e.key)) {
			return e.value, true
		}
	}
	var zero T
	return zero, false
}

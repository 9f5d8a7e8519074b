package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/reasoning"
	"github.com/lexlapax/dimmem/pkg/reasoning/adapters/openai"
)

// mockOpenAIServer creates a mock OpenAI server that records the last request body.
func mockOpenAIServer(t *testing.T, statusCode int, responseBody string, lastBody *[]byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lastBody != nil {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			*lastBody = body
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, err := w.Write([]byte(responseBody))
		require.NoError(t, err)
	}))
}

func TestGenerateEmbeddings_Success(t *testing.T) {
	// Returned out of order to check index placement
	mockResponse := `{
		"object": "list",
		"data": [
			{"object": "embedding", "embedding": [0.6, 0.7, 0.8], "index": 1},
			{"object": "embedding", "embedding": [0.1, 0.2, 0.3], "index": 0}
		],
		"model": "text-embedding-3-small",
		"usage": {"prompt_tokens": 10, "total_tokens": 10}
	}`

	server := mockOpenAIServer(t, http.StatusOK, mockResponse, nil)
	defer server.Close()

	adapter, err := openai.NewOpenAIAdapter(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	embeddings, err := adapter.GenerateEmbeddings(context.Background(), []string{"Hello world", "Testing embeddings"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embeddings[0])
	assert.Equal(t, []float32{0.6, 0.7, 0.8}, embeddings[1])
}

func TestGenerateEmbeddings_EmptyInput(t *testing.T) {
	adapter, err := openai.NewOpenAIAdapter(openai.Config{APIKey: "test-key"})
	require.NoError(t, err)

	embeddings, err := adapter.GenerateEmbeddings(context.Background(), []string{})
	assert.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestGenerateEmbeddings_APIError(t *testing.T) {
	errorResponse := `{
		"error": {
			"message": "The API key is invalid",
			"type": "invalid_request_error",
			"param": null,
			"code": "invalid_api_key"
		}
	}`

	server := mockOpenAIServer(t, http.StatusUnauthorized, errorResponse, nil)
	defer server.Close()

	adapter, err := openai.NewOpenAIAdapter(openai.Config{APIKey: "invalid-key", BaseURL: server.URL})
	require.NoError(t, err)

	embeddings, err := adapter.GenerateEmbeddings(context.Background(), []string{"Hello world"})
	assert.Error(t, err)
	assert.Nil(t, embeddings)
	assert.True(t, errors.Is(err, errors.ErrProvider))
	assert.Contains(t, err.Error(), "invalid")
}

func TestProcess_Success(t *testing.T) {
	mockResponse := `{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"created": 1677858242,
		"model": "gpt-4o-mini",
		"choices": [
			{
				"message": {"role": "assistant", "content": "  {\"concepts\": []}\n"},
				"finish_reason": "stop",
				"index": 0
			}
		],
		"usage": {"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20}
	}`

	var body []byte
	server := mockOpenAIServer(t, http.StatusOK, mockResponse, &body)
	defer server.Close()

	adapter, err := openai.NewOpenAIAdapter(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	response, err := adapter.Process(context.Background(), "Extract concepts",
		reasoning.WithSystem("You extract concepts."), reasoning.WithModel("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, `{"concepts": []}`, response)

	var request struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &request))
	assert.Equal(t, "gpt-4o", request.Model)
	require.Len(t, request.Messages, 2)
	assert.Equal(t, "system", request.Messages[0].Role)
	assert.Equal(t, "user", request.Messages[1].Role)
	assert.Equal(t, "Extract concepts", request.Messages[1].Content)
}

func TestProcess_APIError(t *testing.T) {
	errorResponse := `{
		"error": {
			"message": "Rate limit exceeded",
			"type": "rate_limit_error",
			"param": null,
			"code": "rate_limit_exceeded"
		}
	}`

	server := mockOpenAIServer(t, http.StatusTooManyRequests, errorResponse, nil)
	defer server.Close()

	adapter, err := openai.NewOpenAIAdapter(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	response, err := adapter.Process(context.Background(), "Hello, how are you?")
	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "Rate limit")
}

func TestInitialization(t *testing.T) {
	adapter, err := openai.NewOpenAIAdapter(openai.Config{APIKey: "test-key"})
	assert.NoError(t, err)
	assert.NotNil(t, adapter)

	adapter, err = openai.NewOpenAIAdapter(openai.Config{})
	assert.ErrorIs(t, err, openai.ErrEmptyAPIKey)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Nil(t, adapter)
}

var _ reasoning.Engine = (*openai.OpenAIAdapter)(nil)

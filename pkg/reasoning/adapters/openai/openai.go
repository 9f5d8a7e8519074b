package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/reasoning"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.Wrap(errors.ErrValidation, "OpenAI API key cannot be empty")
)

// Default models
const (
	DefaultChatModel      = openai.GPT4oMini
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
)

// Config holds the configuration for the OpenAI adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// EmbeddingModel is the model to use for embeddings, e.g., "text-embedding-3-small".
	EmbeddingModel string
	// ChatModel is the model to use for chat completions.
	ChatModel string
	// BaseURL is the base URL for the OpenAI API (for testing or compatible gateways).
	BaseURL string
}

// OpenAIAdapter implements the reasoning.Engine interface using the OpenAI API.
type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel string
	chatModel      string
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(config Config) (*OpenAIAdapter, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultEmbeddingModel
	}
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIAdapter{
		client:         openai.NewClientWithConfig(clientConfig),
		embeddingModel: config.EmbeddingModel,
		chatModel:      config.ChatModel,
	}, nil
}

// GenerateEmbeddings generates embeddings for the given texts using the OpenAI API.
// Results are returned in input order.
func (a *OpenAIAdapter) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", a.embeddingModel)

	response, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(a.embeddingModel),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to generate embeddings", "error", err)
		return nil, errors.Mark(fmt.Errorf("openai embeddings: %w", err), errors.ErrProvider)
	}

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts: %w",
			len(response.Data), len(texts), errors.ErrProvider)
	}

	embeddings := make([][]float32, len(texts))
	for i, data := range response.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) {
			idx = i
		}
		embeddings[idx] = data.Embedding
	}

	return embeddings, nil
}

// ProcessMessages generates a response to the given role/content messages.
func (a *OpenAIAdapter) ProcessMessages(ctx context.Context, messages []openai.ChatCompletionMessage, opts ...reasoning.Option) (string, error) {
	options := reasoning.Apply(opts...)

	model := a.chatModel
	if options.Model != "" {
		model = options.Model
	}

	if options.System != "" {
		messages = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		}}, messages...)
	}

	log.DebugContext(ctx, "Processing chat request", "model", model, "messages", len(messages))

	response, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to generate chat completion", "error", err)
		return "", errors.Mark(fmt.Errorf("openai chat completion: %w", err), errors.ErrProvider)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices: %w", errors.ErrProvider)
	}

	log.DebugContext(ctx, "Generated chat completion", "tokens", response.Usage.TotalTokens, "model", model)

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Process implements the reasoning.Engine interface with a single user message.
func (a *OpenAIAdapter) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	return a.ProcessMessages(ctx, []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	}}, opts...)
}

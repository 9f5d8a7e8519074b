// Package anthropic adapts the Anthropic Messages API to reasoning.Engine.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/reasoning"
)

// ErrEmptyAPIKey is returned when the API key is missing.
var ErrEmptyAPIKey = errors.Wrap(errors.ErrValidation, "Anthropic API key cannot be empty")

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-3-5-haiku-latest"

// Config holds the configuration for the Anthropic adapter.
type Config struct {
	// APIKey is the Anthropic API key.
	APIKey string
	// Model is the model used for message completions.
	Model string
	// BaseURL overrides the API endpoint (for testing).
	BaseURL string
	// MaxRetries overrides the client's retry count when non-negative.
	MaxRetries int
}

// Adapter implements reasoning.Engine using the Anthropic Messages API.
// Anthropic has no embeddings endpoint, so GenerateEmbeddings reports ErrUnsupported.
type Adapter struct {
	client anthropic.Client
	model  string
}

// NewAdapter creates a new Anthropic adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}

	return &Adapter{
		client: anthropic.NewClient(opts...),
		model:  config.Model,
	}, nil
}

// Process sends prompt as a single user message and returns the concatenated text blocks.
func (a *Adapter) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	options := reasoning.Apply(opts...)

	model := a.model
	if options.Model != "" {
		model = options.Model
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(options.MaxTokens),
		Temperature: anthropic.Float(options.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if options.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.System}}
	}

	log.DebugContext(ctx, "Processing message request", "model", model)

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create message", "error", err)
		return "", errors.Mark(fmt.Errorf("anthropic messages: %w", err), errors.ErrProvider)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	log.DebugContext(ctx, "Generated message",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return strings.TrimSpace(text.String()), nil
}

// GenerateEmbeddings is not offered by Anthropic.
func (a *Adapter) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic embeddings: %w", errors.ErrUnsupported)
}

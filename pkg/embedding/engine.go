package embedding

import (
	"context"
	"fmt"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/reasoning"
)

// EngineProvider embeds text through a reasoning engine's embedding endpoint.
type EngineProvider struct {
	engine reasoning.Engine
	dims   int
}

// NewEngineProvider wraps engine. dims may be 0 when the model's size is not known.
func NewEngineProvider(engine reasoning.Engine, dims int) *EngineProvider {
	return &EngineProvider{engine: engine, dims: dims}
}

// Dimensions implements Provider.
func (p *EngineProvider) Dimensions() int {
	return p.dims
}

// Embed implements Provider. Empty text is answered locally with a zero vector
// of the configured length.
func (p *EngineProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, p.dims), nil
	}

	vectors, err := p.engine.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("generate embedding: %w", err), errors.ErrProvider)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d: %w", len(vectors), errors.ErrProvider)
	}

	return vectors[0], nil
}

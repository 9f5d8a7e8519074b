package embedding

import (
	"context"

	"github.com/lexlapax/dimmem/pkg/log"
)

// Fallback tries primary and, on failure, answers from secondary.
// Provider failures are recoverable, so the caller only sees an error when both fail.
type Fallback struct {
	primary   Provider
	secondary Provider
}

// NewFallback chains primary and secondary.
func NewFallback(primary, secondary Provider) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// Dimensions implements Provider.
func (f *Fallback) Dimensions() int {
	if d := f.primary.Dimensions(); d > 0 {
		return d
	}
	return f.secondary.Dimensions()
}

// Embed implements Provider.
func (f *Fallback) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}

	log.WarnContext(ctx, "Embedding provider failed, using fallback", "error", err)
	return f.secondary.Embed(ctx, text)
}

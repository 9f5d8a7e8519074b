package dimension

import (
	"context"
	"time"

	"github.com/lexlapax/dimmem/pkg/embedding"
	"github.com/lexlapax/dimmem/pkg/log"
)

// Settings are the collaborators shared by the dimension managers.
type Settings struct {
	// Embedder computes record embeddings; nil disables them.
	Embedder embedding.Provider

	// Now overrides the clock.
	Now func() time.Time

	// IDFunc overrides id generation.
	IDFunc func() string
}

// Option configures Settings.
type Option func(*Settings)

// WithEmbedder sets the embedding provider.
func WithEmbedder(p embedding.Provider) Option {
	return func(s *Settings) {
		s.Embedder = p
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Settings) {
		s.Now = now
	}
}

// WithIDFunc sets the id generator.
func WithIDFunc(f func() string) Option {
	return func(s *Settings) {
		s.IDFunc = f
	}
}

// ApplyOptions builds Settings from opts.
func ApplyOptions(opts ...Option) Settings {
	var s Settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Embed returns the embedding of text, or nil when text is empty, no
// embedder is configured, or the provider fails. Provider failures are
// logged and never returned.
func (s Settings) Embed(ctx context.Context, text string) []float32 {
	if s.Embedder == nil || text == "" {
		return nil
	}

	vec, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		log.WarnContext(ctx, "Embedding failed, storing record without vector", "error", err)
		return nil
	}
	return vec
}

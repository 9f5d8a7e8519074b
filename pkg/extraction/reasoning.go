package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/reasoning"
)

const systemPrompt = `You extract concepts from conversations for a long-term memory system.
Answer with a single JSON object and nothing else:
{"concepts":[{"name":"","description":"","category":"","confidence":0.0,
"relationships":[{"target":"","type":"","strength":0.0}]}],
"domain":"","summary":"","key_topics":[]}
Confidence and strength are between 0 and 1. Relationship targets are concept names.`

// ReasoningExtractor asks a reasoning engine for concepts in JSON form.
type ReasoningExtractor struct {
	engine reasoning.Engine
	opts   []reasoning.Option
}

// NewReasoningExtractor creates an extractor backed by engine.
func NewReasoningExtractor(engine reasoning.Engine, opts ...reasoning.Option) *ReasoningExtractor {
	return &ReasoningExtractor{engine: engine, opts: opts}
}

// Extract implements Service. Any engine or decoding failure is an ErrProvider.
func (e *ReasoningExtractor) Extract(ctx context.Context, text string, opts Options) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return &Result{Domain: opts.Domain}, nil
	}

	callOpts := append([]reasoning.Option{
		reasoning.WithSystem(systemPrompt),
		reasoning.WithTemperature(0),
	}, e.opts...)

	answer, err := e.engine.Process(ctx, buildPrompt(text, opts), callOpts...)
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("concept extraction: %w", err), errors.ErrProvider)
	}

	var result Result
	if err := json.Unmarshal([]byte(reasoning.StripCodeFence(answer)), &result); err != nil {
		return nil, fmt.Errorf("decode extraction answer: %v: %w", err, errors.ErrProvider)
	}

	result.Concepts = sanitize(result.Concepts)
	if result.Domain == "" {
		result.Domain = opts.Domain
	}

	log.DebugContext(ctx, "Extracted concepts", "count", len(result.Concepts), "domain", result.Domain)
	return &result, nil
}

func buildPrompt(text string, opts Options) string {
	var b strings.Builder
	if opts.Domain != "" {
		fmt.Fprintf(&b, "Domain: %s\n", opts.Domain)
	}
	if len(opts.PreviousConcepts) > 0 {
		fmt.Fprintf(&b, "Already known concepts (do not repeat): %s\n", strings.Join(opts.PreviousConcepts, ", "))
	}
	b.WriteString("Text:\n")
	b.WriteString(text)
	return b.String()
}

// sanitize drops nameless concepts and clamps scores into [0,1].
func sanitize(concepts []Concept) []Concept {
	out := concepts[:0]
	for _, c := range concepts {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		c.Confidence = clamp01(c.Confidence)

		rels := c.Relationships[:0]
		for _, r := range c.Relationships {
			r.Target = strings.TrimSpace(r.Target)
			if r.Target == "" {
				continue
			}
			r.Strength = clamp01(r.Strength)
			rels = append(rels, r)
		}
		c.Relationships = rels

		out = append(out, c)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

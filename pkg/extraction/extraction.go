// Package extraction pulls structured concepts out of free text, either through
// a reasoning engine or through a deterministic keyword heuristic.
package extraction

import (
	"context"
	"regexp"
	"strings"
)

// Keyword heuristic defaults
const (
	KeywordCategory   = "auto-extracted"
	KeywordConfidence = 0.3
	KeywordLimit      = 5
)

// Relationship is a typed edge from an extracted concept to another concept, by name.
type Relationship struct {
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// Concept is one extracted concept.
type Concept struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Confidence    float64        `json:"confidence"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Options tune an extraction request.
type Options struct {
	// Domain hints the subject area ("education", "support", ...)
	Domain string

	// PreviousConcepts lists names already known, so the service can avoid repeating them
	PreviousConcepts []string
}

// Result is the structured answer of an extraction.
type Result struct {
	Concepts  []Concept `json:"concepts"`
	Domain    string    `json:"domain"`
	Summary   string    `json:"summary"`
	KeyTopics []string  `json:"key_topics"`
}

// Service extracts concepts from text.
type Service interface {
	Extract(ctx context.Context, text string, opts Options) (*Result, error)
}

var keywordPattern = regexp.MustCompile(`[A-Za-z]{2,}|\p{Han}{2,}`)

// KeywordExtract returns up to limit low-confidence placeholder concepts built
// from the unique alphabetic or Han tokens of text, in order of first appearance.
// Tokens are compared case-insensitively.
func KeywordExtract(text string, limit int) []Concept {
	if limit <= 0 {
		limit = KeywordLimit
	}

	seen := make(map[string]bool)
	var concepts []Concept
	for _, token := range keywordPattern.FindAllString(text, -1) {
		key := strings.ToLower(token)
		if seen[key] {
			continue
		}
		seen[key] = true

		concepts = append(concepts, Concept{
			Name:        token,
			Description: "Keyword mentioned in conversation",
			Category:    KeywordCategory,
			Confidence:  KeywordConfidence,
		})
		if len(concepts) == limit {
			break
		}
	}

	return concepts
}

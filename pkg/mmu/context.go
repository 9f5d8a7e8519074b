package mmu

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lexlapax/dimmem/pkg/mem/core"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/episodic"
	"github.com/lexlapax/dimmem/pkg/mem/procedural"
	"github.com/lexlapax/dimmem/pkg/mem/resource"
	"github.com/lexlapax/dimmem/pkg/mem/semantic"
)

// Structured context bounds
const (
	DefaultProcedureLimit = 5
	DefaultResourceLimit  = 5

	// DefaultRelevance is reported when no query is given
	DefaultRelevance = 0.5

	// dedupKeyLength bounds the summary or description part of a dedup key
	dedupKeyLength = 50

	truncationMarker = "..."
)

// ContextOptions bound a structured context. Zero fields take the
// orchestrator configuration or the package defaults.
type ContextOptions struct {
	ConversationLimit int
	ConceptLimit      int
	ProcedureLimit    int
	ResourceLimit     int
}

// Procedure is a named procedure with its ordered steps.
type Procedure struct {
	Name  string             `json:"name"`
	Steps []*procedural.Step `json:"steps"`
}

// StructuredContext is the memory assembled for one prompt.
type StructuredContext struct {
	UserID        string               `json:"user_id"`
	Query         string               `json:"query"`
	Conversations []*episodic.Event    `json:"conversations"`
	Concepts      []*semantic.Concept  `json:"concepts"`
	Core          []*core.Memory       `json:"core"`
	Procedures    []Procedure          `json:"procedures"`
	Resources     []*resource.Resource `json:"resources"`
	Summary       string               `json:"summary"`
	Relevance     float64              `json:"relevance"`
}

// GetStructuredMemoryContext assembles the user's recent conversations,
// concepts relevant to query (or the most recent ones), the user's core
// memories, and a few procedures and resources. Conversations and concepts
// are deduplicated before being bounded.
func (o *Orchestrator) GetStructuredMemoryContext(ctx context.Context, userID, query string, opts ContextOptions) (*StructuredContext, error) {
	if opts.ConversationLimit <= 0 {
		opts.ConversationLimit = o.config.RecentConversationLimit
	}
	if opts.ConceptLimit <= 0 {
		opts.ConceptLimit = o.config.ConceptLimit
	}
	if opts.ProcedureLimit <= 0 {
		opts.ProcedureLimit = DefaultProcedureLimit
	}
	if opts.ResourceLimit <= 0 {
		opts.ResourceLimit = DefaultResourceLimit
	}

	s := o.stores
	query = strings.TrimSpace(query)
	sc := &StructuredContext{UserID: userID, Query: query}

	var conversations []*episodic.Event
	if userID != "" {
		conversations = s.Episodic.GetByUserID(userID, 0)
	} else {
		conversations = s.Episodic.Recent(0)
	}
	sc.Conversations = dimension.Truncate(DedupConversations(conversations), opts.ConversationLimit)

	var concepts []*semantic.Concept
	if query != "" {
		var err error
		concepts, err = s.Semantic.SearchSimilar(ctx, query, 0)
		if err != nil {
			return nil, err
		}
	} else {
		concepts = s.Semantic.List(nil)
	}
	sc.Concepts = dimension.Truncate(DedupConcepts(concepts), opts.ConceptLimit)

	if userID != "" {
		sc.Core = s.Core.GetByUser(userID)
	} else {
		sc.Core = s.Core.List(nil)
	}

	procedures, err := o.procedures(ctx, query, opts.ProcedureLimit)
	if err != nil {
		return nil, err
	}
	sc.Procedures = procedures

	if query != "" {
		found, err := s.Resource.Search(ctx, query, opts.ResourceLimit)
		if err != nil {
			return nil, err
		}
		sc.Resources = found
	} else {
		sc.Resources = s.Resource.Recent(opts.ResourceLimit)
	}

	sc.Relevance = relevance(query, sc.Conversations, sc.Concepts)
	sc.Summary = fmt.Sprintf("Included %d conversations, %d concepts, %d core memories, %d procedures and %d resources.",
		len(sc.Conversations), len(sc.Concepts), len(sc.Core), len(sc.Procedures), len(sc.Resources))

	return sc, ctx.Err()
}

// procedures returns up to limit procedures matching query, or the first
// procedures by name when query is empty.
func (o *Orchestrator) procedures(ctx context.Context, query string, limit int) ([]Procedure, error) {
	var names []string
	if query == "" {
		names = o.stores.Procedural.ListProcedures()
	} else {
		steps, err := o.stores.Procedural.Search(ctx, query, 0)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, step := range steps {
			if !seen[step.ProcedureName] {
				seen[step.ProcedureName] = true
				names = append(names, step.ProcedureName)
			}
		}
	}

	out := []Procedure{}
	for _, name := range dimension.Truncate(names, limit) {
		if steps := o.stores.Procedural.GetProcedure(name); len(steps) > 0 {
			out = append(out, Procedure{Name: name, Steps: steps})
		}
	}
	return out, nil
}

// relevance is the fraction of conversations and concepts containing query,
// or DefaultRelevance without a query.
func relevance(query string, conversations []*episodic.Event, concepts []*semantic.Concept) float64 {
	if query == "" {
		return DefaultRelevance
	}
	total := len(conversations) + len(concepts)
	if total == 0 {
		return 0
	}

	q := strings.ToLower(query)
	matched := 0
	for _, e := range conversations {
		if strings.Contains(strings.ToLower(e.Summary+"\n"+e.Details), q) {
			matched++
		}
	}
	for _, c := range concepts {
		if strings.Contains(strings.ToLower(c.Name+"\n"+c.Description), q) {
			matched++
		}
	}
	return float64(matched) / float64(total)
}

// DedupConversations drops events whose truncated summary and occurrence
// minute repeat an earlier event. The first occurrence wins and order is kept.
func DedupConversations(in []*episodic.Event) []*episodic.Event {
	out := make([]*episodic.Event, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		key := conversationKey(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func conversationKey(e *episodic.Event) string {
	return prefix(e.Summary, dedupKeyLength) + "|" + e.OccurredAt.UTC().Truncate(time.Minute).Format(time.RFC3339)
}

// DedupConcepts merges concepts sharing a name (ignoring case) and truncated
// description. The first occurrence survives and gains the relationships of
// its duplicates that it does not already have.
func DedupConcepts(in []*semantic.Concept) []*semantic.Concept {
	out := make([]*semantic.Concept, 0, len(in))
	index := make(map[string]int, len(in))
	for _, c := range in {
		key := strings.ToLower(c.Name) + "|" + prefix(c.Description, dedupKeyLength)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, c)
			continue
		}

		survivor := out[i].Clone()
		for _, rel := range c.Relationships {
			if !hasRelationship(survivor.Relationships, rel) {
				survivor.Relationships = append(survivor.Relationships, rel)
			}
		}
		out[i] = survivor
	}
	return out
}

func hasRelationship(rels []semantic.Relationship, rel semantic.Relationship) bool {
	for _, r := range rels {
		if r == rel {
			return true
		}
	}
	return false
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// RenderContextSummary renders sc as prompt text of at most maxChars
// characters, ending in "..." when cut. maxChars <= 0 uses the configured
// context window.
func (o *Orchestrator) RenderContextSummary(sc *StructuredContext, maxChars int) string {
	if maxChars <= 0 {
		maxChars = o.config.ContextWindow
	}
	if sc == nil {
		return ""
	}

	var b strings.Builder
	if len(sc.Core) > 0 {
		b.WriteString("## Core memory\n")
		for _, m := range sc.Core {
			if m.Persona.Value != "" {
				fmt.Fprintf(&b, "Persona: %s\n", m.Persona.Value)
			}
			if m.Human.Value != "" {
				fmt.Fprintf(&b, "Human: %s\n", m.Human.Value)
			}
		}
	}
	if len(sc.Conversations) > 0 {
		b.WriteString("## Recent conversations\n")
		for _, e := range sc.Conversations {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", e.OccurredAt.UTC().Format("2006-01-02 15:04"), e.Actor, e.Summary)
		}
	}
	if len(sc.Concepts) > 0 {
		b.WriteString("## Concepts\n")
		for _, c := range sc.Concepts {
			line := c.Name
			if c.Category != "" {
				line += " (" + c.Category + ")"
			}
			if c.Description != "" {
				line += ": " + c.Description
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	if len(sc.Procedures) > 0 {
		b.WriteString("## Procedures\n")
		for _, p := range sc.Procedures {
			steps := make([]string, len(p.Steps))
			for i, step := range p.Steps {
				steps[i] = fmt.Sprintf("%d. %s", step.StepNumber, step.Description)
			}
			fmt.Fprintf(&b, "- %s: %s\n", p.Name, strings.Join(steps, "; "))
		}
	}
	if len(sc.Resources) > 0 {
		b.WriteString("## Resources\n")
		for _, r := range sc.Resources {
			fmt.Fprintf(&b, "- %s (%s) %s\n", r.Name, r.Kind, r.Location)
		}
	}
	if sc.Summary != "" {
		fmt.Fprintf(&b, "## Summary\n%s\n", sc.Summary)
	}

	return clip(strings.TrimRight(b.String(), "\n"), maxChars)
}

// clip bounds text to maxChars characters including the truncation marker.
func clip(text string, maxChars int) string {
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	marker := utf8.RuneCountInString(truncationMarker)
	if maxChars <= marker {
		return string([]rune(truncationMarker)[:maxChars])
	}
	return string([]rune(text)[:maxChars-marker]) + truncationMarker
}

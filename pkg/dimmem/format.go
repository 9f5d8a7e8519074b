package dimmem

import (
	"fmt"
	"strings"

	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mmu"
)

// FormatRetrieval renders a retrieval result as plain text, one section per
// non-empty dimension in weight order.
func FormatRetrieval(r *mmu.RetrievalResult) string {
	if r == nil || r.Total() == 0 {
		return "No memories found for the query."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories for %q", r.Total(), r.Query)
	if r.Topic != "" && r.Topic != r.Query {
		fmt.Fprintf(&b, " (topic %q)", r.Topic)
	}
	b.WriteString(":\n")

	section(&b, r.Core.Dimension, r.Core.Weight, len(r.Core.Items), func(i int) string {
		m := r.Core.Items[i]
		return fmt.Sprintf("persona: %s | human: %s", m.Persona.Value, m.Human.Value)
	})
	section(&b, r.Episodic.Dimension, r.Episodic.Weight, len(r.Episodic.Items), func(i int) string {
		e := r.Episodic.Items[i]
		return fmt.Sprintf("[%s] %s: %s", e.OccurredAt.Format("2006-01-02 15:04"), e.Actor, e.Summary)
	})
	section(&b, r.Knowledge.Dimension, r.Knowledge.Weight, len(r.Knowledge.Items), func(i int) string {
		k := r.Knowledge.Items[i]
		return fmt.Sprintf("[%s] %s: %s (score %.2f)", k.Domain, k.Topic, k.Content, r.Knowledge.Scores[i])
	})
	section(&b, r.Semantic.Dimension, r.Semantic.Weight, len(r.Semantic.Items), func(i int) string {
		c := r.Semantic.Items[i]
		return fmt.Sprintf("%s: %s", c.Name, c.Description)
	})
	section(&b, r.Procedural.Dimension, r.Procedural.Weight, len(r.Procedural.Items), func(i int) string {
		s := r.Procedural.Items[i]
		return fmt.Sprintf("%s #%d: %s", s.ProcedureName, s.StepNumber, s.Description)
	})
	section(&b, r.Resource.Dimension, r.Resource.Weight, len(r.Resource.Items), func(i int) string {
		res := r.Resource.Items[i]
		return fmt.Sprintf("%s (%s) %s", res.Name, res.Kind, res.Location)
	})

	if failed := r.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, d := range failed {
			names[i] = string(d)
		}
		fmt.Fprintf(&b, "\nUnavailable: %s\n", strings.Join(names, ", "))
	}
	return b.String()
}

func section(b *strings.Builder, dim events.Dimension, weight float64, n int, line func(int) string) {
	if n == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s (weight %.1f)\n", dim, weight)
	for i := 0; i < n; i++ {
		fmt.Fprintf(b, "- %s\n", line(i))
	}
}

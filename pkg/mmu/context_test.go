package mmu

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/mem/core"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/episodic"
	"github.com/lexlapax/dimmem/pkg/mem/procedural"
	"github.com/lexlapax/dimmem/pkg/mem/resource"
	"github.com/lexlapax/dimmem/pkg/mem/semantic"
)

func event(id, summary string, at time.Time) *episodic.Event {
	return &episodic.Event{Header: dimension.Header{ID: id}, Summary: summary, OccurredAt: at}
}

func ids(events []*episodic.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestDedupConversations(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 15, 5, 0, time.UTC)
	long := strings.Repeat("a", 60)

	in := []*episodic.Event{
		event("1", "hello", base),
		event("2", "hello", base.Add(30*time.Second)),      // same minute
		event("3", "hello", base.Add(time.Minute)),         // next minute
		event("4", long+"tail one", base),                  // differs after the key prefix
		event("5", long+"tail two", base.Add(time.Second)), // duplicate of 4
		event("6", "other", base),
	}

	once := DedupConversations(in)
	assert.Equal(t, []string{"1", "3", "4", "6"}, ids(once), "first occurrence wins")

	twice := DedupConversations(once)
	assert.Equal(t, ids(once), ids(twice))

	assert.Empty(t, DedupConversations(nil))
}

func TestDedupConcepts(t *testing.T) {
	a1 := &semantic.Concept{Header: dimension.Header{ID: "a1"}, Name: "Go", Description: "a language",
		Relationships: []semantic.Relationship{{TargetID: "x", Type: "is_a"}}}
	a2 := &semantic.Concept{Header: dimension.Header{ID: "a2"}, Name: "go", Description: "a language",
		Relationships: []semantic.Relationship{{TargetID: "x", Type: "is_a"}, {TargetID: "y", Type: "uses"}}}
	b := &semantic.Concept{Header: dimension.Header{ID: "b"}, Name: "Go", Description: "a board game"}

	once := DedupConcepts([]*semantic.Concept{a1, a2, b})
	require.Len(t, once, 2)
	assert.Equal(t, "a1", once[0].ID)
	assert.Equal(t, []semantic.Relationship{{TargetID: "x", Type: "is_a"}, {TargetID: "y", Type: "uses"}}, once[0].Relationships)
	assert.Len(t, a1.Relationships, 1, "inputs are not mutated")

	twice := DedupConcepts(once)
	assert.Equal(t, once, twice)
}

func TestGetStructuredMemoryContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, noExtraction())
	s := f.stores

	_, err := s.Core.Create(ctx, &core.Memory{UserID: "u1", Persona: core.Block{Value: "friendly tutor"}})
	require.NoError(t, err)
	_, err = s.Core.Create(ctx, &core.Memory{UserID: "u2"})
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, summary := range []string{"we discussed fractions", "we discussed fractions", "homework on algebra"} {
		_, err = s.Episodic.Create(ctx, &episodic.Event{UserID: "u1", Summary: summary, OccurredAt: at.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	_, err = s.Semantic.Create(ctx, &semantic.Concept{Name: "fractions", Description: "parts of a whole"})
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err = s.Procedural.Create(ctx, &procedural.Step{ProcedureName: string(rune('a' + i)), Description: "step"})
		require.NoError(t, err)
	}
	for i := 0; i < 7; i++ {
		_, err = s.Resource.Create(ctx, &resource.Resource{Name: "worksheet"})
		require.NoError(t, err)
	}

	sc, err := f.orch.GetStructuredMemoryContext(ctx, "u1", "fractions", ContextOptions{})
	require.NoError(t, err)

	assert.Len(t, sc.Conversations, 2, "duplicate conversation in the same minute dropped")
	require.Len(t, sc.Core, 1)
	assert.Equal(t, "u1", sc.Core[0].UserID)
	require.NotEmpty(t, sc.Concepts)
	assert.Equal(t, "fractions", sc.Concepts[0].Name)
	assert.Empty(t, sc.Procedures, "no procedure mentions fractions")
	assert.Empty(t, sc.Resources)
	assert.Contains(t, sc.Summary, "2 conversations")
	// 1 of 2 conversations and the one concept match
	assert.InDelta(t, 2.0/3.0, sc.Relevance, 1e-9)

	sc, err = f.orch.GetStructuredMemoryContext(ctx, "u1", "", ContextOptions{ConversationLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultRelevance, sc.Relevance)
	assert.Len(t, sc.Conversations, 1)
	assert.Equal(t, "homework on algebra", sc.Conversations[0].Summary)
	assert.Len(t, sc.Procedures, DefaultProcedureLimit)
	assert.Len(t, sc.Resources, DefaultResourceLimit)
	assert.Equal(t, "a", sc.Procedures[0].Name)
}

func TestStructuredContext_ProcedureSearchError(t *testing.T) {
	f := newFixture(t, noExtraction())
	_, err := f.stores.Procedural.Create(context.Background(), &procedural.Step{ProcedureName: "deploy", Description: "ship it"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	procedures, err := f.orch.procedures(ctx, "deploy", DefaultProcedureLimit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, procedures)

	sc, err := f.orch.GetStructuredMemoryContext(ctx, "", "deploy", ContextOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sc)
}

func TestRenderContextSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, noExtraction())

	_, err := f.stores.Core.Create(ctx, &core.Memory{UserID: "u1", Persona: core.Block{Value: "concise"}, Human: core.Block{Value: "likes go"}})
	require.NoError(t, err)
	_, err = f.orch.RecordProcedure(ctx, "release", []*procedural.Step{{Description: "tag"}, {Description: "push"}})
	require.NoError(t, err)
	_, err = f.stores.Episodic.Create(ctx, &episodic.Event{UserID: "u1", Actor: episodic.ActorUser, Summary: "asked about generics"})
	require.NoError(t, err)

	sc, err := f.orch.GetStructuredMemoryContext(ctx, "u1", "", ContextOptions{})
	require.NoError(t, err)

	text := f.orch.RenderContextSummary(sc, 0)
	assert.Contains(t, text, "Persona: concise")
	assert.Contains(t, text, "Human: likes go")
	assert.Contains(t, text, "user: asked about generics")
	assert.Contains(t, text, "release: 1. tag; 2. push")
	assert.NotContains(t, text, "...")

	short := f.orch.RenderContextSummary(sc, 40)
	assert.Equal(t, 40, utf8.RuneCountInString(short))
	assert.True(t, strings.HasSuffix(short, "..."))

	assert.Equal(t, "..", f.orch.RenderContextSummary(sc, 2))
	assert.Empty(t, f.orch.RenderContextSummary(nil, 10))
}

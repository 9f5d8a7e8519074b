package mmu

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/extraction"
	"github.com/lexlapax/dimmem/pkg/mem/episodic"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	mockstore "github.com/lexlapax/dimmem/pkg/mem/recordstore/adapters/mock"
	"github.com/lexlapax/dimmem/pkg/mem/semantic"
)

func TestPreviewAndPath(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "abc...", Preview("abcdef", 3))
	assert.Equal(t, "你好...", Preview("你好世界", 2))

	assert.Equal(t, []string{"general"}, ConversationContext{}.Path())
	assert.Equal(t, []string{"billing", "refund"}, ConversationContext{Module: "billing", Action: "refund"}.Path())
}

func TestRecordConversation_StoresEvent(t *testing.T) {
	f := newFixture(t, noExtraction())

	ctx := entity.ContextWithEntity(context.Background(), entity.NewContext("u1", "conv-9"))
	message := strings.Repeat("x", 150)

	e, err := f.orch.RecordConversation(ctx, episodic.ActorAssistant, message, ConversationContext{
		Module:   "support",
		Category: "printer",
		Metadata: map[string]interface{}{"channel": "chat"},
	})
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("x", 100)+"...", e.Summary)
	assert.Equal(t, message, e.Details)
	assert.Equal(t, []string{"support", "printer"}, e.TreePath)
	assert.Equal(t, episodic.EventTypeConversation, e.EventType)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "conv-9", e.Metadata["conversation_id"])
	assert.Equal(t, "u1", e.Metadata["user_id"])
	assert.Equal(t, episodic.ActorAssistant, e.Metadata["actor"])
	assert.Equal(t, "chat", e.Metadata["channel"])

	// Conversation-scoped purge through metadata
	removed, err := f.stores.Episodic.DeleteByMetadata(ctx, map[string]interface{}{"conversation_id": "conv-9"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.orch.RecordConversation(ctx, "", "   ", ConversationContext{})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestRecordConversation_KeywordFallbackWithoutExtractor(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.RecordConversation(context.Background(), "", "Kubernetes deploys containers, kubernetes scales", ConversationContext{})
	require.NoError(t, err)
	f.orch.Wait()

	concepts := f.stores.Semantic.List(nil)
	var names []string
	for _, c := range concepts {
		names = append(names, c.Name)
		assert.Equal(t, extraction.KeywordCategory, c.Category)
		assert.Equal(t, extraction.KeywordConfidence, c.Confidence)
	}
	assert.ElementsMatch(t, []string{"Kubernetes", "deploys", "containers", "scales"}, names)

	// Repeated mentions do not duplicate concepts
	_, err = f.orch.RecordConversation(context.Background(), "", "kubernetes again", ConversationContext{})
	require.NoError(t, err)
	f.orch.Wait()
	assert.Len(t, f.stores.Semantic.FindByName("kubernetes"), 1)
	assert.Len(t, f.stores.Semantic.FindByName("again"), 1)
}

func TestRecordConversation_ExtractorFailureFallsBack(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, "Rust borrow checker", mock.Anything).
		Return(nil, errors.Mark(fmt.Errorf("rate limited"), errors.ErrProvider))

	f := newFixture(t, WithExtractor(extractor))

	e, err := f.orch.RecordConversation(context.Background(), "", "Rust borrow checker", ConversationContext{})
	require.NoError(t, err)
	require.NotNil(t, e)
	f.orch.Wait()

	extractor.AssertExpectations(t)
	assert.Len(t, f.stores.Semantic.FindByName("borrow"), 1)
}

func TestRecordConversation_ExtractionNeverFailsTheRecord(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("extractor crashed") })

	f := newFixture(t, WithExtractor(extractor))

	_, err := f.orch.RecordConversation(context.Background(), "", "panic please", ConversationContext{})
	require.NoError(t, err)
	f.orch.Wait()
	assert.Equal(t, 1, f.stores.Episodic.Count())
	assert.Zero(t, f.stores.Semantic.Count())

	// Semantic store failures are logged, not returned
	extractor2 := &mockExtractor{}
	extractor2.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(&extraction.Result{
		Concepts: []extraction.Concept{{Name: "lost"}},
	}, nil)
	g := newFixture(t, WithExtractor(extractor2))
	g.backend.FailOn(recordstore.TableSemantic, mockstore.OpCreate, fmt.Errorf("disk full"))

	_, err = g.orch.RecordConversation(context.Background(), "", "still recorded", ConversationContext{})
	require.NoError(t, err)
	g.orch.Wait()
	assert.Equal(t, 1, g.stores.Episodic.Count())
}

func TestRecordConversation_CancelledCallerDoesNotStopExtraction(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.orch.RecordConversation(ctx, "", "Postgres replication", ConversationContext{})
	require.NoError(t, err)
	cancel()
	f.orch.Wait()

	assert.Len(t, f.stores.Semantic.FindByName("replication"), 1)
}

func TestExtractConcepts_LinksRelationshipsAndSkipsKnown(t *testing.T) {
	ctx := context.Background()
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, "text", mock.MatchedBy(func(o extraction.Options) bool {
		return o.Domain == "devops" && len(o.PreviousConcepts) == 1
	})).Return(&extraction.Result{
		Concepts: []extraction.Concept{
			{Name: "Helm", Description: "package manager", Confidence: 0.9, Relationships: []extraction.Relationship{
				{Target: "Kubernetes", Type: "runs_on", Strength: 0.7},
				{Target: "Unknown", Type: "related_to"},
			}},
			{Name: "kubernetes", Description: "duplicate of a known concept"},
			{Name: "Chart", Description: "helm package", Relationships: []extraction.Relationship{{Target: "helm", Type: "part_of"}}},
		},
	}, nil)

	f := newFixture(t, WithExtractor(extractor))
	known, err := f.stores.Semantic.Create(ctx, &semantic.Concept{Name: "Kubernetes"})
	require.NoError(t, err)

	created, err := f.orch.ExtractConcepts(ctx, "text", "devops")
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "Helm", created[0].Name)
	require.Len(t, created[0].Relationships, 1)
	assert.Equal(t, known.ID, created[0].Relationships[0].TargetID)
	assert.Equal(t, 0.7, created[0].Relationships[0].Strength)
	assert.Equal(t, created[0].ID, created[1].Relationships[0].TargetID)

	related, err := f.stores.Semantic.FindRelated(ctx, known.ID, 2)
	require.NoError(t, err)
	assert.Len(t, related, 2)

	none, err := f.orch.ExtractConcepts(ctx, "  ", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

package mmu

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/extraction"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/episodic"
	"github.com/lexlapax/dimmem/pkg/mem/semantic"
)

// DefaultPath is the tree path of conversations recorded without module, category or action.
const DefaultPath = "general"

// previousConceptHint bounds the concept names sent to the extraction service
const previousConceptHint = 20

// ConversationContext describes where a conversation turn happened.
type ConversationContext struct {
	UserID         string
	ConversationID string

	// Module, Category and Action form the event's tree path
	Module   string
	Category string
	Action   string

	// Metadata is stored on the event alongside the fields above
	Metadata map[string]interface{}
}

// Path returns the tree path for the context: its non-empty module,
// category and action, or DefaultPath.
func (c ConversationContext) Path() []string {
	var path []string
	for _, seg := range []string{c.Module, c.Category, c.Action} {
		if seg = strings.TrimSpace(seg); seg != "" {
			path = append(path, seg)
		}
	}
	if len(path) == 0 {
		return []string{DefaultPath}
	}
	return path
}

// Preview returns the first n characters of text followed by "..." when
// text is longer than n.
func Preview(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// RecordConversation stores one conversation turn as an episodic event
// with a bounded summary and the full message as details. When concept
// extraction is enabled it is started in the background; its outcome never
// affects the returned event.
func (o *Orchestrator) RecordConversation(ctx context.Context, actor, message string, cc ConversationContext) (*episodic.Event, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("conversation message is empty: %w", errors.ErrValidation)
	}
	if actor == "" {
		actor = episodic.ActorUser
	}
	if cc.UserID == "" {
		cc.UserID = entity.UserFromContext(ctx, "")
	}
	if cc.ConversationID == "" {
		if ec, ok := entity.GetEntityContext(ctx); ok {
			cc.ConversationID = ec.ConversationID
		}
	}

	metadata := make(map[string]interface{}, len(cc.Metadata)+3)
	for k, v := range cc.Metadata {
		metadata[k] = v
	}
	metadata["actor"] = actor
	if cc.UserID != "" {
		metadata["user_id"] = cc.UserID
	}
	if cc.ConversationID != "" {
		metadata["conversation_id"] = cc.ConversationID
	}

	event, err := o.stores.Episodic.Create(ctx, &episodic.Event{
		Header:    dimension.Header{Metadata: metadata},
		UserID:    cc.UserID,
		EventType: episodic.EventTypeConversation,
		Summary:   Preview(message, o.config.SummaryPreviewLength),
		Details:   message,
		Actor:     actor,
		TreePath:  cc.Path(),
	})
	if err != nil {
		return nil, err
	}

	if o.config.EnableConceptExtraction {
		o.goBackground(ctx, "concept-extraction", func(ctx context.Context) {
			created, err := o.ExtractConcepts(ctx, message, o.config.ExtractionDomain)
			if err != nil {
				log.ErrorContext(ctx, "Concept extraction failed", "event_id", event.ID, "error", err)
				return
			}
			log.DebugContext(ctx, "Extracted concepts", "event_id", event.ID, "created", len(created))
		})
	}

	return event, nil
}

// ExtractConcepts extracts concepts from text and creates those whose name is
// not yet known. The extraction service is tried first; when it is missing or
// fails, the keyword heuristic is used. Relationships naming a known concept
// are linked once every new concept exists.
func (o *Orchestrator) ExtractConcepts(ctx context.Context, text, domain string) ([]*semantic.Concept, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	concepts := o.extract(ctx, text, domain)
	sem := o.stores.Semantic

	var (
		created []*semantic.Concept
		pending = map[string][]extraction.Relationship{}
		errs    []error
	)
	for _, c := range concepts {
		if len(sem.FindByName(c.Name)) > 0 {
			continue
		}

		concept, err := sem.Create(ctx, &semantic.Concept{
			Name:        c.Name,
			Description: c.Description,
			Category:    c.Category,
			Confidence:  c.Confidence,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		created = append(created, concept)
		if len(c.Relationships) > 0 {
			pending[concept.ID] = c.Relationships
		}
	}

	for i, concept := range created {
		for _, rel := range pending[concept.ID] {
			targets := sem.FindByName(rel.Target)
			if len(targets) == 0 || targets[0].ID == concept.ID {
				continue
			}
			updated, err := sem.AddRelationship(ctx, concept.ID, semantic.Relationship{
				TargetID: targets[0].ID,
				Type:     rel.Type,
				Strength: rel.Strength,
			})
			if err != nil {
				errs = append(errs, err)
				continue
			}
			created[i] = updated
		}
	}

	return created, errors.Join(errs...)
}

// extract returns the service's concepts, or the keyword heuristic's when
// the service is absent or fails.
func (o *Orchestrator) extract(ctx context.Context, text, domain string) []extraction.Concept {
	if o.extractor == nil {
		return extraction.KeywordExtract(text, extraction.KeywordLimit)
	}

	var previous []string
	for _, c := range dimension.Truncate(o.stores.Semantic.List(nil), previousConceptHint) {
		previous = append(previous, c.Name)
	}

	result, err := o.extractor.Extract(ctx, text, extraction.Options{Domain: domain, PreviousConcepts: previous})
	if err != nil {
		log.WarnContext(ctx, "Concept extraction service failed, using keyword heuristic", "error", err)
		return extraction.KeywordExtract(text, extraction.KeywordLimit)
	}
	if result == nil {
		return extraction.KeywordExtract(text, extraction.KeywordLimit)
	}
	return result.Concepts
}

// Package episodic stores timestamped events such as conversation turns.
package episodic

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Actors
const (
	ActorUser      = "user"
	ActorAssistant = "assistant"
	ActorSystem    = "system"
)

// EventTypeConversation tags conversation turns.
const EventTypeConversation = "conversation"

// Event is a single episodic memory.
type Event struct {
	dimension.Header
	UserID           string    `json:"user_id,omitempty"`
	EventType        string    `json:"event_type"`
	Summary          string    `json:"summary"`
	Details          string    `json:"details,omitempty"`
	Actor            string    `json:"actor,omitempty"`
	TreePath         []string  `json:"tree_path,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
	SummaryEmbedding []float32 `json:"summary_embedding,omitempty"`
	DetailsEmbedding []float32 `json:"details_embedding,omitempty"`
}

// Base implements dimension.Record.
func (e *Event) Base() *dimension.Header { return &e.Header }

// Clone implements dimension.Record.
func (e *Event) Clone() *Event {
	c := *e
	c.Header = e.Header.Clone()
	c.TreePath = dimension.CloneStrings(e.TreePath)
	c.SummaryEmbedding = dimension.CloneFloats(e.SummaryEmbedding)
	c.DetailsEmbedding = dimension.CloneFloats(e.DetailsEmbedding)
	return &c
}

// Store is the episodic memory dimension.
type Store struct {
	*dimension.Store[*Event]

	settings dimension.Settings
}

// NewStore creates the episodic store over backend. Event ids are ULIDs so
// they sort by creation time.
func NewStore(backend recordstore.Store, opts ...dimension.Option) *Store {
	settings := dimension.ApplyOptions(opts...)
	if settings.IDFunc == nil {
		settings.IDFunc = func() string { return ulid.Make().String() }
	}

	s := &Store{settings: settings}
	s.Store = dimension.New[*Event](backend, dimension.Options[*Event]{
		Dimension: events.Episodic,
		Table:     recordstore.TableEpisodic,
		New:       func() *Event { return &Event{} },
		Text:      func(e *Event) string { return e.Summary + "\n" + e.Details },
		IDFunc:    settings.IDFunc,
		Now:       settings.Now,
		Hooks: dimension.Hooks[*Event]{
			BeforeCreate: s.beforeCreate,
			BeforeUpdate: s.beforeUpdate,
		},
	})
	return s
}

func (s *Store) beforeCreate(ctx context.Context, e *Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = e.CreatedAt
	}
	e.SummaryEmbedding = s.settings.Embed(ctx, e.Summary)
	e.DetailsEmbedding = s.settings.Embed(ctx, e.Details)
	return nil
}

// beforeUpdate re-embeds only the texts that changed.
func (s *Store) beforeUpdate(ctx context.Context, prev, next *Event) error {
	if next.OccurredAt.IsZero() {
		next.OccurredAt = prev.OccurredAt
	}
	if next.Summary != prev.Summary {
		next.SummaryEmbedding = s.settings.Embed(ctx, next.Summary)
	}
	if next.Details != prev.Details {
		next.DetailsEmbedding = s.settings.Embed(ctx, next.Details)
	}
	return nil
}

// Search returns events whose summary or details contain query
// (case-insensitive), most recent occurrence first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Event, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	out := s.List(func(e *Event) bool {
		return q == "" ||
			strings.Contains(strings.ToLower(e.Summary), q) ||
			strings.Contains(strings.ToLower(e.Details), q)
	})
	sortRecentFirst(out)
	return dimension.Truncate(out, limit), ctx.Err()
}

// GetByUserID returns the user's most recent events, newest first.
func (s *Store) GetByUserID(userID string, limit int) []*Event {
	out := s.List(func(e *Event) bool { return e.UserID == userID })
	sortRecentFirst(out)
	return dimension.Truncate(out, limit)
}

// Recent returns the most recent events of every user.
func (s *Store) Recent(limit int) []*Event {
	out := s.List(nil)
	sortRecentFirst(out)
	return dimension.Truncate(out, limit)
}

// OccurredBefore returns the events that occurred strictly before t, oldest first.
func (s *Store) OccurredBefore(t time.Time) []*Event {
	out := s.List(func(e *Event) bool { return e.OccurredAt.Before(t) })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListByPath returns the events whose tree path starts with prefix, newest first.
// An empty prefix matches every event.
func (s *Store) ListByPath(prefix ...string) []*Event {
	out := s.List(func(e *Event) bool { return hasPrefix(e.TreePath, prefix) })
	sortRecentFirst(out)
	return out
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

func sortRecentFirst(out []*Event) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
}

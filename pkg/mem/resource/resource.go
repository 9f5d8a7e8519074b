// Package resource stores references to files, urls, images and documents.
package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Kind is the type of a referenced resource.
type Kind string

// Resource kinds
const (
	KindFile     Kind = "file"
	KindURL      Kind = "url"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFile, KindURL, KindImage, KindDocument:
		return true
	}
	return false
}

// Resource is a reference to external content.
type Resource struct {
	dimension.Header
	Kind         Kind      `json:"kind"`
	Name         string    `json:"name"`
	Location     string    `json:"location,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
}

// Base implements dimension.Record.
func (r *Resource) Base() *dimension.Header { return &r.Header }

// Clone implements dimension.Record.
func (r *Resource) Clone() *Resource {
	c := *r
	c.Header = r.Header.Clone()
	c.Tags = dimension.CloneStrings(r.Tags)
	return &c
}

func (r *Resource) text() string {
	return strings.Join(append([]string{r.Name, r.Location, r.Summary}, r.Tags...), "\n")
}

// Store is the resource memory dimension.
type Store struct {
	*dimension.Store[*Resource]

	tagMu sync.RWMutex
	tags  map[string]map[string]struct{}
}

// NewStore creates the resource store over backend.
func NewStore(backend recordstore.Store, opts ...dimension.Option) *Store {
	settings := dimension.ApplyOptions(opts...)
	s := &Store{tags: make(map[string]map[string]struct{})}
	s.Store = dimension.New[*Resource](backend, dimension.Options[*Resource]{
		Dimension: events.Resource,
		Table:     recordstore.TableResource,
		New:       func() *Resource { return &Resource{} },
		Text:      (*Resource).text,
		IDFunc:    settings.IDFunc,
		Now:       settings.Now,
		Hooks: dimension.Hooks[*Resource]{
			BeforeCreate: func(_ context.Context, r *Resource) error { return normalize(r) },
			BeforeUpdate: func(_ context.Context, _, next *Resource) error { return normalize(next) },
			AfterPut:     s.afterPut,
			AfterRemove: func(r *Resource) {
				s.tagMu.Lock()
				s.unindexLocked(r)
				s.tagMu.Unlock()
			},
		},
	})
	return s
}

func normalize(r *Resource) error {
	if r.Kind == "" {
		r.Kind = KindDocument
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown resource kind %q: %w", r.Kind, errors.ErrValidation)
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("resource name is required: %w", errors.ErrValidation)
	}
	r.Tags = NormalizeTags(r.Tags)
	return nil
}

// NormalizeTags trims, lower-cases and de-duplicates tags, dropping empty
// ones and keeping first-seen order. It returns nil when nothing remains.
func NormalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// afterPut fully removes the previous tags before inserting the new ones.
func (s *Store) afterPut(prev, next *Resource, existed bool) {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	if existed {
		s.unindexLocked(prev)
	}
	for _, tag := range next.Tags {
		ids, ok := s.tags[tag]
		if !ok {
			ids = make(map[string]struct{})
			s.tags[tag] = ids
		}
		ids[next.ID] = struct{}{}
	}
}

func (s *Store) unindexLocked(r *Resource) {
	for _, tag := range r.Tags {
		ids, ok := s.tags[tag]
		if !ok {
			continue
		}
		delete(ids, r.ID)
		if len(ids) == 0 {
			delete(s.tags, tag)
		}
	}
}

// FindByTag returns the live resources carrying tag, newest first. An empty
// or unknown tag yields an empty result.
func (s *Store) FindByTag(tag string) []*Resource {
	tag = strings.ToLower(strings.TrimSpace(tag))
	out := []*Resource{}
	if tag == "" {
		return out
	}

	s.tagMu.RLock()
	ids := make([]string, 0, len(s.tags[tag]))
	for id := range s.tags[tag] {
		ids = append(ids, id)
	}
	s.tagMu.RUnlock()

	for _, id := range ids {
		if r, ok := s.Lookup(id); ok {
			out = append(out, r)
		}
	}
	dimension.SortNewestFirst(out)
	return out
}

// TagCount returns the number of distinct tags in the index.
func (s *Store) TagCount() int {
	s.tagMu.RLock()
	defer s.tagMu.RUnlock()
	return len(s.tags)
}

// Tags returns every indexed tag, sorted.
func (s *Store) Tags() []string {
	s.tagMu.RLock()
	defer s.tagMu.RUnlock()

	out := make([]string, 0, len(s.tags))
	for tag := range s.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// MarkAccessed stamps the last-accessed time and publishes an accessed
// notification instead of an updated one.
func (s *Store) MarkAccessed(ctx context.Context, id string) (*Resource, error) {
	return s.UpdateAs(ctx, id, events.Accessed, func(r *Resource) error {
		r.LastAccessed = s.Now()
		return nil
	})
}

// Recent returns the most recently accessed resources, falling back to the
// update time for resources never accessed.
func (s *Store) Recent(limit int) []*Resource {
	out := s.List(nil)
	sort.SliceStable(out, func(i, j int) bool {
		return lastTouched(out[i]).After(lastTouched(out[j]))
	})
	return dimension.Truncate(out, limit)
}

func lastTouched(r *Resource) time.Time {
	if r.LastAccessed.After(r.UpdatedAt) {
		return r.LastAccessed
	}
	return r.UpdatedAt
}

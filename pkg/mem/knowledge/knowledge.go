// Package knowledge is the knowledge vault: confidence-weighted facts grouped by domain.
package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/dimmem/pkg/embedding"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Search scoring
const (
	// SubstringBonus is added when the query text appears in an entry
	SubstringBonus = 0.5

	// SimilarityFloor is the lowest cosine similarity that contributes to a score
	SimilarityFloor = 0.2
)

// DefaultDomain is used for entries created without a domain.
const DefaultDomain = "general"

// Entry is a knowledge vault record.
type Entry struct {
	dimension.Header
	Domain        string    `json:"domain"`
	Topic         string    `json:"topic"`
	Content       string    `json:"content"`
	Source        string    `json:"source,omitempty"`
	Confidence    float64   `json:"confidence"`
	Embedding     []float32 `json:"embedding,omitempty"`
	LastValidated time.Time `json:"last_validated,omitempty"`
}

// Base implements dimension.Record.
func (e *Entry) Base() *dimension.Header { return &e.Header }

// Clone implements dimension.Record.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Embedding = dimension.CloneFloats(e.Embedding)
	return &c
}

func (e *Entry) embeddingText() string {
	if e.Topic == "" {
		return e.Content
	}
	return e.Topic + ": " + e.Content
}

// Scored pairs an entry with its search score.
type Scored struct {
	Entry *Entry
	Score float64
}

// Store is the knowledge vault dimension.
type Store struct {
	*dimension.Store[*Entry]

	settings dimension.Settings

	domainMu sync.RWMutex
	domains  map[string]map[string]struct{}
}

// NewStore creates the knowledge vault over backend.
func NewStore(backend recordstore.Store, opts ...dimension.Option) *Store {
	settings := dimension.ApplyOptions(opts...)
	s := &Store{
		settings: settings,
		domains:  make(map[string]map[string]struct{}),
	}
	s.Store = dimension.New[*Entry](backend, dimension.Options[*Entry]{
		Dimension: events.Knowledge,
		Table:     recordstore.TableKnowledge,
		New:       func() *Entry { return &Entry{} },
		Text:      func(e *Entry) string { return e.Domain + "\n" + e.Topic + "\n" + e.Content },
		IDFunc:    settings.IDFunc,
		Now:       settings.Now,
		Hooks: dimension.Hooks[*Entry]{
			BeforeCreate: func(ctx context.Context, e *Entry) error {
				normalize(e)
				e.Embedding = s.settings.Embed(ctx, e.embeddingText())
				return nil
			},
			BeforeUpdate: func(ctx context.Context, prev, next *Entry) error {
				normalize(next)
				if next.embeddingText() != prev.embeddingText() {
					next.Embedding = s.settings.Embed(ctx, next.embeddingText())
				}
				return nil
			},
			AfterPut:    s.afterPut,
			AfterRemove: s.afterRemove,
		},
	})
	return s
}

func normalize(e *Entry) {
	e.Domain = strings.TrimSpace(e.Domain)
	if e.Domain == "" {
		e.Domain = DefaultDomain
	}
	e.Confidence = Clamp(e.Confidence)
}

// Clamp limits a confidence to [0,1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// afterPut fully removes the previous domain entry before inserting the new one.
func (s *Store) afterPut(prev, next *Entry, existed bool) {
	s.domainMu.Lock()
	defer s.domainMu.Unlock()

	if existed {
		s.unindexLocked(prev)
	}
	ids, ok := s.domains[next.Domain]
	if !ok {
		ids = make(map[string]struct{})
		s.domains[next.Domain] = ids
	}
	ids[next.ID] = struct{}{}
}

func (s *Store) afterRemove(e *Entry) {
	s.domainMu.Lock()
	defer s.domainMu.Unlock()
	s.unindexLocked(e)
}

func (s *Store) unindexLocked(e *Entry) {
	ids, ok := s.domains[e.Domain]
	if !ok {
		return
	}
	delete(ids, e.ID)
	if len(ids) == 0 {
		delete(s.domains, e.Domain)
	}
}

// Validate sets the entry's confidence, clamped to [0,1], and stamps its
// validation time. Content is left untouched.
func (s *Store) Validate(ctx context.Context, id string, confidence float64) (*Entry, error) {
	return s.Update(ctx, id, func(e *Entry) error {
		e.Confidence = Clamp(confidence)
		e.LastValidated = s.Now()
		return nil
	})
}

// FindByDomain returns the entries of domain, newest first.
func (s *Store) FindByDomain(domain string) []*Entry {
	s.domainMu.RLock()
	ids := make([]string, 0, len(s.domains[domain]))
	for id := range s.domains[domain] {
		ids = append(ids, id)
	}
	s.domainMu.RUnlock()

	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.Lookup(id); ok {
			out = append(out, e)
		}
	}
	dimension.SortNewestFirst(out)
	return out
}

// Domains returns every indexed domain, sorted.
func (s *Store) Domains() []string {
	s.domainMu.RLock()
	defer s.domainMu.RUnlock()

	out := make([]string, 0, len(s.domains))
	for d := range s.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DomainCount returns the number of indexed domains.
func (s *Store) DomainCount() int {
	s.domainMu.RLock()
	defer s.domainMu.RUnlock()
	return len(s.domains)
}

// Search ranks entries by SearchScored and drops the scores.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Entry, error) {
	scored, err := s.SearchScored(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, len(scored))
	for i, sc := range scored {
		out[i] = sc.Entry
	}
	return out, nil
}

// SearchScored scores every entry as SubstringBonus when the query appears in
// its domain, topic or content, plus cosine similarity times confidence when
// both the query and the entry have embeddings and the similarity reaches
// SimilarityFloor. Entries scoring zero are dropped; the rest are returned
// best first. An empty query returns every entry, newest first.
func (s *Store) SearchScored(ctx context.Context, query string, limit int) ([]Scored, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	entries := s.List(nil)

	if q == "" {
		out := make([]Scored, len(entries))
		for i, e := range entries {
			out[i] = Scored{Entry: e, Score: SubstringBonus}
		}
		return dimension.Truncate(out, limit), ctx.Err()
	}

	qvec := s.settings.Embed(ctx, query)

	var out []Scored
	for _, e := range entries {
		score := 0.0
		if strings.Contains(strings.ToLower(e.Domain+"\n"+e.Topic+"\n"+e.Content), q) {
			score += SubstringBonus
		}
		if qvec != nil && e.Embedding != nil {
			if cos := embedding.Cosine(qvec, e.Embedding); cos >= SimilarityFloor {
				score += cos * e.Confidence
			}
		}
		if score > 0 {
			out = append(out, Scored{Entry: e, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.Confidence > out[j].Entry.Confidence
	})
	return dimension.Truncate(out, limit), ctx.Err()
}

// Package semantic stores concepts and the graph induced by their relationships.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	"github.com/lexlapax/dimmem/pkg/mem/vectorindex"
)

// Relationship is a directed, typed edge to another concept. The target is a
// weak reference and may name a concept that no longer exists.
type Relationship struct {
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// Concept is a semantic memory.
type Concept struct {
	dimension.Header
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Category      string         `json:"category,omitempty"`
	Confidence    float64        `json:"confidence"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Embedding     []float32      `json:"embedding,omitempty"`
}

// Base implements dimension.Record.
func (c *Concept) Base() *dimension.Header { return &c.Header }

// Clone implements dimension.Record.
func (c *Concept) Clone() *Concept {
	out := *c
	out.Header = c.Header.Clone()
	if c.Relationships != nil {
		out.Relationships = append([]Relationship(nil), c.Relationships...)
	}
	out.Embedding = dimension.CloneFloats(c.Embedding)
	return &out
}

// EmbeddingText is the text a concept's embedding is computed from.
func (c *Concept) EmbeddingText() string {
	if c.Description == "" {
		return c.Name
	}
	return c.Name + ": " + c.Description
}

// Config toggles semantic store features.
type Config struct {
	// EnableVectorSearch indexes concept embeddings for SearchSimilar
	EnableVectorSearch bool
}

// Store is the semantic memory dimension.
type Store struct {
	*dimension.Store[*Concept]

	settings dimension.Settings
	vectors  *vectorindex.Index

	// adjacency[a][b] counts the relationships between a and b in either
	// direction. Both directions are always present.
	graphMu   sync.RWMutex
	adjacency map[string]map[string]int
}

// NewStore creates the semantic store over backend.
func NewStore(backend recordstore.Store, config Config, opts ...dimension.Option) (*Store, error) {
	settings := dimension.ApplyOptions(opts...)
	s := &Store{
		settings:  settings,
		adjacency: make(map[string]map[string]int),
	}

	if config.EnableVectorSearch {
		idx, err := vectorindex.New(string(events.Semantic))
		if err != nil {
			return nil, err
		}
		s.vectors = idx
	}

	s.Store = dimension.New[*Concept](backend, dimension.Options[*Concept]{
		Dimension: events.Semantic,
		Table:     recordstore.TableSemantic,
		New:       func() *Concept { return &Concept{} },
		Text:      (*Concept).EmbeddingText,
		IDFunc:    settings.IDFunc,
		Now:       settings.Now,
		Hooks: dimension.Hooks[*Concept]{
			BeforeCreate: s.beforeCreate,
			BeforeUpdate: s.beforeUpdate,
			AfterPut:     s.afterPut,
			AfterRemove:  s.afterRemove,
		},
	})
	return s, nil
}

func (s *Store) beforeCreate(ctx context.Context, c *Concept) error {
	if err := normalize(c); err != nil {
		return err
	}
	c.Embedding = s.settings.Embed(ctx, c.EmbeddingText())
	return nil
}

func (s *Store) beforeUpdate(ctx context.Context, prev, next *Concept) error {
	if err := normalize(next); err != nil {
		return err
	}
	if next.EmbeddingText() != prev.EmbeddingText() {
		next.Embedding = s.settings.Embed(ctx, next.EmbeddingText())
	}
	return nil
}

func normalize(c *Concept) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("concept name is required: %w", errors.ErrValidation)
	}
	c.Confidence = clamp01(c.Confidence)
	for i := range c.Relationships {
		c.Relationships[i].Strength = clamp01(c.Relationships[i].Strength)
	}
	return nil
}

func (s *Store) afterPut(prev, next *Concept, existed bool) {
	s.graphMu.Lock()
	if existed {
		s.unlinkLocked(prev)
	}
	s.linkLocked(next)
	s.graphMu.Unlock()

	if s.vectors != nil {
		if _, err := s.vectors.Upsert(context.Background(), next.ID, next.EmbeddingText(), next.Embedding); err != nil {
			log.Warn("Failed to index concept embedding", "id", next.ID, "error", err)
		}
	}
}

func (s *Store) afterRemove(c *Concept) {
	s.graphMu.Lock()
	s.unlinkLocked(c)
	s.graphMu.Unlock()

	if s.vectors != nil {
		if err := s.vectors.Remove(context.Background(), c.ID); err != nil {
			log.Warn("Failed to remove concept embedding", "id", c.ID, "error", err)
		}
	}
}

func (s *Store) linkLocked(c *Concept) {
	for _, rel := range c.Relationships {
		if rel.TargetID == "" || rel.TargetID == c.ID {
			continue
		}
		s.addEdgeLocked(c.ID, rel.TargetID)
		s.addEdgeLocked(rel.TargetID, c.ID)
	}
}

func (s *Store) unlinkLocked(c *Concept) {
	for _, rel := range c.Relationships {
		if rel.TargetID == "" || rel.TargetID == c.ID {
			continue
		}
		s.removeEdgeLocked(c.ID, rel.TargetID)
		s.removeEdgeLocked(rel.TargetID, c.ID)
	}
}

func (s *Store) addEdgeLocked(from, to string) {
	edges, ok := s.adjacency[from]
	if !ok {
		edges = make(map[string]int)
		s.adjacency[from] = edges
	}
	edges[to]++
}

func (s *Store) removeEdgeLocked(from, to string) {
	edges, ok := s.adjacency[from]
	if !ok {
		return
	}
	if edges[to] <= 1 {
		delete(edges, to)
	} else {
		edges[to]--
	}
	if len(edges) == 0 {
		delete(s.adjacency, from)
	}
}

// GraphSize returns the number of directed adjacency entries.
func (s *Store) GraphSize() int {
	s.graphMu.RLock()
	defer s.graphMu.RUnlock()

	n := 0
	for _, edges := range s.adjacency {
		n += len(edges)
	}
	return n
}

// Neighbors returns the ids adjacent to id in either direction, sorted.
func (s *Store) Neighbors(id string) []string {
	s.graphMu.RLock()
	defer s.graphMu.RUnlock()
	return s.neighborsLocked(id)
}

func (s *Store) neighborsLocked(id string) []string {
	out := make([]string, 0, len(s.adjacency[id]))
	for n := range s.adjacency[id] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FindRelated walks the concept graph breadth first from id, up to depth
// hops, and returns each reachable live concept once, nearest first. The
// starting concept is never included; depth <= 0 yields no concepts.
func (s *Store) FindRelated(ctx context.Context, id string, depth int) ([]*Concept, error) {
	if depth <= 0 {
		return []*Concept{}, nil
	}

	s.graphMu.RLock()
	visited := map[string]bool{id: true}
	frontier := []string{id}
	var order []string
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range s.neighborsLocked(cur) {
				if visited[n] {
					continue
				}
				visited[n] = true
				// Dangling references are neither returned nor expanded
				if _, ok := s.Lookup(n); !ok {
					continue
				}
				order = append(order, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	s.graphMu.RUnlock()

	out := make([]*Concept, 0, len(order))
	for _, n := range order {
		if c, ok := s.Lookup(n); ok {
			out = append(out, c)
		}
	}
	return out, ctx.Err()
}

// FindByName returns the concepts named name, ignoring case and surrounding space.
func (s *Store) FindByName(name string) []*Concept {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return []*Concept{}
	}
	return s.List(func(c *Concept) bool { return strings.ToLower(c.Name) == want })
}

// Search returns concepts whose name or description contains query,
// ignoring case. Name matches rank above description matches, then higher
// confidence first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Concept, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	rank := func(c *Concept) int {
		switch {
		case q == "":
			return 1
		case strings.Contains(strings.ToLower(c.Name), q):
			return 2
		case strings.Contains(strings.ToLower(c.Description), q):
			return 1
		default:
			return 0
		}
	}

	out := s.List(func(c *Concept) bool { return rank(c) > 0 })
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri > rj
		}
		return out[i].Confidence > out[j].Confidence
	})
	return dimension.Truncate(out, limit), ctx.Err()
}

// SearchSimilar returns the concepts whose embeddings are nearest to the
// query's. Without vector search or an embedder it behaves like Search.
func (s *Store) SearchSimilar(ctx context.Context, query string, limit int) ([]*Concept, error) {
	if s.vectors == nil {
		return s.Search(ctx, query, limit)
	}

	vec := s.settings.Embed(ctx, query)
	if vec == nil {
		return s.Search(ctx, query, limit)
	}

	n := limit
	if n <= 0 {
		n = s.vectors.Count()
	}
	matches, err := s.vectors.Query(ctx, vec, n)
	if err != nil {
		log.WarnContext(ctx, "Vector search failed, using substring search", "error", err)
		return s.Search(ctx, query, limit)
	}

	out := make([]*Concept, 0, len(matches))
	for _, m := range matches {
		if c, ok := s.Lookup(m.ID); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// AddRelationship records an edge from sourceID to rel.TargetID. An existing
// edge of the same type to the same target has its strength replaced.
func (s *Store) AddRelationship(ctx context.Context, sourceID string, rel Relationship) (*Concept, error) {
	if rel.TargetID == "" {
		return nil, fmt.Errorf("relationship target is required: %w", errors.ErrValidation)
	}
	if rel.TargetID == sourceID {
		return nil, fmt.Errorf("concept %s cannot relate to itself: %w", sourceID, errors.ErrValidation)
	}

	return s.Update(ctx, sourceID, func(c *Concept) error {
		for i, existing := range c.Relationships {
			if existing.TargetID == rel.TargetID && existing.Type == rel.Type {
				c.Relationships[i].Strength = rel.Strength
				return nil
			}
		}
		c.Relationships = append(c.Relationships, rel)
		return nil
	})
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

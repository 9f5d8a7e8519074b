package mmu

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/core"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/episodic"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/knowledge"
	"github.com/lexlapax/dimmem/pkg/mem/procedural"
	"github.com/lexlapax/dimmem/pkg/mem/resource"
	"github.com/lexlapax/dimmem/pkg/mem/semantic"
)

// Weights are the fixed relevance weights of the dimensions in active retrieval.
var Weights = map[events.Dimension]float64{
	events.Core:       1.0,
	events.Episodic:   0.9,
	events.Knowledge:  0.9,
	events.Semantic:   0.8,
	events.Procedural: 0.7,
	events.Resource:   0.6,
}

// DefaultRetrievalLimit bounds each dimension's results when no limit is given.
const DefaultRetrievalLimit = 10

// RetrievalContext scopes an active retrieval.
type RetrievalContext struct {
	// UserID restricts user-owned dimensions (core, episodic) to one user
	UserID string

	// Limit bounds each dimension's results
	Limit int
}

// DimensionResult is one dimension's share of a retrieval.
type DimensionResult[T any] struct {
	Dimension events.Dimension `json:"dimension"`
	Weight    float64          `json:"weight"`
	Items     []T              `json:"items"`
	Scores    []float64        `json:"scores"`
	Count     int              `json:"count"`

	// Err is the failure that emptied this dimension, if any
	Err error `json:"-"`
}

// RetrievalResult is the combined answer of ActiveRetrieval.
type RetrievalResult struct {
	Query      string                              `json:"query"`
	Topic      string                              `json:"topic"`
	Core       DimensionResult[*core.Memory]       `json:"core"`
	Episodic   DimensionResult[*episodic.Event]    `json:"episodic"`
	Semantic   DimensionResult[*semantic.Concept]  `json:"semantic"`
	Procedural DimensionResult[*procedural.Step]   `json:"procedural"`
	Resource   DimensionResult[*resource.Resource] `json:"resource"`
	Knowledge  DimensionResult[*knowledge.Entry]   `json:"knowledge"`
}

// Total returns the number of items across dimensions.
func (r *RetrievalResult) Total() int {
	return r.Core.Count + r.Episodic.Count + r.Semantic.Count +
		r.Procedural.Count + r.Resource.Count + r.Knowledge.Count
}

// Failed lists the dimensions whose search failed.
func (r *RetrievalResult) Failed() []events.Dimension {
	var out []events.Dimension
	for _, d := range []struct {
		dim events.Dimension
		err error
	}{
		{events.Core, r.Core.Err},
		{events.Episodic, r.Episodic.Err},
		{events.Semantic, r.Semantic.Err},
		{events.Procedural, r.Procedural.Err},
		{events.Resource, r.Resource.Err},
		{events.Knowledge, r.Knowledge.Err},
	} {
		if d.err != nil {
			out = append(out, d.dim)
		}
	}
	return out
}

// ActiveRetrieval searches all six dimensions concurrently for the topic
// inferred from query. Each dimension is isolated: a failing or timed-out
// search leaves that dimension empty and the others intact. The whole
// retrieval is bounded by the configured retrieval timeout.
func (o *Orchestrator) ActiveRetrieval(ctx context.Context, query string, rc RetrievalContext) (*RetrievalResult, error) {
	if rc.Limit <= 0 {
		rc.Limit = DefaultRetrievalLimit
	}
	if rc.UserID == "" {
		rc.UserID = entity.UserFromContext(ctx, "")
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.RetrievalTimeout)
	defer cancel()

	topic := o.topics.InferTopic(ctx, query)
	res := &RetrievalResult{Query: query, Topic: topic}
	s := o.stores

	var g errgroup.Group
	g.Go(func() error {
		res.Core = runSearch(ctx, events.Core, func(ctx context.Context) ([]*core.Memory, []float64, error) {
			if rc.UserID != "" {
				return s.Core.GetByUser(rc.UserID), nil, ctx.Err()
			}
			items, err := s.Core.Search(ctx, topic, rc.Limit)
			return items, nil, err
		})
		return nil
	})
	g.Go(func() error {
		res.Episodic = runSearch(ctx, events.Episodic, func(ctx context.Context) ([]*episodic.Event, []float64, error) {
			items, err := s.Episodic.Search(ctx, topic, 0)
			if rc.UserID != "" {
				items = filter(items, func(e *episodic.Event) bool { return e.UserID == rc.UserID })
			}
			return dimension.Truncate(items, rc.Limit), nil, err
		})
		return nil
	})
	g.Go(func() error {
		res.Semantic = runSearch(ctx, events.Semantic, func(ctx context.Context) ([]*semantic.Concept, []float64, error) {
			items, err := s.Semantic.SearchSimilar(ctx, topic, rc.Limit)
			return items, nil, err
		})
		return nil
	})
	g.Go(func() error {
		res.Procedural = runSearch(ctx, events.Procedural, func(ctx context.Context) ([]*procedural.Step, []float64, error) {
			items, err := s.Procedural.Search(ctx, topic, rc.Limit)
			return items, nil, err
		})
		return nil
	})
	g.Go(func() error {
		res.Resource = runSearch(ctx, events.Resource, func(ctx context.Context) ([]*resource.Resource, []float64, error) {
			items, err := s.Resource.Search(ctx, topic, rc.Limit)
			return items, nil, err
		})
		return nil
	})
	g.Go(func() error {
		res.Knowledge = runSearch(ctx, events.Knowledge, func(ctx context.Context) ([]*knowledge.Entry, []float64, error) {
			scored, err := s.Knowledge.SearchScored(ctx, topic, rc.Limit)
			items := make([]*knowledge.Entry, len(scored))
			scores := make([]float64, len(scored))
			for i, sc := range scored {
				items[i] = sc.Entry
				scores[i] = Weights[events.Knowledge] * sc.Score
			}
			return items, scores, err
		})
		return nil
	})
	_ = g.Wait()

	log.DebugContext(ctx, "Active retrieval finished", "topic", topic, "items", res.Total(), "failed", res.Failed())
	return res, nil
}

// runSearch runs one dimension search with its own error and panic boundary.
// Items without explicit scores get the dimension weight.
func runSearch[T any](ctx context.Context, dim events.Dimension, search func(context.Context) ([]T, []float64, error)) (out DimensionResult[T]) {
	weight := Weights[dim]
	out = DimensionResult[T]{Dimension: dim, Weight: weight, Items: []T{}, Scores: []float64{}}

	defer func() {
		if r := recover(); r != nil {
			out = DimensionResult[T]{Dimension: dim, Weight: weight, Items: []T{}, Scores: []float64{}, Err: fmt.Errorf("search panicked: %v", r)}
			log.WarnContext(ctx, "Dimension search panicked", "dimension", dim, "panic", r)
		}
	}()

	items, scores, err := search(ctx)
	if err != nil {
		log.WarnContext(ctx, "Dimension search failed, returning no results", "dimension", dim, "error", err)
		out.Err = err
		return out
	}

	if len(scores) != len(items) {
		scores = make([]float64, len(items))
		for i := range scores {
			scores[i] = weight
		}
	}

	if items != nil {
		out.Items = items
		out.Scores = scores
	}
	out.Count = len(out.Items)
	return out
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

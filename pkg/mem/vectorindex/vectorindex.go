// Package vectorindex is an in-process nearest-neighbour index over record
// embeddings, backed by a chromem-go collection.
package vectorindex

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lexlapax/dimmem/pkg/log"
)

// Match is one query hit.
type Match struct {
	ID         string
	Similarity float64
}

// Index maps record ids to embeddings. All vectors share the length of the
// first one indexed; vectors of another length or with zero magnitude are
// not indexed.
type Index struct {
	mu   sync.Mutex
	name string
	col  *chromem.Collection
	dims int
	ids  map[string]struct{}
}

// New creates an empty index.
func New(name string) (*Index, error) {
	db := chromem.NewDB()

	// Embeddings are always supplied, so no embedding func is configured
	col, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create vector collection %s: %w", name, err)
	}

	return &Index{name: name, col: col, ids: make(map[string]struct{})}, nil
}

// Upsert indexes vec under id, replacing any previous vector. It reports
// whether the vector was indexed.
func (i *Index) Upsert(ctx context.Context, id, content string, vec []float32) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.removeLocked(ctx, id); err != nil {
		return false, err
	}

	if isZero(vec) {
		return false, nil
	}
	if i.dims == 0 {
		i.dims = len(vec)
	}
	if len(vec) != i.dims {
		log.Debug("Skipping vector of unexpected length", "index", i.name, "id", id, "got", len(vec), "want", i.dims)
		return false, nil
	}

	if content == "" {
		content = id
	}
	err := i.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: append([]float32(nil), vec...),
	})
	if err != nil {
		return false, fmt.Errorf("index vector %s: %w", id, err)
	}
	i.ids[id] = struct{}{}
	return true, nil
}

// Remove drops id from the index. Unknown ids are ignored.
func (i *Index) Remove(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.removeLocked(ctx, id)
}

func (i *Index) removeLocked(ctx context.Context, id string) error {
	if _, ok := i.ids[id]; !ok {
		return nil
	}
	if err := i.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("remove vector %s: %w", id, err)
	}
	delete(i.ids, id)
	return nil
}

// Query returns up to n ids most similar to vec, best first. A vector that
// cannot be compared with the index yields no matches.
func (i *Index) Query(ctx context.Context, vec []float32, n int) ([]Match, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	count := i.col.Count()
	if n > count {
		n = count
	}
	if n <= 0 || isZero(vec) || len(vec) != i.dims {
		return nil, nil
	}

	results, err := i.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index %s: %w", i.name, err)
	}

	matches := make([]Match, len(results))
	for j, r := range results {
		matches[j] = Match{ID: r.ID, Similarity: float64(r.Similarity)}
	}
	return matches, nil
}

// Count returns the number of indexed vectors.
func (i *Index) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ids)
}

func isZero(vec []float32) bool {
	for _, x := range vec {
		if x != 0 {
			return false
		}
	}
	return true
}

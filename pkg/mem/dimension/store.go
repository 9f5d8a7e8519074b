package dimension

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Hooks let a dimension manager validate records and keep secondary indexes in step.
// Every hook runs while the record's id lock is held.
type Hooks[R any] struct {
	// BeforeCreate validates or enriches a new record before it is persisted.
	BeforeCreate func(ctx context.Context, rec R) error

	// BeforeUpdate validates or enriches next (already merged) before it is persisted.
	BeforeUpdate func(ctx context.Context, prev, next R) error

	// AfterPut indexes next once it is persisted and cached. prev is the
	// zero value when existed is false.
	AfterPut func(prev, next R, existed bool)

	// AfterRemove unindexes a record once it is deleted and uncached.
	AfterRemove func(rec R)
}

// Options configure a Store.
type Options[R any] struct {
	// Dimension tags notifications and log lines.
	Dimension events.Dimension

	// Table is the recordstore table backing the store.
	Table string

	// New allocates an empty record for decoding.
	New func() R

	// Text returns the searchable text of a record for the default Search.
	Text func(R) string

	// IDFunc assigns ids to new records. Defaults to random UUIDs.
	IDFunc func() string

	// Now stamps timestamps. Defaults to time.Now in UTC.
	Now func() time.Time

	Hooks Hooks[R]
}

// Store is the generic dimension store.
//
// The cache holds every live record once Load has run. An entry is written
// only after the backend accepted the record, so the backend stays the
// source of truth.
type Store[R Record[R]] struct {
	opts    Options[R]
	backend recordstore.Store
	bus     *events.Bus
	locks   *keyedMutex

	mu    sync.RWMutex
	cache map[string]R
}

// New creates a store over backend.
func New[R Record[R]](backend recordstore.Store, opts Options[R]) *Store[R] {
	if opts.IDFunc == nil {
		opts.IDFunc = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Text == nil {
		opts.Text = func(R) string { return "" }
	}

	return &Store[R]{
		opts:    opts,
		backend: backend,
		bus:     events.NewBus(),
		locks:   newKeyedMutex(),
		cache:   make(map[string]R),
	}
}

// Dimension returns the dimension this store serves.
func (s *Store[R]) Dimension() events.Dimension {
	return s.opts.Dimension
}

// Subscribe registers a listener for this store's notifications.
func (s *Store[R]) Subscribe(l events.Listener) (unsubscribe func()) {
	return s.bus.Subscribe(l)
}

// Now returns the store clock's current time.
func (s *Store[R]) Now() time.Time {
	return s.opts.Now()
}

// Create assigns an id when the record has none, stamps timestamps, persists
// the record and only then caches and indexes it.
func (s *Store[R]) Create(ctx context.Context, input R) (R, error) {
	var zero R

	rec := input.Clone()
	h := rec.Base()
	if h.ID == "" {
		h.ID = s.opts.IDFunc()
	}

	unlock := s.locks.Lock(h.ID)
	defer unlock()

	if _, ok := s.cached(h.ID); ok {
		return zero, fmt.Errorf("%s record %s already exists: %w", s.opts.Dimension, h.ID, errors.ErrValidation)
	}

	now := s.opts.Now()
	h.CreatedAt = now
	h.UpdatedAt = now

	if s.opts.Hooks.BeforeCreate != nil {
		if err := s.opts.Hooks.BeforeCreate(ctx, rec); err != nil {
			return zero, err
		}
	}

	stored, err := s.encode(rec)
	if err != nil {
		return zero, err
	}
	if err := s.backend.Create(ctx, s.opts.Table, stored); err != nil {
		return zero, s.storeError("create", h.ID, err)
	}

	s.put(zero, rec, false)
	log.DebugContext(ctx, "Created memory record", "dimension", s.opts.Dimension, "id", h.ID)
	s.publish(events.Created, h.ID, rec)

	return rec.Clone(), nil
}

// Update merges changes into an existing record through mutate, which
// receives a private copy. A missing id fails with errors.ErrNotFound.
func (s *Store[R]) Update(ctx context.Context, id string, mutate func(R) error) (R, error) {
	return s.UpdateAs(ctx, id, events.Updated, mutate)
}

// UpdateAs is Update with a custom notification operation.
func (s *Store[R]) UpdateAs(ctx context.Context, id string, op events.Operation, mutate func(R) error) (R, error) {
	var zero R

	unlock := s.locks.Lock(id)
	defer unlock()

	prev, err := s.load(ctx, id)
	if err != nil {
		return zero, err
	}

	next := prev.Clone()
	if err := mutate(next); err != nil {
		return zero, err
	}

	// Store-owned fields survive whatever mutate did
	h := next.Base()
	h.ID = id
	h.CreatedAt = prev.Base().CreatedAt
	h.UpdatedAt = s.opts.Now()

	if s.opts.Hooks.BeforeUpdate != nil {
		if err := s.opts.Hooks.BeforeUpdate(ctx, prev, next); err != nil {
			return zero, err
		}
	}

	stored, err := s.encode(next)
	if err != nil {
		return zero, err
	}
	if err := s.backend.Update(ctx, s.opts.Table, stored); err != nil {
		return zero, s.storeError("update", id, err)
	}

	s.put(prev, next, true)
	log.DebugContext(ctx, "Updated memory record", "dimension", s.opts.Dimension, "id", id, "operation", op)
	s.publish(op, id, next)

	return next.Clone(), nil
}

// Delete removes the record from the backend, the cache and every index.
// It reports whether the record existed.
func (s *Store[R]) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	existed, err := s.backend.Delete(ctx, s.opts.Table, id)
	if err != nil {
		return false, s.storeError("delete", id, err)
	}

	s.mu.Lock()
	prev, cached := s.cache[id]
	delete(s.cache, id)
	s.mu.Unlock()

	if cached && s.opts.Hooks.AfterRemove != nil {
		s.opts.Hooks.AfterRemove(prev)
	}

	if !existed && !cached {
		return false, nil
	}

	log.DebugContext(ctx, "Deleted memory record", "dimension", s.opts.Dimension, "id", id)
	var payload any
	if cached {
		payload = prev.Clone()
	}
	s.bus.Publish(events.Event{Dimension: s.opts.Dimension, Operation: events.Deleted, ID: id, Payload: payload})

	return true, nil
}

// DeleteByMetadata deletes every record whose metadata matches all entries of
// filter and returns how many were removed. An empty filter deletes nothing.
func (s *Store[R]) DeleteByMetadata(ctx context.Context, filter map[string]interface{}) (int, error) {
	if len(filter) == 0 {
		return 0, nil
	}

	matches, err := s.backend.Find(ctx, s.opts.Table, recordstore.Filter{Metadata: filter})
	if err != nil {
		return 0, s.storeError("find", "", err)
	}

	removed := 0
	var errs []error
	for _, m := range matches {
		ok, err := s.Delete(ctx, m.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}

	return removed, errors.Join(errs...)
}

// Get returns a copy of the record. Records not yet cached are read from the
// backend, cached and indexed.
func (s *Store[R]) Get(ctx context.Context, id string) (R, error) {
	if rec, ok := s.cached(id); ok {
		return rec.Clone(), nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.load(ctx, id)
	if err != nil {
		var zero R
		return zero, err
	}
	return rec.Clone(), nil
}

// Lookup returns a cached copy without touching the backend.
func (s *Store[R]) Lookup(id string) (R, bool) {
	rec, ok := s.cached(id)
	if !ok {
		return rec, false
	}
	return rec.Clone(), true
}

// List returns copies of the cached records accepted by keep (nil keeps all),
// most recently updated first.
func (s *Store[R]) List(keep func(R) bool) []R {
	s.mu.RLock()
	out := make([]R, 0, len(s.cache))
	for _, rec := range s.cache {
		if keep == nil || keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	SortNewestFirst(out)
	return out
}

// Count returns the number of cached records.
func (s *Store[R]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Search returns records whose text contains query (case-insensitive), most
// recently updated first, truncated to limit (0 means unlimited). An empty
// query matches every record.
func (s *Store[R]) Search(ctx context.Context, query string, limit int) ([]R, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	out := s.List(func(rec R) bool {
		return q == "" || strings.Contains(strings.ToLower(s.opts.Text(rec)), q)
	})
	return Truncate(out, limit), ctx.Err()
}

// Load warms the cache and indexes from the backend and returns the number of records read.
func (s *Store[R]) Load(ctx context.Context) (int, error) {
	stored, err := s.backend.Find(ctx, s.opts.Table, recordstore.Filter{})
	if err != nil {
		return 0, s.storeError("load", "", err)
	}

	for _, r := range stored {
		rec, err := s.decode(r)
		if err != nil {
			return 0, err
		}

		unlock := s.locks.Lock(r.ID)
		prev, existed := s.cached(r.ID)
		s.put(prev, rec, existed)
		unlock()
	}

	log.DebugContext(ctx, "Loaded memory records", "dimension", s.opts.Dimension, "count", len(stored))
	return len(stored), nil
}

// load returns the cached record or reads, caches and indexes it. Callers hold the id lock.
func (s *Store[R]) load(ctx context.Context, id string) (R, error) {
	if rec, ok := s.cached(id); ok {
		return rec, nil
	}

	var zero R
	stored, err := s.backend.Get(ctx, s.opts.Table, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return zero, fmt.Errorf("%s record %s: %w", s.opts.Dimension, id, errors.ErrNotFound)
		}
		return zero, s.storeError("get", id, err)
	}

	rec, err := s.decode(stored)
	if err != nil {
		return zero, err
	}

	s.put(zero, rec, false)
	return rec, nil
}

func (s *Store[R]) cached(id string) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cache[id]
	return rec, ok
}

// put caches rec and runs the index hook.
func (s *Store[R]) put(prev, next R, existed bool) {
	s.mu.Lock()
	s.cache[next.Base().ID] = next.Clone()
	s.mu.Unlock()

	if s.opts.Hooks.AfterPut != nil {
		s.opts.Hooks.AfterPut(prev, next, existed)
	}
}

func (s *Store[R]) publish(op events.Operation, id string, rec R) {
	s.bus.Publish(events.Event{
		Dimension: s.opts.Dimension,
		Operation: op,
		ID:        id,
		Payload:   rec.Clone(),
	})
}

func (s *Store[R]) encode(rec R) (recordstore.Record, error) {
	h := rec.Base()
	data, err := json.Marshal(rec)
	if err != nil {
		return recordstore.Record{}, fmt.Errorf("failed to encode %s record: %w", s.opts.Dimension, err)
	}

	return recordstore.Record{
		ID:        h.ID,
		Data:      data,
		Metadata:  h.Clone().Metadata,
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}, nil
}

func (s *Store[R]) decode(stored recordstore.Record) (R, error) {
	rec := s.opts.New()
	if err := json.Unmarshal(stored.Data, rec); err != nil {
		var zero R
		return zero, fmt.Errorf("failed to decode %s record %s: %w", s.opts.Dimension, stored.ID, err)
	}

	h := rec.Base()
	h.ID = stored.ID
	h.Metadata = stored.Metadata
	h.CreatedAt = stored.CreatedAt
	h.UpdatedAt = stored.UpdatedAt
	return rec, nil
}

// storeError keeps validation and not-found failures as they are and marks
// everything else as a store failure.
func (s *Store[R]) storeError(op, id string, err error) error {
	if errors.Is(err, errors.ErrValidation) || errors.Is(err, errors.ErrNotFound) {
		return err
	}
	return errors.Mark(fmt.Errorf("%s %s %s: %w", s.opts.Dimension, op, id, err), errors.ErrStore)
}

// SortNewestFirst orders records by UpdatedAt descending, then id.
func SortNewestFirst[R Record[R]](recs []R) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].Base(), recs[j].Base()
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// Truncate returns at most limit elements of s; limit <= 0 means no limit.
func Truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

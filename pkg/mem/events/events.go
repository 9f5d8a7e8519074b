// Package events defines the change-notification stream shared by every
// memory dimension.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/lexlapax/dimmem/pkg/log"
)

// Dimension names one of the six memory kinds.
type Dimension string

// Memory dimensions
const (
	Core       Dimension = "core"
	Episodic   Dimension = "episodic"
	Semantic   Dimension = "semantic"
	Procedural Dimension = "procedural"
	Resource   Dimension = "resource"
	Knowledge  Dimension = "knowledge"
)

// AllDimensions lists the dimensions in retrieval-weight order.
var AllDimensions = []Dimension{Core, Episodic, Knowledge, Semantic, Procedural, Resource}

// Operation is the kind of change a notification reports.
type Operation string

// Change operations
const (
	Created  Operation = "created"
	Updated  Operation = "updated"
	Deleted  Operation = "deleted"
	Accessed Operation = "accessed"
)

// Event is a single change notification.
type Event struct {
	Dimension Dimension
	Operation Operation
	// ID is the affected record id
	ID string
	// Payload is a copy of the affected record; for deletions, the last
	// known copy or nil when the record was never cached
	Payload any
	At      time.Time
}

// Listener receives events synchronously on the publishing goroutine.
type Listener func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every current subscriber in subscription order.
// A panicking listener is logged and skipped.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, b.subs[id])
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		deliver(l, e)
	}
}

func deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Memory event listener panicked",
				"dimension", e.Dimension,
				"operation", e.Operation,
				"id", e.ID,
				"panic", r)
		}
	}()
	l(e)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

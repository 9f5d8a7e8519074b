// Package recordstore defines the durable, table-per-dimension storage that
// sits behind every dimension store. The memory subsystem owns the record
// shape; adapters own the storage engine.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Dimension tables
const (
	TableCore       = "core_memory"
	TableEpisodic   = "episodic_memory"
	TableSemantic   = "semantic_memory"
	TableProcedural = "procedural_memory"
	TableResource   = "resource_memory"
	TableKnowledge  = "knowledge_vault"
)

// Tables lists every dimension table.
var Tables = []string{TableCore, TableEpisodic, TableSemantic, TableProcedural, TableResource, TableKnowledge}

// Record is one persisted dimension record.
type Record struct {
	// ID is the unique identifier assigned by the dimension store
	ID string

	// Data is the JSON-encoded dimension record
	Data json.RawMessage

	// Metadata is copied out of the record so adapters can filter on it
	Metadata map[string]interface{}

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter selects records by metadata equality.
type Filter struct {
	// Metadata entries must all match (logical AND)
	Metadata map[string]interface{}

	// Limit caps the result size (0 means unlimited)
	Limit int
}

// Store is the contract every durable backend implements.
type Store interface {
	// Create persists a new record. Creating an existing id fails with errors.ErrValidation.
	Create(ctx context.Context, table string, record Record) error

	// Update replaces an existing record. A missing id fails with errors.ErrNotFound.
	Update(ctx context.Context, table string, record Record) error

	// Delete removes a record and reports whether it existed.
	Delete(ctx context.Context, table string, id string) (bool, error)

	// Get fetches a record by id. A missing id fails with errors.ErrNotFound.
	Get(ctx context.Context, table string, id string) (Record, error)

	// Find returns records matching filter, most recently updated first.
	Find(ctx context.Context, table string, filter Filter) ([]Record, error)
}

// MatchMetadata reports whether every filter entry is present in metadata with
// an equal value. Values are compared by their JSON encoding so that numbers
// survive storage round trips (1 == 1.0).
func MatchMetadata(metadata, filter map[string]interface{}) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b interface{}) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	if bytes.Equal(ab, bb) {
		return true
	}
	// Normalize through a generic decode so 1 and 1.0 compare equal
	var av, bv interface{}
	if json.Unmarshal(ab, &av) != nil || json.Unmarshal(bb, &bv) != nil {
		return false
	}
	an, _ := json.Marshal(av)
	bn, _ := json.Marshal(bv)
	return bytes.Equal(an, bn)
}

// SortNewestFirst orders records by UpdatedAt descending, then by id for stability.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// ApplyFilter filters and limits records in place order.
func ApplyFilter(records []Record, filter Filter) []Record {
	out := records[:0]
	for _, r := range records {
		if len(filter.Metadata) > 0 && !MatchMetadata(r.Metadata, filter.Metadata) {
			continue
		}
		out = append(out, r)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	bolt "go.etcd.io/bbolt"
)

// BoltStore implements the recordstore.Store interface using a BoltDB database.
// Each dimension table is a top-level bucket keyed by record id.
type BoltStore struct {
	db *bolt.DB
}

// storedRecord is the on-disk encoding of a record.
type storedRecord struct {
	ID        string                 `json:"id"`
	Data      json.RawMessage        `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewBoltStore creates a new BoltStore with the given database connection.
func NewBoltStore(db *bolt.DB) *BoltStore {
	store := &BoltStore{
		db: db,
	}

	log.Debug("Initialized BoltDB record store adapter",
		"db_path", db.Path(),
		"read_only", db.IsReadOnly(),
	)

	return store
}

// Open opens (or creates) a BoltDB file and initializes every dimension bucket.
func Open(ctx context.Context, path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB database: %w", err)
	}

	store := NewBoltStore(db)
	if err := store.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Initialize creates the dimension buckets if they don't exist.
func (b *BoltStore) Initialize(ctx context.Context) error {
	log.DebugContext(ctx, "Initializing BoltDB store buckets")

	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, table := range recordstore.Tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", table, err)
			}
		}
		return nil
	})

	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize BoltDB buckets", "error", err)
		return err
	}

	return nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Create persists a new record.
func (b *BoltStore) Create(ctx context.Context, table string, record recordstore.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record ID is required: %w", errors.ErrValidation)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", table, err)
		}

		if bucket.Get([]byte(record.ID)) != nil {
			return fmt.Errorf("record %s already exists in %s: %w", record.ID, table, errors.ErrValidation)
		}

		return put(bucket, record)
	})
}

// Update replaces an existing record.
func (b *BoltStore) Update(ctx context.Context, table string, record recordstore.Record) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil || bucket.Get([]byte(record.ID)) == nil {
			return fmt.Errorf("record %s in %s: %w", record.ID, table, errors.ErrNotFound)
		}

		return put(bucket, record)
	})
}

// Delete removes a record from the BoltDB database.
func (b *BoltStore) Delete(ctx context.Context, table string, id string) (bool, error) {
	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return nil // Nothing to delete
		}

		existed = true
		return bucket.Delete([]byte(id))
	})

	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}

	return existed, nil
}

// Get fetches a record by id.
func (b *BoltStore) Get(ctx context.Context, table string, id string) (recordstore.Record, error) {
	var record recordstore.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return fmt.Errorf("record %s in %s: %w", id, table, errors.ErrNotFound)
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record %s in %s: %w", id, table, errors.ErrNotFound)
		}

		var err error
		record, err = decode(data)
		return err
	})

	return record, err
}

// Find scans a table and returns matching records, most recently updated first.
func (b *BoltStore) Find(ctx context.Context, table string, filter recordstore.Filter) ([]recordstore.Record, error) {
	var records []recordstore.Record

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			// No bucket yet, return empty result
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			record, err := decode(v)
			if err != nil {
				return err
			}

			if len(filter.Metadata) > 0 && !recordstore.MatchMetadata(record.Metadata, filter.Metadata) {
				return nil
			}

			records = append(records, record)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}

	recordstore.SortNewestFirst(records)
	return recordstore.ApplyFilter(records, recordstore.Filter{Limit: filter.Limit}), nil
}

func put(bucket *bolt.Bucket, record recordstore.Record) error {
	data, err := json.Marshal(storedRecord{
		ID:        record.ID,
		Data:      record.Data,
		Metadata:  record.Metadata,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return bucket.Put([]byte(record.ID), data)
}

func decode(data []byte) (recordstore.Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return recordstore.Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return recordstore.Record{
		ID:        stored.ID,
		Data:      stored.Data,
		Metadata:  stored.Metadata,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

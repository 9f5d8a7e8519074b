package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Operation names accepted by FailOn.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpGet    = "get"
	OpFind   = "find"
)

// MockStore is an in-memory implementation of the recordstore.Store interface
// used for testing and development.
type MockStore struct {
	// records[table][id] = Record
	records map[string]map[string]recordstore.Record

	// failures maps "table/op" (or "*/op") to an injected error
	failures map[string]error

	// calls counts operations per "table/op"
	calls map[string]int

	mutex sync.RWMutex
}

// NewMockStore creates a new instance of the MockStore.
func NewMockStore() *MockStore {
	store := &MockStore{
		records:  make(map[string]map[string]recordstore.Record),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}

	log.Debug("Initialized mock record store adapter")
	return store
}

// FailOn makes every subsequent op on table return err. Use "*" for any table
// and a nil err to clear the failure.
func (m *MockStore) FailOn(table, op string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := table + "/" + op
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// Calls returns how many times op ran against table.
func (m *MockStore) Calls(table, op string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.calls[table+"/"+op]
}

// Len returns the number of records in table.
func (m *MockStore) Len(table string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.records[table])
}

// check records the call and returns any injected failure. Callers hold the lock.
func (m *MockStore) check(table, op string) error {
	m.calls[table+"/"+op]++
	if err, ok := m.failures[table+"/"+op]; ok {
		return err
	}
	if err, ok := m.failures["*/"+op]; ok {
		return err
	}
	return nil
}

// Create implements the recordstore.Store interface.
func (m *MockStore) Create(ctx context.Context, table string, record recordstore.Record) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(table, OpCreate); err != nil {
		return err
	}
	if record.ID == "" {
		return fmt.Errorf("record ID is required: %w", errors.ErrValidation)
	}

	if _, exists := m.records[table]; !exists {
		m.records[table] = make(map[string]recordstore.Record)
	}
	if _, exists := m.records[table][record.ID]; exists {
		return fmt.Errorf("record %s already exists in %s: %w", record.ID, table, errors.ErrValidation)
	}

	m.records[table][record.ID] = copyRecord(record)

	log.DebugContext(ctx, "Stored record in mock store",
		"table", table,
		"record_id", record.ID,
		"data_length", len(record.Data),
	)
	return nil
}

// Update implements the recordstore.Store interface.
func (m *MockStore) Update(ctx context.Context, table string, record recordstore.Record) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(table, OpUpdate); err != nil {
		return err
	}
	if _, exists := m.records[table][record.ID]; !exists {
		return fmt.Errorf("record %s in %s: %w", record.ID, table, errors.ErrNotFound)
	}

	m.records[table][record.ID] = copyRecord(record)
	return nil
}

// Delete implements the recordstore.Store interface.
func (m *MockStore) Delete(ctx context.Context, table string, id string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(table, OpDelete); err != nil {
		return false, err
	}
	if _, exists := m.records[table][id]; !exists {
		return false, nil
	}

	delete(m.records[table], id)
	return true, nil
}

// Get implements the recordstore.Store interface.
func (m *MockStore) Get(ctx context.Context, table string, id string) (recordstore.Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(table, OpGet); err != nil {
		return recordstore.Record{}, err
	}
	record, exists := m.records[table][id]
	if !exists {
		return recordstore.Record{}, fmt.Errorf("record %s in %s: %w", id, table, errors.ErrNotFound)
	}
	return copyRecord(record), nil
}

// Find implements the recordstore.Store interface.
func (m *MockStore) Find(ctx context.Context, table string, filter recordstore.Filter) ([]recordstore.Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(table, OpFind); err != nil {
		return nil, err
	}

	records := make([]recordstore.Record, 0, len(m.records[table]))
	for _, record := range m.records[table] {
		records = append(records, copyRecord(record))
	}

	recordstore.SortNewestFirst(records)
	return recordstore.ApplyFilter(records, filter), nil
}

func copyRecord(r recordstore.Record) recordstore.Record {
	out := r
	out.Data = append([]byte(nil), r.Data...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

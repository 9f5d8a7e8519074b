package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/migrations"
)

// SQLiteStore implements the recordstore.Store interface using a SQLite database.
// Each dimension lives in its own table created by the migrations package.
type SQLiteStore struct {
	db *sqlx.DB
}

// row mirrors a dimension table row.
type row struct {
	ID        string         `db:"id"`
	Data      string         `db:"data"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

var knownTables = func() map[string]bool {
	m := make(map[string]bool, len(recordstore.Tables))
	for _, t := range recordstore.Tables {
		m[t] = true
	}
	return m
}()

// NewSQLiteStore creates a new SQLiteStore with the given database connection.
// The schema must already be migrated.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{
		db: db,
	}
}

// Open opens the SQLite file at path, applies migrations and returns the store.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent dimension writes
	db.SetMaxOpenConns(1)

	if err := migrations.Up(db.DB, migrations.DriverSQLite); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("Initialized SQLite record store adapter", "path", path)
	return NewSQLiteStore(db), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create persists a new record.
func (s *SQLiteStore) Create(ctx context.Context, table string, record recordstore.Record) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if record.ID == "" {
		return fmt.Errorf("record ID is required: %w", errors.ErrValidation)
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, data, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		record.ID, string(record.Data), metadata, record.CreatedAt.UTC(), record.UpdatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("record %s already exists in %s: %w", record.ID, table, errors.ErrValidation)
		}
		return fmt.Errorf("failed to store record: %w", err)
	}

	return nil
}

// Update replaces an existing record.
func (s *SQLiteStore) Update(ctx context.Context, table string, record recordstore.Record) error {
	if err := checkTable(table); err != nil {
		return err
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET data = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		string(record.Data), metadata, record.UpdatedAt.UTC(), record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("record %s in %s: %w", record.ID, table, errors.ErrNotFound)
	}

	return nil
}

// Delete removes a record and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, table string, id string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Get fetches a record by id.
func (s *SQLiteStore) Get(ctx context.Context, table string, id string) (recordstore.Record, error) {
	if err := checkTable(table); err != nil {
		return recordstore.Record{}, err
	}

	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT id, data, metadata, created_at, updated_at FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return recordstore.Record{}, fmt.Errorf("record %s in %s: %w", id, table, errors.ErrNotFound)
		}
		return recordstore.Record{}, fmt.Errorf("failed to get record: %w", err)
	}

	return r.toRecord()
}

// Find returns records matching filter, most recently updated first.
// Metadata filtering happens after the scan since metadata is stored as JSON text.
func (s *SQLiteStore) Find(ctx context.Context, table string, filter recordstore.Filter) ([]recordstore.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, data, metadata, created_at, updated_at FROM `+table+` ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}

	records := make([]recordstore.Record, 0, len(rows))
	for _, r := range rows {
		record, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	recordstore.SortNewestFirst(records)
	return recordstore.ApplyFilter(records, filter), nil
}

func (r row) toRecord() (recordstore.Record, error) {
	record := recordstore.Record{
		ID:        r.ID,
		Data:      json.RawMessage(r.Data),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &record.Metadata); err != nil {
			return recordstore.Record{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return record, nil
}

func encodeMetadata(metadata map[string]interface{}) (sql.NullString, error) {
	if metadata == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func checkTable(table string) error {
	if !knownTables[table] {
		return fmt.Errorf("unknown table %q: %w", table, errors.ErrInvalidInput)
	}
	return nil
}

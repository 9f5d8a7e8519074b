package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/migrations"
)

const uniqueViolation = "23505"

// PostgresStore implements the recordstore.Store interface using a PostgreSQL database.
// Metadata is stored as JSONB so Find can push filters down with the containment operator.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var knownTables = func() map[string]bool {
	m := make(map[string]bool, len(recordstore.Tables))
	for _, t := range recordstore.Tables {
		m[t] = true
	}
	return m
}()

// NewPostgresStore creates a new PostgresStore with the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
	}
}

// Open migrates the database at dsn and connects a pool to it.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	sqlDB, err := migrations.OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	err = migrations.Up(sqlDB, migrations.DriverPostgres)
	sqlDB.Close()
	if err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	log.Debug("Initialized PostgreSQL record store adapter", "max_conns", config.MaxConns)
	return NewPostgresStore(pool), nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// Create persists a new record.
func (p *PostgresStore) Create(ctx context.Context, table string, record recordstore.Record) error {
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

	_, err = p.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, data, metadata, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		record.ID, string(record.Data), metadata, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("record %s already exists in %s: %w", record.ID, table, errors.ErrValidation)
		}
		return fmt.Errorf("failed to store record: %w", err)
	}

	return nil
}

// Update replaces an existing record.
func (p *PostgresStore) Update(ctx context.Context, table string, record recordstore.Record) error {
	if err := checkTable(table); err != nil {
		return err
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE `+table+` SET data = $1, metadata = $2, updated_at = $3 WHERE id = $4`,
		string(record.Data), metadata, record.UpdatedAt, record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s in %s: %w", record.ID, table, errors.ErrNotFound)
	}

	return nil
}

// Delete removes a record and reports whether it existed.
func (p *PostgresStore) Delete(ctx context.Context, table string, id string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Get fetches a record by id.
func (p *PostgresStore) Get(ctx context.Context, table string, id string) (recordstore.Record, error) {
	if err := checkTable(table); err != nil {
		return recordstore.Record{}, err
	}

	row := p.pool.QueryRow(ctx,
		`SELECT id, data, metadata, created_at, updated_at FROM `+table+` WHERE id = $1`, id)

	record, err := scanRecord(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return recordstore.Record{}, fmt.Errorf("record %s in %s: %w", id, table, errors.ErrNotFound)
		}
		return recordstore.Record{}, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// Find returns records matching filter, most recently updated first.
func (p *PostgresStore) Find(ctx context.Context, table string, filter recordstore.Filter) ([]recordstore.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	query := `SELECT id, data, metadata, created_at, updated_at FROM ` + table
	var params []interface{}

	if len(filter.Metadata) > 0 {
		containment, err := json.Marshal(filter.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
		}
		query += ` WHERE metadata @> $1::jsonb`
		params = append(params, string(containment))
	}

	query += ` ORDER BY updated_at DESC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := p.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}
	defer rows.Close()

	var records []recordstore.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (recordstore.Record, error) {
	var (
		record    recordstore.Record
		data      []byte
		metadata  []byte
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(&record.ID, &data, &metadata, &createdAt, &updatedAt); err != nil {
		return recordstore.Record{}, err
	}

	record.Data = json.RawMessage(data)
	record.CreatedAt = createdAt.UTC()
	record.UpdatedAt = updatedAt.UTC()

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return recordstore.Record{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		if len(record.Metadata) == 0 {
			record.Metadata = nil
		}
	}

	return record, nil
}

func encodeMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func checkTable(table string) error {
	if !knownTables[table] {
		return fmt.Errorf("unknown table %q: %w", table, errors.ErrInvalidInput)
	}
	return nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema creates the tables that model documents, tabs and rows.
const Schema = `
CREATE TABLE IF NOT EXISTS sheet_sources (
	document_id TEXT    NOT NULL,
	position    INTEGER NOT NULL,
	title       TEXT    NOT NULL,
	header      JSONB   NOT NULL DEFAULT '[]'::jsonb,
	PRIMARY KEY (document_id, position),
	UNIQUE (document_id, title)
);

CREATE TABLE IF NOT EXISTS sheet_rows (
	id          BIGSERIAL   PRIMARY KEY,
	document_id TEXT        NOT NULL,
	title       TEXT        NOT NULL,
	record      JSONB       NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS sheet_rows_document_title_idx ON sheet_rows (document_id, title, id);
`

// PostgresOpener stores documents in PostgreSQL.
type PostgresOpener struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPool creates a new pgxpool connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// NewPostgresOpener wraps an existing pool.
func NewPostgresOpener(pool *pgxpool.Pool, logger *zap.Logger) *PostgresOpener {
	return &PostgresOpener{pool: pool, logger: logger}
}

// Migrate creates the storage tables if they do not exist.
func (o *PostgresOpener) Migrate(ctx context.Context) error {
	if _, err := o.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// CreateSource registers a tab with its header at the next free position.
func (o *PostgresOpener) CreateSource(ctx context.Context, location, title string, header []string) error {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	_, err = o.pool.Exec(ctx, `
		INSERT INTO sheet_sources (document_id, position, title, header)
		VALUES ($1, (SELECT COALESCE(MAX(position) + 1, 0) FROM sheet_sources WHERE document_id = $1), $2, $3)
	`, location, title, headerJSON)
	if err != nil {
		return fmt.Errorf("create source %q: %w", title, err)
	}
	return nil
}

// Open implements Opener.
func (o *PostgresOpener) Open(ctx context.Context, location string) (Document, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT position, title FROM sheet_sources
		WHERE document_id = $1
		ORDER BY position
	`, location)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceInfo
	for rows.Next() {
		var info SourceInfo
		if err := rows.Scan(&info.Index, &info.Title); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		info.ID = int64(info.Index)
		sources = append(sources, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, location)
	}

	return &postgresDocument{pool: o.pool, id: location, sources: sources, logger: o.logger}, nil
}

// Ping implements Opener.
func (o *PostgresOpener) Ping(ctx context.Context) error {
	return o.pool.Ping(ctx)
}

// Close releases the pool.
func (o *PostgresOpener) Close() {
	o.pool.Close()
}

type postgresDocument struct {
	pool    *pgxpool.Pool
	id      string
	sources []SourceInfo
	logger  *zap.Logger
}

func (d *postgresDocument) ID() string {
	return d.id
}

func (d *postgresDocument) Sources() []SourceInfo {
	return d.sources
}

func (d *postgresDocument) Rows(ctx context.Context, src Source) ([]Record, error) {
	info, ok := findSource(d.sources, src)
	if !ok {
		return nil, ErrSourceNotFound
	}

	rows, err := d.pool.Query(ctx, `
		SELECT record FROM sheet_rows
		WHERE document_id = $1 AND title = $2
		ORDER BY id
	`, d.id, info.Title)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", info.Title, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (d *postgresDocument) AppendRow(ctx context.Context, src Source, row Row) error {
	info, ok := findSource(d.sources, src)
	if !ok {
		return ErrSourceNotFound
	}

	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		var headerJSON []byte
		err := tx.QueryRow(ctx, `
			SELECT header FROM sheet_sources
			WHERE document_id = $1 AND title = $2
			FOR UPDATE
		`, d.id, info.Title).Scan(&headerJSON)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSourceNotFound
		}
		if err != nil {
			return fmt.Errorf("read header of %q: %w", info.Title, err)
		}

		var header []string
		if err := json.Unmarshal(headerJSON, &header); err != nil {
			return fmt.Errorf("decode header of %q: %w", info.Title, err)
		}

		header, changed := mergeHeader(header, row)
		if changed {
			updated, err := json.Marshal(header)
			if err != nil {
				return fmt.Errorf("marshal header: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE sheet_sources SET header = $3
				WHERE document_id = $1 AND title = $2
			`, d.id, info.Title, updated); err != nil {
				return fmt.Errorf("write header of %q: %w", info.Title, err)
			}
		}

		line := alignRow(header, row)
		rec := make(map[string]string, len(header))
		for i, h := range header {
			rec[h] = line[i]
		}
		recordJSON, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO sheet_rows (document_id, title, record) VALUES ($1, $2, $3)
		`, d.id, info.Title, recordJSON); err != nil {
			return fmt.Errorf("append to %q: %w", info.Title, err)
		}
		return nil
	})
}

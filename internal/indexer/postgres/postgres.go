// Package postgres 基于 pgx 的事件索引
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betbot/sealedsale/internal/indexer"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Schema 事件索引表
const Schema = `
CREATE TABLE IF NOT EXISTS events (
    seq        BIGINT PRIMARY KEY,
    id         TEXT NOT NULL UNIQUE,
    block      BIGINT NOT NULL,
    tx_hash    TEXT NOT NULL,
    log_index  INTEGER NOT NULL,
    name       TEXT NOT NULL,
    contract   TEXT NOT NULL,
    time       TIMESTAMPTZ NOT NULL,
    payload    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_contract ON events (contract, seq);
CREATE INDEX IF NOT EXISTS idx_events_name ON events (name, seq);
`

// Store implements indexer.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// Compile-time interface check.
var _ indexer.Store = (*Store)(nil)

// Open 连接并建表
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates a Store on an existing pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Migrate 执行建表语句（幂等）
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate events schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Insert adds records atomically; rows whose seq already exists are skipped.
func (s *Store) Insert(ctx context.Context, recs ...indexer.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO events (seq, id, block, tx_hash, log_index, name, contract, time, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (seq) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(query,
			int64(r.Seq),
			r.ID,
			int64(r.Block),
			r.TxHash,
			r.Index,
			r.Name,
			strings.ToLower(r.Contract),
			r.Time.UTC(),
			string(r.Payload),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Query retrieves records ordered by seq.
func (s *Store) Query(ctx context.Context, f indexer.Filter) ([]indexer.Record, error) {
	f = f.Normalize()
	where := []string{"seq > $1"}
	args := []any{int64(f.AfterSeq)}
	if f.Name != "" {
		args = append(args, f.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	if f.Contract != "" {
		args = append(args, strings.ToLower(f.Contract))
		where = append(where, fmt.Sprintf("contract = $%d", len(args)))
	}
	args = append(args, f.Limit)

	query := fmt.Sprintf(`
		SELECT seq, id, block, tx_hash, log_index, name, contract, time, payload::text
		FROM events
		WHERE %s
		ORDER BY seq ASC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]indexer.Record, error) {
	var out []indexer.Record
	for rows.Next() {
		var (
			r          indexer.Record
			seq, block int64
			payload    string
		)
		if err := rows.Scan(&seq, &r.ID, &block, &r.TxHash, &r.Index, &r.Name, &r.Contract, &r.Time, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Seq, r.Block = uint64(seq), uint64(block)
		r.Time = r.Time.UTC()
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest indexed seq, 0 when empty.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var v *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(seq) FROM events`).Scan(&v); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	if v == nil {
		return 0, nil
	}
	return uint64(*v), nil
}

// Package sqlite 基于 modernc.org/sqlite 的事件索引
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/sealedsale/internal/indexer"
)

// Store 实现 indexer.Store
type Store struct {
	db *sql.DB
}

var _ indexer.Store = (*Store)(nil)

// Open 打开数据库并执行迁移；dsn 为文件路径、file: URI 或 ":memory:"
func Open(dsn string) (*Store, error) {
	if path := dbPath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定，:memory: 也依赖这一点
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dbPath(dsn string) string {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS events (
  seq INTEGER PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  block INTEGER NOT NULL,
  tx_hash TEXT NOT NULL,
  log_index INTEGER NOT NULL,
  name TEXT NOT NULL,
  contract TEXT NOT NULL,
  time TEXT NOT NULL,
  payload TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_contract ON events(contract, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert 批量写入；已存在的 seq 忽略
func (s *Store) Insert(ctx context.Context, recs ...indexer.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO events (seq, id, block, tx_hash, log_index, name, contract, time, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(seq) DO NOTHING`
	for _, r := range recs {
		_, err := tx.ExecContext(ctx, q,
			int64(r.Seq), r.ID, int64(r.Block), r.TxHash, r.Index, r.Name,
			strings.ToLower(r.Contract), r.Time.UTC().Format(time.RFC3339Nano), string(r.Payload),
		)
		if err != nil {
			return fmt.Errorf("insert event seq=%d: %w", r.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Query 按 seq 升序查询
func (s *Store) Query(ctx context.Context, f indexer.Filter) ([]indexer.Record, error) {
	f = f.Normalize()
	var (
		where = []string{"seq > ?"}
		args  = []any{int64(f.AfterSeq)}
	)
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.Contract != "" {
		where = append(where, "contract = ?")
		args = append(args, strings.ToLower(f.Contract))
	}
	args = append(args, f.Limit)

	q := `SELECT seq, id, block, tx_hash, log_index, name, contract, time, payload FROM events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []indexer.Record
	for rows.Next() {
		var (
			r           indexer.Record
			seq, block  int64
			ts, payload string
		)
		if err := rows.Scan(&seq, &r.ID, &block, &r.TxHash, &r.Index, &r.Name, &r.Contract, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Seq, r.Block = uint64(seq), uint64(block)
		if r.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse time %q: %w", ts, err)
		}
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSeq 已索引的最大 seq（空表为 0）
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&v); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return uint64(v.Int64), nil
}

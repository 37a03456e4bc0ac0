package kv

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on modernc.org/sqlite for durable
// single-node deployments. Lists are rows ordered by a position column;
// push-left allocates decreasing positions so pop-right takes the maximum.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) a SQLite-backed store at dsn and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "kv: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "kv: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
);

CREATE TABLE IF NOT EXISTS kv_lists (
	key   TEXT NOT NULL,
	pos   INTEGER NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, pos)
);

CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries(expires_at);
`

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(sqliteMigration)
	return eris.Wrap(err, "kv: migrate")
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "kv: get %s", key)
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiry(ttl),
	)
	return eris.Wrapf(err, "kv: set %s", key)
}

func (s *SQLiteStore) SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "kv: begin setnx")
	}
	defer tx.Rollback()

	// Expired rows count as absent.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		key, s.now().UnixMilli(),
	); err != nil {
		return false, eris.Wrapf(err, "kv: setnx expire %s", key)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key, value, s.expiry(ttl),
	)
	if err != nil {
		return false, eris.Wrapf(err, "kv: setnx %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "kv: setnx rows affected")
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "kv: commit setnx")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "kv: begin delete")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return eris.Wrapf(err, "kv: delete %s", key)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_lists WHERE key = ?`, key); err != nil {
		return eris.Wrapf(err, "kv: delete list %s", key)
	}
	return eris.Wrap(tx.Commit(), "kv: commit delete")
}

func (s *SQLiteStore) Increment(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, '1', NULL)
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT), expires_at = NULL
		RETURNING CAST(value AS INTEGER)`,
		key,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "kv: increment %s", key)
	}
	return n, nil
}

func (s *SQLiteStore) ListPushLeft(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_lists (key, pos, value)
		VALUES (?, (SELECT COALESCE(MIN(pos), 1) - 1 FROM kv_lists WHERE key = ?), ?)`,
		key, key, value,
	)
	return eris.Wrapf(err, "kv: list push %s", key)
}

func (s *SQLiteStore) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM kv_lists WHERE key = ? ORDER BY pos ASC`, key)
	if err != nil {
		return nil, eris.Wrapf(err, "kv: list range %s", key)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "kv: scan list %s", key)
		}
		all = append(all, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "kv: iterate list %s", key)
	}

	lo, hi, ok := rangeBounds(len(all), start, stop)
	if !ok {
		return nil, nil
	}
	return all[lo : hi+1], nil
}

func (s *SQLiteStore) ListPopRight(ctx context.Context, key string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, eris.Wrap(err, "kv: begin pop")
	}
	defer tx.Rollback()

	var pos int64
	var value string
	err = tx.QueryRowContext(ctx,
		`SELECT pos, value FROM kv_lists WHERE key = ? ORDER BY pos DESC LIMIT 1`, key,
	).Scan(&pos, &value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "kv: pop %s", key)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_lists WHERE key = ? AND pos = ?`, key, pos,
	); err != nil {
		return "", false, eris.Wrapf(err, "kv: pop delete %s", key)
	}
	if err := tx.Commit(); err != nil {
		return "", false, eris.Wrap(err, "kv: commit pop")
	}
	return value, true, nil
}

func (s *SQLiteStore) ListLength(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_lists WHERE key = ?`, key,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "kv: list length %s", key)
	}
	return n, nil
}

func (s *SQLiteStore) expiry(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return s.now().Add(ttl).UnixMilli()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/arcflow/budget-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// default for single-node deployments and local development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS briefings (
	id         TEXT PRIMARY KEY,
	office_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'DRAFT',
	document   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS budgets (
	id          TEXT PRIMARY KEY,
	briefing_id TEXT NOT NULL REFERENCES briefings(id),
	office_id   TEXT NOT NULL,
	version     INTEGER NOT NULL,
	status      TEXT NOT NULL,
	total_value REAL NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (briefing_id, version)
);

CREATE INDEX IF NOT EXISTS idx_briefings_office ON briefings(office_id);
CREATE INDEX IF NOT EXISTS idx_briefings_status ON briefings(status);
CREATE INDEX IF NOT EXISTS idx_budgets_briefing ON budgets(briefing_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveBriefing(ctx context.Context, b model.Briefing) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	doc, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal briefing")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO briefings (id, office_id, status, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			office_id = excluded.office_id,
			status = excluded.status,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		b.ID, b.OfficeID, string(b.Status), string(doc), b.CreatedAt, b.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save briefing %s", b.ID)
}

func (s *SQLiteStore) GetBriefing(ctx context.Context, id string) (model.Briefing, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM briefings WHERE id = ?`, id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.Briefing{}, eris.Wrapf(ErrNotFound, "briefing %s", id)
	}
	if err != nil {
		return model.Briefing{}, eris.Wrapf(err, "sqlite: get briefing %s", id)
	}
	var b model.Briefing
	if err := json.Unmarshal([]byte(doc), &b); err != nil {
		return model.Briefing{}, eris.Wrapf(err, "sqlite: decode briefing %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBriefings(ctx context.Context, filter BriefingFilter) ([]model.Briefing, error) {
	query := `SELECT document FROM briefings WHERE 1=1`
	var args []any
	if filter.OfficeID != "" {
		query += ` AND office_id = ?`
		args = append(args, filter.OfficeID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list briefings")
	}
	defer rows.Close()

	var out []model.Briefing
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan briefing")
		}
		var b model.Briefing
		if err := json.Unmarshal([]byte(doc), &b); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode briefing")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list briefings")
}

func (s *SQLiteStore) RecordBudget(ctx context.Context, b model.Budget) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal budget")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, briefing_id, office_id, version, status, total_value, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (briefing_id, version) DO UPDATE SET
			status = excluded.status,
			total_value = excluded.total_value,
			payload = excluded.payload`,
		b.ID, b.BriefingID, b.OfficeID, b.Version, string(b.Status), b.TotalValue, string(payload), b.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record budget %s v%d", b.BriefingID, b.Version)
}

func (s *SQLiteStore) ListBudgets(ctx context.Context, briefingID string) ([]model.Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM budgets WHERE briefing_id = ? ORDER BY version DESC`, briefingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list budgets %s", briefingID)
	}
	defer rows.Close()

	var out []model.Budget
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan budget")
		}
		var b model.Budget
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode budget")
		}
		out = append(out, b)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: list budgets %s", briefingID)
}

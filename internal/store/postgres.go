package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/arcflow/budget-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it, which keeps the Postgres store testable without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS briefings (
	id         TEXT PRIMARY KEY,
	office_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'DRAFT',
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS budgets (
	id          TEXT PRIMARY KEY,
	briefing_id TEXT NOT NULL REFERENCES briefings(id),
	office_id   TEXT NOT NULL,
	version     INTEGER NOT NULL,
	status      TEXT NOT NULL,
	total_value DOUBLE PRECISION NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (briefing_id, version)
);

CREATE INDEX IF NOT EXISTS idx_briefings_office ON briefings(office_id);
CREATE INDEX IF NOT EXISTS idx_briefings_status ON briefings(status);
CREATE INDEX IF NOT EXISTS idx_budgets_briefing ON budgets(briefing_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) SaveBriefing(ctx context.Context, b model.Briefing) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	doc, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal briefing")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO briefings (id, office_id, status, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			office_id = excluded.office_id,
			status = excluded.status,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		b.ID, b.OfficeID, string(b.Status), doc, b.CreatedAt, b.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save briefing %s", b.ID)
}

func (s *PostgresStore) GetBriefing(ctx context.Context, id string) (model.Briefing, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM briefings WHERE id = $1`, id,
	).Scan(&doc)
	if err == pgx.ErrNoRows {
		return model.Briefing{}, eris.Wrapf(ErrNotFound, "briefing %s", id)
	}
	if err != nil {
		return model.Briefing{}, eris.Wrapf(err, "postgres: get briefing %s", id)
	}
	var b model.Briefing
	if err := json.Unmarshal(doc, &b); err != nil {
		return model.Briefing{}, eris.Wrapf(err, "postgres: decode briefing %s", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBriefings(ctx context.Context, filter BriefingFilter) ([]model.Briefing, error) {
	query := `SELECT document FROM briefings WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.OfficeID != "" {
		query += ` AND office_id = ` + arg(filter.OfficeID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list briefings")
	}
	defer rows.Close()

	var out []model.Briefing
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan briefing")
		}
		var b model.Briefing
		if err := json.Unmarshal(doc, &b); err != nil {
			return nil, eris.Wrap(err, "postgres: decode briefing")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list briefings")
}

func (s *PostgresStore) RecordBudget(ctx context.Context, b model.Budget) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal budget")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO budgets (id, briefing_id, office_id, version, status, total_value, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (briefing_id, version) DO UPDATE SET
			status = excluded.status,
			total_value = excluded.total_value,
			payload = excluded.payload`,
		b.ID, b.BriefingID, b.OfficeID, b.Version, string(b.Status), b.TotalValue, payload, b.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record budget %s v%d", b.BriefingID, b.Version)
}

func (s *PostgresStore) ListBudgets(ctx context.Context, briefingID string) ([]model.Budget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM budgets WHERE briefing_id = $1 ORDER BY version DESC`, briefingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list budgets %s", briefingID)
	}
	defer rows.Close()

	var out []model.Budget
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan budget")
		}
		var b model.Budget
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, eris.Wrap(err, "postgres: decode budget")
		}
		out = append(out, b)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: list budgets %s", briefingID)
}

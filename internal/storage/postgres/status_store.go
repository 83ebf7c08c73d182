// Package postgres keeps the domain status table in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitechat/internal/jobs"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for status rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// StatusStore implements jobs.Store with one row per domain.
type StatusStore struct {
	pool  pool
	table string
	now   func() time.Time
}

var _ jobs.Store = (*StatusStore)(nil)

// NewStatusStore connects to Postgres and ensures the status table exists.
func NewStatusStore(ctx context.Context, cfg Config) (*StatusStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("status.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewStatusStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewStatusStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStatusStoreWithPool(p pool, table string) (*StatusStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "domain_status"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &StatusStore{pool: p, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the status table when missing.
func (s *StatusStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	domain     TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *StatusStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load reads every row. An empty table reports jobs.ErrStatusNotFound so the
// registry can seed it.
func (s *StatusStore) Load(ctx context.Context) (map[string]jobs.Status, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT domain, state, reason FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("select statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]jobs.Status)
	for rows.Next() {
		var domain, state, reason string
		if err := rows.Scan(&domain, &state, &reason); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses[domain] = jobs.Status{State: jobs.State(state), Reason: reason}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read statuses: %w", err)
	}
	if len(statuses) == 0 {
		return nil, jobs.ErrStatusNotFound
	}
	return statuses, nil
}

// Save upserts every domain in one transaction.
func (s *StatusStore) Save(ctx context.Context, statuses map[string]jobs.Status) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (domain, state, reason, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE
SET state = EXCLUDED.state, reason = EXCLUDED.reason, updated_at = EXCLUDED.updated_at
WHERE %s.state <> EXCLUDED.state OR %s.reason <> EXCLUDED.reason`, s.table, s.table, s.table)

	domains := make([]string, 0, len(statuses))
	for d := range statuses {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	now := s.now()
	for _, d := range domains {
		st := statuses[d]
		if _, err = tx.Exec(ctx, query, d, string(st.State), st.Reason, now); err != nil {
			return fmt.Errorf("upsert status %s: %w", d, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

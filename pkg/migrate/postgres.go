package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/bootgate/internal/logger"
)

// pgUndefinedTable is SQLSTATE 42P01.
const pgUndefinedTable = "42P01"

const pgCreateTables = `
CREATE TABLE IF NOT EXISTS ` + VersionTable + ` (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ` + HistoryTable + ` (
	version     BIGINT PRIMARY KEY,
	name        TEXT NOT NULL,
	checksum    TEXT NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	duration_ms BIGINT NOT NULL DEFAULT 0
);
INSERT INTO ` + VersionTable + ` (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// PostgresStore keeps the marker in PostgreSQL and serializes runners with a
// session-level advisory lock.
type PostgresStore struct {
	pool    *pgxpool.Pool
	lockKey int64
}

// OpenPostgres creates a connection pool for rawURL and pings it.
func OpenPostgres(ctx context.Context, rawURL string, opts Options) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string %s: %w", redact(rawURL), err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}

	logger.DebugCtx(ctx, "Creating PostgreSQL connection pool",
		"host", poolConfig.ConnConfig.Host,
		logger.KeyPort, poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
		"max_conns", poolConfig.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresStore{pool: pool, lockKey: opts.LockKey}, nil
}

func (s *PostgresStore) Driver() string { return DriverPostgres }

// Lock blocks until the advisory lock is held on a dedicated connection.
// The lock lives as long as that connection, so a crashed runner releases
// it when its session ends.
func (s *PostgresStore) Lock(ctx context.Context) (func(context.Context) error, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", s.lockKey); err != nil {
		conn.Release()
		return nil, err
	}
	logger.DebugCtx(ctx, "Acquired migration lock", "lock_key", s.lockKey)

	return func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", s.lockKey)
		return err
	}, nil
}

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgCreateTables)
	return err
}

func (s *PostgresStore) CurrentVersion(ctx context.Context) (uint, error) {
	var v int64
	err := s.pool.QueryRow(ctx, "SELECT version FROM "+VersionTable+" WHERE id = 1").Scan(&v)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	case isUndefinedTable(err):
		return 0, ErrNotInitialized
	case err != nil:
		return 0, err
	}
	return uint(v), nil
}

// Apply runs m.UpSQL and the conditional marker update in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, prev uint, m Migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op after commit

	start := time.Now()
	// No arguments: pgx uses the simple protocol, which accepts several
	// statements in one call.
	if _, err := tx.Exec(ctx, m.UpSQL); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		"UPDATE "+VersionTable+" SET version = $1, updated_at = now() WHERE id = 1 AND version = $2",
		int64(m.Version), int64(prev))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrVersionConflict
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO "+HistoryTable+" (version, name, checksum, duration_ms) VALUES ($1, $2, $3, $4)",
		int64(m.Version), m.Name, m.Checksum, time.Since(start).Milliseconds()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) History(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT version, name, checksum, applied_at, duration_ms FROM "+HistoryTable+" ORDER BY version")
	if err != nil {
		if isUndefinedTable(err) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			a          AppliedMigration
			version    int64
			durationMs int64
		)
		if err := rows.Scan(&version, &a.Name, &a.Checksum, &a.AppliedAt, &durationMs); err != nil {
			return nil, err
		}
		a.Version = uint(version)
		a.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

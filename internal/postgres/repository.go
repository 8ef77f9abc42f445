package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool the repository uses
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// Repository archives decoded reports in PostgreSQL
type Repository struct {
	pool   pgxPool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return newRepository(pool, logger), nil
}

func newRepository(pool pgxPool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Name identifies the repository as an entry sink
func (r *Repository) Name() string {
	return "postgres"
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS oracle_reports (
		seq BIGSERIAL,
		query_id VARCHAR(66) NOT NULL,
		reporter VARCHAR(128) NOT NULL,
		raw_timestamp VARCHAR(32) NOT NULL,
		data_set BOOLEAN NOT NULL,
		right_hand DOUBLE PRECISION NOT NULL,
		left_hand DOUBLE PRECISION NOT NULL,
		hours_of_sleep BIGINT NOT NULL,
		x_handle TEXT NOT NULL DEFAULT '',
		github_username TEXT NOT NULL DEFAULT '',
		timestamp_ms BIGINT NOT NULL,
		readable_time TEXT NOT NULL,
		block_number BIGINT,
		ingested_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (query_id, reporter, raw_timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oracle_reports_ingested ON oracle_reports(query_id, ingested_at DESC, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_oracle_reports_strength ON oracle_reports(query_id, data_set, (right_hand + left_hand) DESC)`,
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const insertReport = `
	INSERT INTO oracle_reports (
		query_id, reporter, raw_timestamp, data_set, right_hand, left_hand,
		hours_of_sleep, x_handle, github_username, timestamp_ms, readable_time,
		block_number, ingested_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (query_id, reporter, raw_timestamp) DO NOTHING
`

func insertArgs(queryID string, e domain.LogEntry) []any {
	return []any{
		queryID,
		e.Reporter,
		e.Timestamp,
		e.DataSet,
		e.RightHand,
		e.LeftHand,
		e.HoursOfSleep,
		e.XHandle,
		e.GithubUsername,
		e.TimestampMs,
		e.ReadableTime,
		e.BlockNumber,
		e.IngestedAt,
	}
}

// Store archives entries in log order. Reports already archived are left
// untouched.
func (r *Repository) Store(ctx context.Context, queryID string, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(insertReport, insertArgs(queryID, entry)...)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("archiving reports: %w", err)
		}
	}
	return nil
}

const selectReports = `
	SELECT reporter, raw_timestamp, data_set, right_hand, left_hand,
		   hours_of_sleep, x_handle, github_username, timestamp_ms,
		   readable_time, block_number, ingested_at
	FROM oracle_reports
	WHERE query_id = $1
	ORDER BY ingested_at DESC, seq ASC
	LIMIT NULLIF($2::int, 0)
`

// LoadEntries returns archived entries of a query id in log order, newest
// batch first. A limit of zero loads everything.
func (r *Repository) LoadEntries(ctx context.Context, queryID string, limit int) ([]domain.LogEntry, error) {
	rows, err := r.pool.Query(ctx, selectReports, queryID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading reports: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		err := rows.Scan(
			&e.Reporter,
			&e.Timestamp,
			&e.DataSet,
			&e.RightHand,
			&e.LeftHand,
			&e.HoursOfSleep,
			&e.XHandle,
			&e.GithubUsername,
			&e.TimestampMs,
			&e.ReadableTime,
			&e.BlockNumber,
			&e.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading reports: %w", err)
	}
	return entries, nil
}

// CountEntries returns the number of archived reports of a query id
func (r *Repository) CountEntries(ctx context.Context, queryID string) (int64, error) {
	query := `SELECT COUNT(*) FROM oracle_reports WHERE query_id = $1`
	var count int64
	err := r.pool.QueryRow(ctx, query, queryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting reports: %w", err)
	}
	return count, nil
}

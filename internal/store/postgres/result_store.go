// Package postgres provides a Postgres-backed ResultStore.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/complyscan/site-analyser/internal/analysis"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for batch rows.
type Config struct {
	DSN             string
	BatchTable      string
	ResultTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore writes batch and per-URL rows into Postgres. The per-URL
// details (certificate, bot protection, stage timings) land in a JSONB
// column so schema churn in the result shape never needs a migration.
type ResultStore struct {
	pool        execCloser
	batchTable  string
	resultTable string
}

// New creates a Postgres-backed ResultStore using the provided config.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithPool(pool, cfg.BatchTable, cfg.ResultTable)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, batchTable, resultTable string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, batchTable, resultTable)
}

func newWithPool(pool execCloser, batchTable, resultTable string) (*ResultStore, error) {
	if batchTable == "" {
		batchTable = "analysis_batches"
	}
	if resultTable == "" {
		resultTable = "analysis_results"
	}
	for _, table := range []string{batchTable, resultTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &ResultStore{
		pool:        pool,
		batchTable:  batchTable,
		resultTable: resultTable,
	}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveBatch inserts the batch summary row plus one row per result.
func (s *ResultStore) SaveBatch(ctx context.Context, batch analysis.BatchResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if batch.JobID == "" {
		return fmt.Errorf("batch job id is required")
	}

	batchQuery := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	started_at,
	completed_at,
	total,
	succeeded,
	partial,
	failed
) VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.batchTable)

	args := []any{
		batch.JobID,
		batch.StartedAt,
		batch.CompletedAt,
		batch.Total,
		batch.Succeeded,
		batch.Partial,
		batch.Failed,
	}
	if _, err := s.pool.Exec(ctx, batchQuery, args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	resultQuery := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	url,
	status,
	reachable,
	analysed_at,
	details
) VALUES ($1,$2,$3,$4,$5,$6)`, s.resultTable)

	for _, res := range batch.Results {
		details, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal result for %s: %w", res.URL, err)
		}
		args := []any{
			batch.JobID,
			res.URL,
			string(res.Status),
			res.Reachable,
			res.Timestamp,
			details,
		}
		if _, err := s.pool.Exec(ctx, resultQuery, args...); err != nil {
			return fmt.Errorf("insert result for %s: %w", res.URL, err)
		}
	}
	return nil
}

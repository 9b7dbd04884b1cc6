package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// pointColumns is the column order of the points table.
var pointColumns = []string{"time", "measurement", "stream", "simulation", "field", "value"}

// copier is the subset of *pgxpool.Pool the sink needs.
type copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// OpenPool connects to PostgreSQL with the configured pool limits and
// verifies the connection.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w: parse database URL: %v", core.ErrConfig, err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w: %v", core.ErrTransport, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w: ping: %v", core.ErrTransport, err)
	}
	return pool, nil
}

// Postgres copies one row per key into a points table.
type Postgres struct {
	db          copier
	table       string
	measurement string
}

// NewPostgres creates a Postgres sink writing to table.
func NewPostgres(db copier, table, measurement string) *Postgres {
	if table == "" {
		table = "telemetry_points"
	}
	return &Postgres{db: db, table: table, measurement: measurement}
}

// EnsureSchema creates the points table and its time index if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	ident := pgx.Identifier{s.table}.Sanitize()
	index := pgx.Identifier{s.table + "_stream_time_idx"}.Sanitize()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + ident + ` (
			time        TIMESTAMPTZ      NOT NULL,
			measurement TEXT             NOT NULL,
			stream      TEXT             NOT NULL DEFAULT '',
			simulation  TEXT             NOT NULL DEFAULT '',
			field       TEXT             NOT NULL,
			value       DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + ident + ` (stream, time DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema %s: %w: %v", s.table, core.ErrWrite, err)
		}
	}
	return nil
}

// Write implements core.Sink.
func (s *Postgres) Write(ctx context.Context, m core.Measurement, src core.SourceDescriptor, ts time.Time) error {
	if m.IsEmpty() {
		return nil
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	logger := logging.WithFields(ctx, "sink", "postgres", "table", s.table)

	keys := m.Keys()
	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		v, _ := m.Get(k)
		rows = append(rows, []any{ts, s.measurement, src.Stream, src.Simulation, string(k), v})
	}

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{s.table}, pointColumns, pgx.CopyFromRows(rows))
	if err != nil {
		logger.Warn("postgres copy failed", "rows", len(rows), "error", err)
		return fmt.Errorf("postgres write %s: %w: %v", s.table, core.ErrWrite, err)
	}
	logger.Debug("postgres copy succeeded", "rows", n)
	return nil
}

package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

// ClickHouseConfig configures the analytics-oriented archive sink.
type ClickHouseConfig struct {
	DSN          string
	Database     string
	Table        string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// ClickHouseExporter writes archived sessions into a MergeTree table
// partitioned by completion month, suited to ad-hoc analytics queries
// over historical runs. Grounded on long-term-archives' ClickHouseExporter,
// re-targeted from per-job to per-session rows.
type ClickHouseExporter struct {
	cfg    ClickHouseConfig
	db     *sql.DB
	logger *zap.Logger
}

func NewClickHouseExporter(cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.DSN},
		Auth: clickhouse.Auth{Database: cfg.Database},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:     30 * time.Second,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLife,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	e := &ClickHouseExporter{cfg: cfg, db: db, logger: logger}
	if err := e.ensureTable(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *ClickHouseExporter) ensureTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			session_id String,
			pipeline_id String,
			status LowCardinality(String),
			started_at Nullable(DateTime64(3)),
			completed_at DateTime64(3),
			total_jobs UInt32,
			completed_jobs UInt32,
			failed_jobs UInt32,
			error_code String,
			error_message String,
			user_id String,
			archived_at DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(completed_at)
		ORDER BY (pipeline_id, completed_at, session_id)
		TTL completed_at + INTERVAL 2 YEAR DELETE
		SETTINGS index_granularity = 8192
	`, e.cfg.Database, e.cfg.Table)

	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("clickhouse: ensure table: %w", err)
	}
	e.logger.Info("clickhouse archive table ensured", zap.String("table", e.cfg.Table))
	return nil
}

func (e *ClickHouseExporter) Export(ctx context.Context, batch []Record) error {
	insertSQL := fmt.Sprintf(`INSERT INTO %s.%s
		(session_id, pipeline_id, status, started_at, completed_at, total_jobs,
		 completed_jobs, failed_jobs, error_code, error_message, user_id, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, e.cfg.Database, e.cfg.Table)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clickhouse: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		s := rec.Session
		var completedAt time.Time
		if s.CompletedAt != nil {
			completedAt = *s.CompletedAt
		}
		if _, err := stmt.ExecContext(ctx,
			s.SessionID, s.PipelineID, string(s.Status), s.StartedAt, completedAt,
			s.TotalJobs, s.CompletedJobs, s.FailedJobs, s.ErrorCode, s.ErrorMessage,
			s.UserID, rec.ArchivedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clickhouse: insert %s: %w", s.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse: commit: %w", err)
	}
	e.logger.Info("clickhouse archive export completed", zap.Int("rows", len(batch)))
	return nil
}

func (e *ClickHouseExporter) Close() error {
	return e.db.Close()
}

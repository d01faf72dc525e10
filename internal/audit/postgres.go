package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS job_outcomes (
	job_id          TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	failure_stage   TEXT NOT NULL DEFAULT '',
	failure_message TEXT NOT NULL DEFAULT '',
	languages       TEXT NOT NULL DEFAULT '',
	detections      INTEGER NOT NULL DEFAULT 0,
	flagged         INTEGER NOT NULL DEFAULT 0,
	pii_types       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_status ON job_outcomes(status);

CREATE TABLE IF NOT EXISTS review_decisions (
	job_id          TEXT NOT NULL,
	detection_index INTEGER NOT NULL,
	approved        BOOLEAN NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, detection_index)
);
`

// PostgresSink writes audit rows through a pgx pool.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects, pings and ensures the audit tables exist.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc.MaxConns = 4
	pc.ConnConfig.RuntimeParams["application_name"] = "pii-masker"

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(dctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(dctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	logger.Info("audit sink ready", "driver", "postgres")
	return &PostgresSink{pool: pool, logger: logger}, nil
}

func (s *PostgresSink) JobFinished(ctx context.Context, job entity.Job) error {
	row := summarize(job)
	var finished *time.Time
	if !row.FinishedAt.IsZero() {
		finished = &row.FinishedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_outcomes (job_id, status, failure_stage, failure_message, languages, detections, flagged, pii_types, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (job_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   failure_stage = EXCLUDED.failure_stage,
		   failure_message = EXCLUDED.failure_message,
		   languages = EXCLUDED.languages,
		   detections = EXCLUDED.detections,
		   flagged = EXCLUDED.flagged,
		   pii_types = EXCLUDED.pii_types,
		   finished_at = EXCLUDED.finished_at,
		   recorded_at = now()`,
		row.JobID, row.Status, row.FailureStage, row.FailureMessage, row.Languages,
		row.Detections, row.Flagged, row.Types, row.CreatedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("insert job outcome: %w", err)
	}
	return nil
}

func (s *PostgresSink) ReviewRecorded(ctx context.Context, jobID string, decisions map[int]bool) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM review_decisions WHERE job_id = $1`, jobID); err != nil {
			return fmt.Errorf("clear review: %w", err)
		}
		now := time.Now().UTC()
		batch := &pgx.Batch{}
		for _, idx := range sortedIndices(decisions) {
			batch.Queue(`INSERT INTO review_decisions (job_id, detection_index, approved, recorded_at) VALUES ($1, $2, $3, $4)`,
				jobID, idx, decisions[idx], now)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

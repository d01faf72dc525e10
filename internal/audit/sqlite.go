package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS job_outcomes (
	job_id          TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	failure_stage   TEXT DEFAULT '',
	failure_message TEXT DEFAULT '',
	languages       TEXT DEFAULT '',
	detections      INTEGER NOT NULL DEFAULT 0,
	flagged         INTEGER NOT NULL DEFAULT 0,
	pii_types       TEXT DEFAULT '',
	created_at      DATETIME NOT NULL,
	finished_at     DATETIME,
	recorded_at     DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_status ON job_outcomes(status);

CREATE TABLE IF NOT EXISTS review_decisions (
	job_id          TEXT NOT NULL,
	detection_index INTEGER NOT NULL,
	approved        BOOLEAN NOT NULL,
	recorded_at     DATETIME NOT NULL,
	PRIMARY KEY (job_id, detection_index)
);
`

// SQLiteSink writes audit rows to a local SQLite file.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time keeps SQLite out of SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	logger.Info("audit sink ready", "driver", "sqlite", "path", path)
	return &SQLiteSink{db: db, logger: logger}, nil
}

func (s *SQLiteSink) JobFinished(ctx context.Context, job entity.Job) error {
	row := summarize(job)
	var finished any
	if !row.FinishedAt.IsZero() {
		finished = row.FinishedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_outcomes (job_id, status, failure_stage, failure_message, languages, detections, flagged, pii_types, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   status = excluded.status,
		   failure_stage = excluded.failure_stage,
		   failure_message = excluded.failure_message,
		   languages = excluded.languages,
		   detections = excluded.detections,
		   flagged = excluded.flagged,
		   pii_types = excluded.pii_types,
		   finished_at = excluded.finished_at,
		   recorded_at = CURRENT_TIMESTAMP`,
		row.JobID, row.Status, row.FailureStage, row.FailureMessage, row.Languages,
		row.Detections, row.Flagged, row.Types, row.CreatedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("insert job outcome: %w", err)
	}
	return nil
}

// ReviewRecorded replaces the stored decisions for the job.
func (s *SQLiteSink) ReviewRecorded(ctx context.Context, jobID string, decisions map[int]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_decisions WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("clear review: %w", err)
	}
	now := time.Now().UTC()
	for _, idx := range sortedIndices(decisions) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_decisions (job_id, detection_index, approved, recorded_at) VALUES (?, ?, ?, ?)`,
			jobID, idx, decisions[idx], now,
		); err != nil {
			return fmt.Errorf("insert review decision: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

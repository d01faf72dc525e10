// Package audit records terminal job outcomes and review decisions.
// Only metadata is stored: detection counts and types, never the detected text.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// Sink receives audit events.
type Sink interface {
	JobFinished(ctx context.Context, job entity.Job) error
	ReviewRecorded(ctx context.Context, jobID string, decisions map[int]bool) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) JobFinished(context.Context, entity.Job) error              { return nil }
func (Nop) ReviewRecorded(context.Context, string, map[int]bool) error { return nil }
func (Nop) Close() error                                               { return nil }

// Open returns the sink for driver ("none", "sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return OpenSQLite(ctx, dsn, logger)
	case "postgres":
		return OpenPostgres(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", driver)
	}
}

// outcomeRow is the flattened form of a terminal job.
type outcomeRow struct {
	JobID          string
	Status         string
	FailureStage   string
	FailureMessage string
	Languages      string
	Detections     int
	Flagged        int
	Types          string
	CreatedAt      time.Time
	FinishedAt     time.Time
}

func summarize(job entity.Job) outcomeRow {
	row := outcomeRow{
		JobID:     job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.UTC(),
	}
	if job.FinishedAt != nil {
		row.FinishedAt = job.FinishedAt.UTC()
	}
	if job.Failure != nil {
		row.FailureStage = job.Failure.Stage
		row.FailureMessage = job.Failure.Message
	}
	if res := job.Result; res != nil {
		row.Languages = strings.Join(res.Languages, ",")
		row.Detections = len(res.Detections)
		row.Flagged = len(res.Flagged)
		var types []string
		for _, d := range res.Detections {
			types = append(types, string(d.Type))
		}
		slices.Sort(types)
		row.Types = strings.Join(slices.Compact(types), ",")
	}
	return row
}

// sortedIndices returns the decision keys in ascending order.
func sortedIndices(decisions map[int]bool) []int {
	idx := make([]int, 0, len(decisions))
	for k := range decisions {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

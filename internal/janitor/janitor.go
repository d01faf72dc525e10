// Package janitor keeps the work directory free of stale job artefacts.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor wipes the work directory at startup and sweeps old files on a schedule.
type Janitor struct {
	dir      string
	maxAge   time.Duration
	schedule string
	now      func() time.Time
	logger   *slog.Logger
	cron     *cron.Cron
}

func New(dir, schedule string, maxAge time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{dir: dir, maxAge: maxAge, schedule: strings.TrimSpace(schedule), now: time.Now, logger: logger}
}

// Reset recreates the work directory and removes the regular files directly
// inside it. Subdirectories and their contents are left alone.
func (j *Janitor) Reset() (int, error) {
	if err := os.MkdirAll(j.dir, 0o750); err != nil {
		return 0, fmt.Errorf("create work dir: %w", err)
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, fmt.Errorf("read work dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil {
			j.logger.Warn("janitor.reset.remove_failed", "path", e.Name(), "error", err)
			continue
		}
		removed++
	}
	j.logger.Info("janitor.reset", "dir", j.dir, "removed", removed)
	return removed, nil
}

// Sweep removes regular files older than the configured max age.
func (j *Janitor) Sweep() int {
	cutoff := j.now().Add(-j.maxAge)
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Warn("janitor.sweep.read_failed", "dir", j.dir, "error", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed by its pipeline between ReadDir and Info
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		err = os.Remove(filepath.Join(j.dir, e.Name()))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("janitor.sweep.remove_failed", "path", e.Name(), "error", err)
			continue
		}
		if err == nil {
			removed++
		}
	}
	if removed > 0 {
		j.logger.Info("janitor.sweep", "dir", j.dir, "removed", removed)
	}
	return removed
}

// Start schedules Sweep. An empty schedule disables periodic sweeps.
func (j *Janitor) Start() error {
	if j.schedule == "" || j.maxAge <= 0 {
		j.logger.Info("janitor sweeps disabled")
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(j.schedule, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	j.logger.Info("janitor scheduled", "schedule", j.schedule, "max_age", j.maxAge)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

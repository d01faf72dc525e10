// Package ingest feeds files dropped into an inbox directory to the redaction service.
package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/pii-masker/internal/common"
)

// Submitter accepts a file for redaction and returns the new job id.
type Submitter interface {
	SubmitPath(ctx context.Context, path string, languages []string) (string, error)
}

type Stats struct {
	Seen      uint32
	Submitted uint32
	Failed    uint32
	Deferred  int
}

// Inbox watches a directory and submits every accepted file exactly once.
// Submitted files are removed from the inbox. Files refused because the queue
// is full are retried on a timer; other rejections are left for inspection.
type Inbox struct {
	dir        string
	submitter  Submitter
	languages  []string
	debounce   time.Duration
	retryEvery time.Duration
	logger     *slog.Logger

	seen, submitted, failed atomic.Uint32

	mu       sync.Mutex
	deferred map[string]struct{}
}

func NewInbox(dir string, submitter Submitter, languages []string, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		dir:        dir,
		submitter:  submitter,
		languages:  languages,
		debounce:   500 * time.Millisecond,
		retryEvery: 2 * time.Second,
		logger:     logger,
		deferred:   map[string]struct{}{},
	}
}

// Run blocks until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o750); err != nil {
		return err
	}
	events, errs, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{in.dir},
		InitialScan: true,
		Debounce:    in.debounce,
		Logger:      in.logger,
	})
	if err != nil {
		return err
	}
	in.logger.Info("inbox watching", "dir", in.dir)
	retry := time.NewTicker(in.retryEvery)
	defer retry.Stop()
	for {
		select {
		case <-retry.C:
			in.Retry(ctx)
		case path, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			in.Handle(ctx, path)
		case err, ok := <-errs:
			if ok {
				in.logger.Warn("inbox watcher error", "error", err)
			}
		}
	}
}

// Handle submits one inbox file and removes it once the job is queued.
func (in *Inbox) Handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		// renamed away or already handled
		in.undefer(path)
		return
	}
	if !in.isDeferred(path) {
		in.seen.Add(1)
	}
	id, err := in.submitter.SubmitPath(ctx, path, in.languages)
	if errors.Is(err, common.ErrQueueFull) {
		in.mu.Lock()
		in.deferred[path] = struct{}{}
		in.mu.Unlock()
		in.logger.Info("inbox queue full, will retry", "path", path)
		return
	}
	in.undefer(path)
	if err != nil {
		in.failed.Add(1)
		in.logger.Warn("inbox submit failed", "path", path, "error", err)
		return
	}
	in.submitted.Add(1)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		in.logger.Warn("inbox remove failed", "path", path, "job_id", id, "error", err)
	}
	in.logger.Info("inbox file submitted", "path", path, "job_id", id)
}

// Retry resubmits the files the queue previously refused.
func (in *Inbox) Retry(ctx context.Context) {
	in.mu.Lock()
	paths := make([]string, 0, len(in.deferred))
	for p := range in.deferred {
		paths = append(paths, p)
	}
	in.mu.Unlock()
	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		in.Handle(ctx, p)
	}
}

func (in *Inbox) isDeferred(path string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.deferred[path]
	return ok
}

func (in *Inbox) undefer(path string) {
	in.mu.Lock()
	delete(in.deferred, path)
	in.mu.Unlock()
}

func (in *Inbox) Stats() Stats {
	in.mu.Lock()
	deferred := len(in.deferred)
	in.mu.Unlock()
	return Stats{Seen: in.seen.Load(), Submitted: in.submitted.Load(), Failed: in.failed.Load(), Deferred: deferred}
}

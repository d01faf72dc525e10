package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/pii-masker/internal/common"
)

// ErrShuttingDown is returned by TrySubmit after Shutdown has begun.
var ErrShuttingDown = errors.New("pool is shutting down")

// Task is one unit of work. ctx carries the per-task timeout.
type Task struct {
	ID  string
	Run func(ctx context.Context)
}

// Queue is what submitters depend on.
type Queue interface {
	TrySubmit(task Task) error
	Shutdown(ctx context.Context) error
}

// Pool is a fixed set of workers fed by a bounded admission queue.
type Pool struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration
	base    context.Context

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool

	inflight atomic.Int64
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan Task, n)
		}
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithBaseContext sets the parent of every task context.
func WithBaseContext(ctx context.Context) Option {
	return func(p *Pool) { p.base = ctx }
}

func NewPool(logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		base:    context.Background(),
		ch:      make(chan Task, 64),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("worker started", "worker_id", workerID)
				for task := range p.ch {
					p.run(workerID, task)
				}
				p.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *Pool) run(workerID int, task Task) {
	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	ctx, cancel := context.WithTimeout(common.WithJobID(p.base, task.ID), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker_id", workerID, "job_id", task.ID, "panic", r)
		}
	}()

	start := time.Now()
	task.Run(ctx)
	p.logger.Debug("task done", "worker_id", workerID, "job_id", task.ID, "elapsed_ms", time.Since(start).Milliseconds())
}

// TrySubmit enqueues task without blocking.
// It returns common.ErrQueueFull when the admission queue is at capacity.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("cannot enqueue: pool is shutting down", "job_id", task.ID)
		return ErrShuttingDown
	}
	select {
	case p.ch <- task:
		p.logger.Debug("queued task", "job_id", task.ID, "depth", len(p.ch))
		return nil
	default:
		p.logger.Warn("queue full, rejecting", "job_id", task.ID, "capacity", cap(p.ch))
		return common.ErrQueueFull
	}
}

// Depth is the number of tasks waiting for a worker.
func (p *Pool) Depth() int { return len(p.ch) }

// InFlight is the number of tasks currently running.
func (p *Pool) InFlight() int { return int(p.inflight.Load()) }

// Shutdown stops admission and waits for queued and running tasks, or ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context", "in_flight", p.InFlight())
		return ctx.Err()
	case <-done:
		p.logger.Info("queue drained, shutdown complete")
		return nil
	}
}

package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/pii-masker/internal/common"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(quiet, WithWorkers(3), WithQueueSize(10))
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.TrySubmit(Task{ID: "t", Run: func(ctx context.Context) {
			defer wg.Done()
			if common.JobIDFromContext(ctx) != "t" {
				t.Errorf("job id missing from task context")
			}
			n.Add(1)
		}})
		if err != nil {
			t.Fatalf("TrySubmit: %v", err)
		}
	}
	wg.Wait()
	if n.Load() != 10 {
		t.Fatalf("ran %d tasks", n.Load())
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestTrySubmitRejectsWhenFull(t *testing.T) {
	p := NewPool(quiet, WithWorkers(1), WithQueueSize(1))
	release := make(chan struct{})
	started := make(chan struct{})

	if err := p.TrySubmit(Task{ID: "busy", Run: func(context.Context) { close(started); <-release }}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-started
	if err := p.TrySubmit(Task{ID: "queued", Run: func(context.Context) {}}); err != nil {
		t.Fatalf("second submit should queue: %v", err)
	}

	begin := time.Now()
	err := p.TrySubmit(Task{ID: "rejected", Run: func(context.Context) {}})
	if !errors.Is(err, common.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatal("TrySubmit must not block")
	}
	if p.Depth() != 1 || p.InFlight() != 1 {
		t.Fatalf("depth=%d inflight=%d", p.Depth(), p.InFlight())
	}
	close(release)
	_ = p.Shutdown(context.Background())
}

func TestTaskTimeout(t *testing.T) {
	p := NewPool(quiet, WithWorkers(1), WithTaskTimeout(20*time.Millisecond))
	got := make(chan error, 1)
	_ = p.TrySubmit(Task{ID: "slow", Run: func(ctx context.Context) {
		<-ctx.Done()
		got <- ctx.Err()
	}})
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task context never expired")
	}
	_ = p.Shutdown(context.Background())
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(quiet, WithWorkers(1))
	done := make(chan struct{})
	_ = p.TrySubmit(Task{ID: "boom", Run: func(context.Context) { panic("boom") }})
	_ = p.TrySubmit(Task{ID: "after", Run: func(context.Context) { close(done) }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	_ = p.Shutdown(context.Background())
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	p := NewPool(quiet, WithWorkers(1), WithQueueSize(5))
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		_ = p.TrySubmit(Task{ID: "t", Run: func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
		}})
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n.Load() != 5 {
		t.Fatalf("queued tasks should drain, ran %d", n.Load())
	}
	if err := p.TrySubmit(Task{ID: "late", Run: func(context.Context) {}}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShutdownHonoursContext(t *testing.T) {
	p := NewPool(quiet, WithWorkers(1))
	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.TrySubmit(Task{ID: "stuck", Run: func(context.Context) { close(started); <-release }})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	close(release)
}

package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/pii-masker/internal/common"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSubmitter struct {
	mu    sync.Mutex
	paths []string
	err   error
	full  int // calls refused with ErrQueueFull before accepting
}

func (f *fakeSubmitter) SubmitPath(_ context.Context, path string, _ []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.full > 0 {
		f.full--
		return "", common.ErrQueueFull
	}
	f.paths = append(f.paths, path)
	return "job", nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func TestAccepted(t *testing.T) {
	cases := map[string]bool{
		"scan.png":      true,
		"SCAN.JPEG":     true,
		"doc.pdf":       true,
		"notes.txt":     false,
		".hidden.png":   false,
		"dir/page.webp": true,
		"noext":         false,
	}
	for path, want := range cases {
		if got := Accepted(path); got != want {
			t.Errorf("Accepted(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestHandleRemovesSubmittedFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	in := NewInbox(dir, sub, nil, quiet)
	p := filepath.Join(dir, "a.png")
	if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	in.Handle(context.Background(), p)
	if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("submitted file should be removed")
	}
	in.Handle(context.Background(), p)
	if st := in.Stats(); st.Seen != 1 || st.Submitted != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandleKeepsRejectedFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{err: errors.New("queue full")}
	in := NewInbox(dir, sub, nil, quiet)
	p := filepath.Join(dir, "a.png")
	_ = os.WriteFile(p, []byte("x"), 0o600)
	in.Handle(context.Background(), p)
	if _, err := os.Stat(p); err != nil {
		t.Fatal("rejected file should stay in the inbox")
	}
	if st := in.Stats(); st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandleRetriesWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{full: 2}
	in := NewInbox(dir, sub, nil, quiet)
	p := filepath.Join(dir, "a.png")
	_ = os.WriteFile(p, []byte("x"), 0o600)

	in.Handle(context.Background(), p)
	if _, err := os.Stat(p); err != nil {
		t.Fatal("refused file should stay in the inbox")
	}
	if st := in.Stats(); st.Deferred != 1 || st.Failed != 0 {
		t.Fatalf("stats after refusal = %+v", st)
	}

	in.Retry(context.Background())
	if st := in.Stats(); st.Deferred != 1 || st.Submitted != 0 {
		t.Fatalf("stats after second refusal = %+v", st)
	}

	in.Retry(context.Background())
	if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("file should be removed once the queue accepts it")
	}
	if st := in.Stats(); st.Seen != 1 || st.Submitted != 1 || st.Deferred != 0 {
		t.Fatalf("stats after acceptance = %+v", st)
	}
}

func TestRetryDropsVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{full: 1}
	in := NewInbox(dir, sub, nil, quiet)
	p := filepath.Join(dir, "a.png")
	_ = os.WriteFile(p, []byte("x"), 0o600)

	in.Handle(context.Background(), p)
	_ = os.Remove(p)
	in.Retry(context.Background())
	if st := in.Stats(); st.Deferred != 0 || st.Submitted != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRunRetriesRefusedFiles(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "busy.png"), []byte("x"), 0o600)

	sub := &fakeSubmitter{full: 1}
	in := NewInbox(dir, sub, nil, quiet)
	in.debounce = 10 * time.Millisecond
	in.retryEvery = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = in.Run(ctx) }()

	waitFor(t, func() bool { return sub.count() == 1 })
	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "busy.png"))
		return errors.Is(err, os.ErrNotExist)
	})
}

func TestStartWatcherDebouncesRepeatedBursts(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{dir}, Debounce: 30 * time.Millisecond, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}

	for round, name := range []string{"a.png", "b.png", "c.png"} {
		p := filepath.Join(dir, name)
		for i := 0; i < 3; i++ {
			_ = os.WriteFile(p, []byte{byte(i)}, 0o600)
		}
		select {
		case got := <-events:
			if got != p {
				t.Fatalf("round %d: got %s, want %s", round, got, p)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: no event for %s", round, name)
		}
		select {
		case got := <-events:
			t.Fatalf("round %d: burst should coalesce, extra event %s", round, got)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestRunPicksUpExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "existing.jpg"), []byte("x"), 0o600)
	_ = os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600)

	sub := &fakeSubmitter{}
	in := NewInbox(dir, sub, []string{"en"}, quiet)
	in.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	waitFor(t, func() bool { return sub.count() == 1 })
	_ = os.WriteFile(filepath.Join(dir, "new.png"), []byte("x"), 0o600)
	waitFor(t, func() bool { return sub.count() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if _, err := os.Stat(filepath.Join(dir, "ignored.txt")); err != nil {
		t.Fatal("unaccepted files are untouched")
	}
}

func TestStartWatcherNoRoots(t *testing.T) {
	if _, _, err := StartWatcher(context.Background(), WatchConfig{Logger: quiet}); err == nil {
		t.Fatal("expected error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

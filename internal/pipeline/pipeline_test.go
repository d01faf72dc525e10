package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/jobstore"
	"github.com/joseph-ayodele/pii-masker/internal/langdetect"
	"github.com/joseph-ayodele/pii-masker/internal/ocr"
	"github.com/joseph-ayodele/pii-masker/internal/pii"
	"github.com/joseph-ayodele/pii-masker/internal/redact"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeReader struct {
	frags []entity.Fragment
	err   error
	panic bool
}

func (f fakeReader) Read(context.Context, string, []string) ([]entity.Fragment, error) {
	if f.panic {
		panic("reader exploded")
	}
	return slices.Clone(f.frags), f.err
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, []entity.Fragment) ([]entity.Detection, []entity.Detection, error) {
	return nil, nil, errors.New("ner unavailable")
}

type recordingSink struct {
	mu   sync.Mutex
	jobs []entity.Job
}

func (r *recordingSink) JobFinished(_ context.Context, job entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

type fixture struct {
	dir   string
	store *jobstore.Store
	p     *Pipeline
	sink  *recordingSink
}

func newFixture(t *testing.T, reader fakeReader) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := jobstore.New(jobstore.WithLogger(quiet))
	engine := ocr.NewEngine(reader, ocr.WithLogger(quiet))
	sink := &recordingSink{}
	p := New(store,
		langdetect.New(reader, nil, quiet),
		engine,
		pii.New(nil),
		redact.New(dir, quiet),
		quiet,
	).WithSink(sink)
	return &fixture{dir: dir, store: store, p: p, sink: sink}
}

func (f *fixture) writeImage(t *testing.T, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(f.dir, name)
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer out.Close()
	if err := png.Encode(out, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func (f *fixture) assertClean(t *testing.T, jobID, src string) {
	t.Helper()
	for _, p := range []string{src, filepath.Join(f.dir, jobID+"_masked.png")} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("artefact %s should be removed, stat err=%v", p, err)
		}
	}
}

func frag(text string, conf float64, x float64) entity.Fragment {
	return entity.Fragment{BBox: entity.QuadFromBox(x, 10, 40, 20), Text: text, Confidence: conf}
}

func TestRunCompleted(t *testing.T) {
	f := newFixture(t, fakeReader{frags: []entity.Fragment{
		frag("jane@example.com", 0.9, 0),
		frag("9876543210", 0.4, 50),
		frag("Total", 0.99, 100),
	}})
	src := f.writeImage(t, "j1.png")
	_ = f.store.Create("j1")

	out := f.p.Run(context.Background(), Request{JobID: "j1", ImagePath: src})
	if out.Status != constants.JobStatusCompleted {
		t.Fatalf("expected completed, got %+v", out)
	}
	job, _ := f.store.Get("j1")
	want := []constants.JobStatus{constants.JobStatusPending, constants.JobStatusProcessing, constants.JobStatusCompleted}
	if !slices.Equal(job.History, want) {
		t.Fatalf("history = %v", job.History)
	}
	res := job.Result
	if len(res.Detections) != 2 || len(res.Flagged) != 1 || res.Flagged[0].Type != constants.PIIPhone {
		t.Fatalf("unexpected result %+v", res)
	}
	if !slices.Equal(res.Languages, []string{"en"}) {
		t.Fatalf("languages = %v", res.Languages)
	}
	if len(res.RedactedImage) == 0 || res.RedactedMIME != "image/png" {
		t.Fatal("expected redacted png bytes")
	}
	f.assertClean(t, "j1", src)
	if len(f.sink.jobs) != 1 || f.sink.jobs[0].Status != constants.JobStatusCompleted {
		t.Fatalf("sink not notified: %+v", f.sink.jobs)
	}
}

func TestRunEmptyOCRDefaultsEnglish(t *testing.T) {
	f := newFixture(t, fakeReader{})
	src := f.writeImage(t, "j1.png")
	_ = f.store.Create("j1")

	out := f.p.Run(context.Background(), Request{JobID: "j1", ImagePath: src})
	if out.Status != constants.JobStatusCompleted || !slices.Equal(out.Result.Languages, []string{"en"}) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(out.Result.Detections) != 0 {
		t.Fatal("expected no detections")
	}
}

func TestRunStageFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
		langs []string
		stage string
	}{
		{"ocr", func(f *fixture) {
			r := fakeReader{err: errors.New("tesseract missing")}
			f.p.OCR = ocr.NewEngine(r, ocr.WithLogger(quiet))
		}, []string{"en"}, StageOCR},
		{"language", func(f *fixture) {
			f.p.Languages = langdetect.New(fakeReader{err: errors.New("probe failed")}, nil, quiet)
		}, nil, StageLanguage},
		{"classify", func(f *fixture) { f.p.Classifier = failingClassifier{} }, []string{"en"}, StageClassify},
		{"panic", func(f *fixture) {
			f.p.OCR = ocr.NewEngine(fakeReader{panic: true}, ocr.WithLogger(quiet))
		}, []string{"hi"}, StageOCR},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, fakeReader{frags: []entity.Fragment{frag("jane@example.com", 0.9, 0)}})
			tc.setup(f)
			src := f.writeImage(t, "j1.png")
			_ = f.store.Create("j1")

			out := f.p.Run(context.Background(), Request{JobID: "j1", ImagePath: src, Languages: tc.langs})
			if out.Status != constants.JobStatusFailed || out.Failure == nil || out.Failure.Stage != tc.stage {
				t.Fatalf("expected failure at %s, got %+v", tc.stage, out)
			}
			job, _ := f.store.Get("j1")
			if job.Status != constants.JobStatusFailed || job.Result != nil {
				t.Fatalf("failed job must not carry a result: %+v", job)
			}
			f.assertClean(t, "j1", src)
		})
	}
}

func TestRunRedactFailureRemovesSource(t *testing.T) {
	f := newFixture(t, fakeReader{frags: []entity.Fragment{frag("jane@example.com", 0.9, 0)}})
	src := filepath.Join(f.dir, "broken.png")
	if err := os.WriteFile(src, []byte("not a png"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.store.Create("j1")

	out := f.p.Run(context.Background(), Request{JobID: "j1", ImagePath: src, Languages: []string{"en"}})
	if out.Failure == nil || out.Failure.Stage != StageRedact {
		t.Fatalf("expected redact failure, got %+v", out)
	}
	f.assertClean(t, "j1", src)
}

func TestRunCancelledContext(t *testing.T) {
	f := newFixture(t, fakeReader{frags: []entity.Fragment{frag("x", 0.9, 0)}})
	src := f.writeImage(t, "j1.png")
	_ = f.store.Create("j1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.p.Run(ctx, Request{JobID: "j1", ImagePath: src, Languages: []string{"en"}})
	if out.Status != constants.JobStatusFailed {
		t.Fatalf("cancelled job should fail, got %+v", out)
	}
	f.assertClean(t, "j1", src)
}

func TestRunRejectsNonPendingJob(t *testing.T) {
	f := newFixture(t, fakeReader{})
	src := f.writeImage(t, "j1.png")
	_ = f.store.Create("j1")
	_ = f.store.Start("j1")

	out := f.p.Run(context.Background(), Request{JobID: "j1", ImagePath: src})
	if out.Failure == nil || out.Failure.Stage != StageStore {
		t.Fatalf("expected store rejection, got %+v", out)
	}
	if out.Status != constants.JobStatusProcessing {
		t.Fatalf("rejected run should report the current status, got %q", out.Status)
	}
	if st, _ := f.store.Status("j1"); st != constants.JobStatusProcessing {
		t.Fatalf("rejected run must not touch the record, status %s", st)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("rejected run must leave the source image to its owner: %v", err)
	}
	if len(f.sink.jobs) != 0 {
		t.Fatal("rejected run must not notify the sink")
	}
}

func TestRunUnknownJob(t *testing.T) {
	f := newFixture(t, fakeReader{})
	src := f.writeImage(t, "ghost.png")
	out := f.p.Run(context.Background(), Request{JobID: "ghost", ImagePath: src})
	if out.Failure == nil || out.Status != constants.JobStatusFailed {
		t.Fatalf("expected failed outcome for unknown job, got %+v", out)
	}
	f.assertClean(t, "ghost", src)
}

func TestRemoveIfExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "gone.png")
	if err := RemoveIfExists(p); err != nil {
		t.Fatalf("absent file should be fine: %v", err)
	}
	_ = os.WriteFile(p, []byte("x"), 0o600)
	if err := RemoveIfExists(p); err != nil {
		t.Fatalf("RemoveIfExists: %v", err)
	}
	if err := RemoveIfExists(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

// Package pipeline drives one job through language detection, OCR,
// classification and redaction, and commits the outcome to the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/redact"
)

// Request is one unit of work.
type Request struct {
	JobID     string
	ImagePath string
	Languages []string
}

// Outcome is the terminal state the pipeline committed.
type Outcome struct {
	Status  constants.JobStatus
	Result  *entity.Result
	Failure *entity.Failure
}

type Pipeline struct {
	Languages  LanguageDetector
	OCR        TextExtractor
	Classifier Classifier
	Redactor   Redactor
	Store      Store
	Sink       OutcomeSink
	Log        *slog.Logger
}

func New(store Store, lang LanguageDetector, ocr TextExtractor, cls Classifier, red Redactor, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{Languages: lang, OCR: ocr, Classifier: cls, Redactor: red, Store: store, Log: log}
}

// WithSink attaches an outcome sink and returns p.
func (p *Pipeline) WithSink(s OutcomeSink) *Pipeline {
	p.Sink = s
	return p
}

// Run executes the job to a terminal state. Stage errors and panics never escape;
// they become a failed job. Once the job has started, the source image and masked
// artefact are removed on every path. A run the store refuses to start leaves the
// files to whichever run owns them, except for unknown jobs whose files nobody owns.
func (p *Pipeline) Run(ctx context.Context, req Request) Outcome {
	log := p.Log.With("job_id", req.JobID)
	start := time.Now()

	if err := p.Store.Start(req.JobID); err != nil {
		log.Error("pipeline.start_rejected", "error", err)
		out := Outcome{Status: constants.JobStatusFailed, Failure: &entity.Failure{Stage: StageStore, Message: err.Error()}}
		if errors.Is(err, common.ErrNotFound) {
			p.cleanup(log, req)
			return out
		}
		if job, gerr := p.Store.Get(req.JobID); gerr == nil {
			out.Status = job.Status
		}
		return out
	}
	defer p.cleanup(log, req)

	res, err := p.runStages(ctx, req)
	if err == nil {
		if err = p.Store.Complete(req.JobID, *res); err != nil {
			err = &StageError{Stage: StageStore, Err: err}
		}
	}
	if err != nil {
		f := failureOf(err)
		log.Error("pipeline.failed", "stage", f.Stage, "error", f.Message, "elapsed_ms", time.Since(start).Milliseconds())
		if ferr := p.Store.Fail(req.JobID, f); ferr != nil {
			log.Error("pipeline.fail_commit", "error", ferr)
		}
		p.notify(ctx, log, req.JobID)
		return Outcome{Status: constants.JobStatusFailed, Failure: &f}
	}

	log.Info("pipeline.completed",
		"languages", res.Languages,
		"detections", len(res.Detections),
		"flagged", len(res.Flagged),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	p.notify(ctx, log, req.JobID)
	return Outcome{Status: constants.JobStatusCompleted, Result: res}
}

func (p *Pipeline) runStages(ctx context.Context, req Request) (res *entity.Result, err error) {
	stage := StageLanguage
	defer func() {
		if r := recover(); r != nil {
			p.Log.Error("pipeline.panic", "job_id", req.JobID, "stage", stage, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	fail := func(e error) error { return &StageError{Stage: stage, Err: e} }

	langs, err := p.Languages.Detect(ctx, req.ImagePath, req.Languages)
	if err != nil {
		return nil, fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	stage = StageOCR
	frags, err := p.OCR.Extract(ctx, req.ImagePath, langs)
	if err != nil {
		return nil, fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	stage = StageClassify
	detections, flagged, err := p.Classifier.Classify(ctx, frags)
	if err != nil {
		return nil, fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	stage = StageRedact
	out, err := p.Redactor.Redact(ctx, req.JobID, req.ImagePath, detections)
	if err != nil {
		return nil, fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	return &entity.Result{
		Detections:    detections,
		Flagged:       flagged,
		RedactedImage: out.Bytes,
		RedactedMIME:  redact.MIMEType,
		Languages:     langs,
	}, nil
}

func failureOf(err error) entity.Failure {
	var se *StageError
	if errors.As(err, &se) {
		return entity.Failure{Stage: se.Stage, Message: se.Err.Error()}
	}
	return entity.Failure{Stage: "unknown", Message: err.Error()}
}

func (p *Pipeline) notify(ctx context.Context, log *slog.Logger, jobID string) {
	if p.Sink == nil {
		return
	}
	job, err := p.Store.Get(jobID)
	if err != nil {
		log.Warn("pipeline.sink.lookup", "error", err)
		return
	}
	// job ctx may already be cancelled
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.Sink.JobFinished(sctx, job); err != nil {
		log.Warn("pipeline.sink.failed", "error", err)
	}
}

func (p *Pipeline) cleanup(log *slog.Logger, req Request) {
	paths := []string{req.ImagePath}
	if p.Redactor != nil {
		paths = append(paths, p.Redactor.OutputPath(req.JobID))
	}
	for _, path := range paths {
		if err := RemoveIfExists(path); err != nil {
			log.Warn("pipeline.cleanup", "path", path, "error", err)
		}
	}
}

// RemoveIfExists deletes path, treating an already absent file as success.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

package pipeline

import (
	"context"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/redact"
)

// Stage names recorded on failures.
const (
	StageLanguage = "language"
	StageOCR      = "ocr"
	StageClassify = "classify"
	StageRedact   = "redact"
	StageStore    = "store"
)

type LanguageDetector interface {
	Detect(ctx context.Context, imagePath string, supplied []string) ([]string, error)
}

type TextExtractor interface {
	Extract(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error)
}

type Classifier interface {
	Classify(ctx context.Context, frags []entity.Fragment) (detections, flagged []entity.Detection, err error)
}

type Redactor interface {
	Redact(ctx context.Context, jobID, srcPath string, detections []entity.Detection) (redact.Output, error)
	OutputPath(jobID string) string
}

// Store is the slice of the job store the pipeline writes to.
type Store interface {
	Start(id string) error
	Complete(id string, res entity.Result) error
	Fail(id string, f entity.Failure) error
	Get(id string) (entity.Job, error)
}

// OutcomeSink receives every terminal job, e.g. for auditing.
type OutcomeSink interface {
	JobFinished(ctx context.Context, job entity.Job) error
}

// StageError ties an error to the stage that raised it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

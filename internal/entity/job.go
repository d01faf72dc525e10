package entity

import (
	"maps"
	"slices"
	"time"

	"github.com/joseph-ayodele/pii-masker/constants"
)

// Fragment is one OCR-extracted text span.
type Fragment struct {
	BBox       Quad    `json:"bbox"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Detection is a fragment classified with a PII type.
type Detection struct {
	Fragment
	Type constants.PIIType `json:"type"`
}

// Result is the payload of a completed job.
type Result struct {
	Detections    []Detection `json:"detections"`
	Flagged       []Detection `json:"flagged"`
	RedactedImage []byte      `json:"redacted_image"`
	RedactedMIME  string      `json:"redacted_mime"`
	Languages     []string    `json:"languages"`
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	return &Result{
		Detections:    slices.Clone(r.Detections),
		Flagged:       slices.Clone(r.Flagged),
		RedactedImage: slices.Clone(r.RedactedImage),
		RedactedMIME:  r.RedactedMIME,
		Languages:     slices.Clone(r.Languages),
	}
}

// Failure describes why a job ended in the failed state.
type Failure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Review holds the human decisions keyed by detection index.
type Review struct {
	Decisions  map[int]bool `json:"decisions"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Job is a point-in-time copy of a stored job record.
type Job struct {
	ID         string                `json:"id"`
	Status     constants.JobStatus   `json:"status"`
	History    []constants.JobStatus `json:"history"`
	Result     *Result               `json:"result,omitempty"`
	Failure    *Failure              `json:"failure,omitempty"`
	Review     *Review               `json:"review,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	out := j
	out.History = slices.Clone(j.History)
	out.Result = j.Result.Clone()
	if j.Failure != nil {
		f := *j.Failure
		out.Failure = &f
	}
	if j.Review != nil {
		out.Review = &Review{Decisions: maps.Clone(j.Review.Decisions), RecordedAt: j.Review.RecordedAt}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Package service is the caller-facing façade over the job store and pipeline:
// it validates uploads, admits jobs to the worker pool and answers queries.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/async"
	"github.com/joseph-ayodele/pii-masker/internal/audit"
	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/jobstore"
	"github.com/joseph-ayodele/pii-masker/internal/pipeline"
	"github.com/joseph-ayodele/pii-masker/internal/report"
)

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Outcome
}

// PageRenderer turns a document into a single image.
type PageRenderer interface {
	RenderFirstPage(ctx context.Context, pdfPath, outPath string) (string, error)
}

// Config holds the service limits.
type Config struct {
	WorkDir  string
	MaxBytes int64
}

type Service struct {
	cfg      Config
	store    *jobstore.Store
	queue    async.Queue
	runner   Runner
	renderer PageRenderer
	reports  *report.Builder
	sink     audit.Sink
	logger   *slog.Logger
	newID    func() string
}

func New(cfg Config, store *jobstore.Store, queue async.Queue, runner Runner, renderer PageRenderer, sink audit.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = constants.MaxUploadBytesDefault
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		runner:   runner,
		renderer: renderer,
		reports:  report.NewBuilder(logger),
		sink:     sink,
		logger:   logger,
		newID:    func() string { return uuid.New().String() },
	}
}

// UploadRequest is one incoming document.
type UploadRequest struct {
	Filename    string
	ContentType string
	Body        io.Reader
	// Size is the declared length, or 0 when unknown.
	Size      int64
	Languages []string
}

// Upload validates the document, stores it under the work directory and
// admits a pending job. It returns as soon as the job is queued.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (string, error) {
	format := constants.MapContentTypeToFormat(req.ContentType)
	ext := constants.ExtForContentType(req.ContentType)
	if strings.TrimSpace(req.ContentType) == "" && req.Filename != "" {
		ext = constants.NormalizeExt(filepath.Ext(req.Filename))
		format = constants.MapExtToFormat(ext)
	}
	if format == "" {
		s.logger.Warn("upload rejected: unsupported media", "content_type", req.ContentType, "filename", req.Filename)
		return "", common.NewAppError("UPLOAD", fmt.Sprintf("unsupported content type %q", req.ContentType), common.ErrUnsupportedMedia)
	}
	if req.Size > s.cfg.MaxBytes {
		s.logger.Warn("upload rejected: too large", "size", req.Size, "max", s.cfg.MaxBytes)
		return "", common.NewAppError("UPLOAD", fmt.Sprintf("payload of %d bytes exceeds %d", req.Size, s.cfg.MaxBytes), common.ErrPayloadTooLarge)
	}
	if req.Body == nil {
		return "", common.NewAppError("UPLOAD", "empty body", common.ErrInvalidInput)
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return "", common.NewAppError("UPLOAD", fmt.Sprintf("payload exceeds %d bytes", s.cfg.MaxBytes), common.ErrPayloadTooLarge)
	}
	if len(data) == 0 {
		return "", common.NewAppError("UPLOAD", "empty body", common.ErrInvalidInput)
	}
	if format == constants.IMAGE {
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return "", common.NewAppError("UPLOAD", "body is not a decodable image", common.ErrUnsupportedMedia)
		}
	}

	return s.admit(ctx, format, ext, data, req.Languages)
}

// SubmitPath reads a file from disk and submits it like an upload. The original file is left in place.
func (s *Service) SubmitPath(ctx context.Context, path string, languages []string) (string, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if !constants.IsAllowedExt(ext) {
		return "", common.NewAppError("SUBMIT", fmt.Sprintf("unsupported extension %q", ext), common.ErrUnsupportedMedia)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return s.Upload(ctx, UploadRequest{Filename: filepath.Base(path), Body: f, Size: size, Languages: languages})
}

func (s *Service) admit(ctx context.Context, format, ext string, data []byte, languages []string) (string, error) {
	if err := os.MkdirAll(s.cfg.WorkDir, 0o750); err != nil {
		return "", fmt.Errorf("work dir: %w", err)
	}
	id := s.newID()
	src := filepath.Join(s.cfg.WorkDir, id+"."+ext)
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	imagePath := src
	if format == constants.PDF {
		out, err := s.renderer.RenderFirstPage(ctx, src, filepath.Join(s.cfg.WorkDir, id+".png"))
		_ = pipeline.RemoveIfExists(src)
		if err != nil {
			s.logger.Error("pdf render failed", "job_id", id, "error", err)
			if errors.Is(err, common.ErrUnsupportedMedia) {
				return "", err
			}
			return "", common.NewAppError("UPLOAD", "could not render document", errors.Join(common.ErrUnsupportedMedia, err))
		}
		imagePath = out
	}

	if err := s.store.Create(id); err != nil {
		_ = pipeline.RemoveIfExists(imagePath)
		return "", err
	}
	req := pipeline.Request{JobID: id, ImagePath: imagePath, Languages: languages}
	err := s.queue.TrySubmit(async.Task{ID: id, Run: func(ctx context.Context) {
		s.runner.Run(ctx, req)
	}})
	if err != nil {
		// never picked up: roll the admission back so the id is never observable
		if derr := s.store.Discard(id); derr != nil {
			s.logger.Error("discard after rejected submit", "job_id", id, "error", derr)
		}
		_ = pipeline.RemoveIfExists(imagePath)
		s.logger.Warn("job rejected", "job_id", id, "error", err)
		if errors.Is(err, async.ErrShuttingDown) {
			return "", common.NewAppError("SUBMIT", "service is shutting down", common.ErrQueueFull)
		}
		return "", err
	}
	s.logger.Info("job queued", "job_id", id, "format", format, "languages", languages, "bytes", len(data))
	return id, nil
}

// Status returns the current job status.
func (s *Service) Status(_ context.Context, id string) (constants.JobStatus, error) {
	return s.store.Status(id)
}

// Result returns the result of a completed job.
func (s *Service) Result(_ context.Context, id string) (*entity.Result, error) {
	return s.store.Result(id)
}

// Job returns the full job record.
func (s *Service) Job(_ context.Context, id string) (entity.Job, error) {
	return s.store.Get(id)
}

// RecordReview stores the reviewer's decisions and forwards them to the audit sink.
func (s *Service) RecordReview(ctx context.Context, id string, decisions map[int]bool) error {
	if err := s.store.RecordReview(id, decisions); err != nil {
		return err
	}
	if err := s.sink.ReviewRecorded(ctx, id, decisions); err != nil {
		s.logger.Warn("audit review failed", "job_id", id, "error", err)
	}
	s.logger.Info("review recorded", "job_id", id, "decisions", len(decisions))
	return nil
}

// ReviewReport renders the XLSX review workbook of a completed job.
func (s *Service) ReviewReport(_ context.Context, id string) ([]byte, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return s.reports.ReviewXLSX(job)
}

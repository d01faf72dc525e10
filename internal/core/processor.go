// Package core assembles the redaction stack from configuration.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/pii-masker/internal/async"
	"github.com/joseph-ayodele/pii-masker/internal/audit"
	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/convert"
	"github.com/joseph-ayodele/pii-masker/internal/janitor"
	"github.com/joseph-ayodele/pii-masker/internal/jobstore"
	"github.com/joseph-ayodele/pii-masker/internal/langdetect"
	"github.com/joseph-ayodele/pii-masker/internal/ner"
	"github.com/joseph-ayodele/pii-masker/internal/ocr"
	"github.com/joseph-ayodele/pii-masker/internal/pii"
	"github.com/joseph-ayodele/pii-masker/internal/pipeline"
	"github.com/joseph-ayodele/pii-masker/internal/redact"
	"github.com/joseph-ayodele/pii-masker/internal/service"
	"github.com/joseph-ayodele/pii-masker/internal/vision"
)

// Processor owns every long-lived component of a running instance.
type Processor struct {
	Config   *common.Config
	Store    *jobstore.Store
	Pipeline *pipeline.Pipeline
	Pool     *async.Pool
	Service  *service.Service
	Sink     audit.Sink
	Janitor  *janitor.Janitor

	logger *slog.Logger
}

// NewProcessor wires the stack. The work directory is wiped before anything is queued.
func NewProcessor(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	jan := janitor.New(cfg.Storage.WorkDir, cfg.Janitor.Schedule, cfg.Janitor.MaxAge, logger)
	if _, err := jan.Reset(); err != nil {
		return nil, err
	}

	sink, err := audit.Open(ctx, cfg.Audit.Driver, cfg.Audit.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	store := jobstore.New(jobstore.WithLogger(logger))
	p, err := BuildPipeline(cfg, store, logger)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	p.WithSink(sink)

	pool := async.NewPool(logger,
		async.WithWorkers(cfg.Workers.Count),
		async.WithQueueSize(cfg.Workers.QueueSize),
		async.WithTaskTimeout(cfg.Workers.JobTimeout),
		async.WithBaseContext(context.WithoutCancel(ctx)),
	)
	renderer := convert.NewPDFRenderer(cfg.OCR.PdftoppmBin, cfg.Upload.RenderScale, ocr.ExecRunner{Logger: logger}, logger)
	svc := service.New(service.Config{WorkDir: cfg.Storage.WorkDir, MaxBytes: cfg.Upload.MaxBytes},
		store, pool, p, renderer, sink, logger)

	if err := jan.Start(); err != nil {
		_ = pool.Shutdown(ctx)
		_ = sink.Close()
		return nil, err
	}

	logger.Info("processor ready",
		"workers", cfg.Workers.Count,
		"queue_size", cfg.Workers.QueueSize,
		"ocr_backend", cfg.OCR.Backend,
		"vision", cfg.Remote.VisionURL != "",
		"ner", cfg.Remote.NERURL != "",
		"audit", cfg.Audit.Driver,
	)
	return &Processor{
		Config:   cfg,
		Store:    store,
		Pipeline: p,
		Pool:     pool,
		Service:  svc,
		Sink:     sink,
		Janitor:  jan,
		logger:   logger,
	}, nil
}

// BuildPipeline assembles the stage chain over store.
func BuildPipeline(cfg *common.Config, store pipeline.Store, logger *slog.Logger) (*pipeline.Pipeline, error) {
	primary, err := PrimaryReader(cfg.OCR, logger)
	if err != nil {
		return nil, err
	}

	opts := []ocr.EngineOption{ocr.WithLogger(logger)}
	if cfg.Remote.VisionURL != "" {
		vc, err := vision.New(vision.Config{
			URL:     cfg.Remote.VisionURL,
			APIKey:  cfg.Remote.VisionAPIKey,
			Timeout: cfg.Remote.HTTPTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ocr.WithSecondary(vc))
	}
	engine := ocr.NewEngine(primary, opts...)

	var recognizer ner.Recognizer = ner.Nop{}
	if cfg.Remote.NERURL != "" {
		recognizer = ner.New(cfg.Remote.NERURL, cfg.Remote.HTTPTimeout, logger)
	}

	return pipeline.New(store,
		langdetect.New(primary, langdetect.ScriptIdentifier{}, logger),
		engine,
		pii.New(recognizer),
		redact.New(cfg.Storage.WorkDir, logger),
		logger,
	), nil
}

// PrimaryReader returns the configured OCR backend.
func PrimaryReader(cfg common.OCRConfig, logger *slog.Logger) (ocr.Reader, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "cli":
		return ocr.NewTesseractReader(ocr.TesseractConfig{
			Bin:         cfg.TesseractBin,
			TessdataDir: cfg.TessdataDir,
		}, ocr.ExecRunner{Logger: logger}, logger), nil
	case "gosseract":
		return ocr.NewGosseractReader(cfg.TessdataDir, logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown OCR backend %q", cfg.Backend), common.ErrInvalidInput)
	}
}

// Shutdown stops accepting work, drains the pool and releases the audit sink.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.Janitor.Stop(ctx)
	poolErr := p.Pool.Shutdown(ctx)
	sinkErr := p.Sink.Close()
	p.logger.Info("processor stopped", "pending_jobs", p.Store.Len())
	return errors.Join(poolErr, sinkErr)
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/convert"
	"github.com/joseph-ayodele/pii-masker/internal/core"
	"github.com/joseph-ayodele/pii-masker/internal/jobstore"
	"github.com/joseph-ayodele/pii-masker/internal/ocr"
	"github.com/joseph-ayodele/pii-masker/internal/pipeline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	langs := flag.String("lang", "", "comma separated language codes (en,hi,ml); empty = detect")
	out := flag.String("out", "", "where to write the redacted PNG (default <input>_masked.png)")
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runredact [-lang en,hi] [-out masked.png] <image-or-pdf>")
		os.Exit(2)
	}
	input := flag.Arg(0)
	ext := constants.NormalizeExt(filepath.Ext(input))
	if !constants.IsAllowedExt(ext) {
		logger.Error("unsupported file type", "path", input)
		os.Exit(2)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	workDir, err := os.MkdirTemp("", "runredact-*")
	if err != nil {
		logger.Error("temp dir", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workDir)
	cfg.Storage.WorkDir = workDir

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// the pipeline owns and removes its input, so work on a copy
	jobID := uuid.NewString()
	src := filepath.Join(workDir, jobID+"."+ext)
	data, err := os.ReadFile(input)
	if err != nil {
		logger.Error("read input", "path", input, "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(src, data, 0o600); err != nil {
		logger.Error("copy input", "error", err)
		os.Exit(1)
	}
	if constants.MapExtToFormat(ext) == constants.PDF {
		r := convert.NewPDFRenderer(cfg.OCR.PdftoppmBin, cfg.Upload.RenderScale, ocr.ExecRunner{Logger: logger}, logger)
		if src, err = r.RenderFirstPage(ctx, src, filepath.Join(workDir, jobID+".png")); err != nil {
			logger.Error("render pdf", "error", err)
			os.Exit(1)
		}
	}

	store := jobstore.New(jobstore.WithLogger(logger))
	p, err := core.BuildPipeline(cfg, store, logger)
	if err != nil {
		logger.Error("build pipeline", "error", err)
		os.Exit(1)
	}
	if err := store.Create(jobID); err != nil {
		logger.Error("create job", "error", err)
		os.Exit(1)
	}

	var languages []string
	for _, l := range strings.Split(*langs, ",") {
		if l = strings.TrimSpace(l); l != "" {
			languages = append(languages, l)
		}
	}

	start := time.Now()
	outcome := p.Run(ctx, pipeline.Request{JobID: jobID, ImagePath: src, Languages: languages})
	dur := time.Since(start)
	if outcome.Failure != nil {
		logger.Error("redaction failed",
			"job_id", jobID, "stage", outcome.Failure.Stage, "error", outcome.Failure.Message, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	dest := *out
	if dest == "" {
		dest = strings.TrimSuffix(input, filepath.Ext(input)) + "_masked.png"
	}
	if err := os.WriteFile(dest, outcome.Result.RedactedImage, 0o644); err != nil {
		logger.Error("write output", "path", dest, "error", err)
		os.Exit(1)
	}

	type row struct {
		Type       constants.PIIType `json:"type"`
		Text       string            `json:"text"`
		Confidence float64           `json:"confidence"`
	}
	report := struct {
		JobID      string   `json:"job_id"`
		Output     string   `json:"output"`
		Languages  []string `json:"languages"`
		Detections []row    `json:"detections"`
		Flagged    int      `json:"flagged"`
	}{JobID: jobID, Output: dest, Languages: outcome.Result.Languages, Flagged: len(outcome.Result.Flagged)}
	for _, d := range outcome.Result.Detections {
		report.Detections = append(report.Detections, row{Type: d.Type, Text: d.Text, Confidence: d.Confidence})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("redaction OK",
		"job_id", jobID,
		"detections", len(outcome.Result.Detections),
		"flagged", len(outcome.Result.Flagged),
		"duration_ms", dur.Milliseconds(),
	)
}

// Package redact paints opaque boxes over detections.
package redact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	// extra input formats accepted from uploads
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// MIMEType of every redacted image.
const MIMEType = "image/png"

// Output is a persisted redacted image.
type Output struct {
	Path  string
	Bytes []byte
}

// Redactor masks detections and writes the result under a work directory.
type Redactor struct {
	workDir string
	fill    color.Color
	logger  *slog.Logger
}

func New(workDir string, logger *slog.Logger) *Redactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redactor{workDir: workDir, fill: color.Black, logger: logger}
}

// OutputPath is where the masked artefact for a job is written.
func (r *Redactor) OutputPath(jobID string) string {
	return filepath.Join(r.workDir, jobID+"_masked.png")
}

// Redact masks every detection on the image at srcPath and persists the result as PNG.
func (r *Redactor) Redact(ctx context.Context, jobID, srcPath string, detections []entity.Detection) (Output, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return Output{}, fmt.Errorf("open image: %w", err)
	}
	src, format, err := image.Decode(f)
	_ = f.Close()
	if err != nil {
		return Output{}, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	masked := Mask(src, detections, r.fill)

	var buf bytes.Buffer
	if err := png.Encode(&buf, masked); err != nil {
		return Output{}, fmt.Errorf("encode png: %w", err)
	}
	out := r.OutputPath(jobID)
	if err := os.WriteFile(out, buf.Bytes(), 0o600); err != nil {
		return Output{}, fmt.Errorf("write redacted image: %w", err)
	}
	r.logger.Debug("redact.written", "job_id", jobID, "source_format", format, "boxes", len(detections), "bytes", buf.Len())
	return Output{Path: out, Bytes: buf.Bytes()}, nil
}

// Mask returns an RGBA copy of src with the box of every detection filled.
func Mask(src image.Image, detections []entity.Detection, fill color.Color) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	u := image.NewUniform(fill)
	for _, d := range detections {
		rect := PixelRect(d.BBox).Intersect(b)
		if rect.Empty() {
			continue
		}
		draw.Draw(dst, rect, u, image.Point{}, draw.Src)
	}
	return dst
}

// PixelRect converts a quad into the smallest pixel rectangle covering it.
func PixelRect(q entity.Quad) image.Rectangle {
	r := q.Bounds()
	return image.Rect(
		int(math.Floor(r.MinX)),
		int(math.Floor(r.MinY)),
		int(math.Ceil(r.MaxX)),
		int(math.Ceil(r.MaxY)),
	)
}

//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// GosseractReader reads through the libtesseract bindings instead of the CLI.
type GosseractReader struct {
	tessdataDir string
	logger      *slog.Logger
}

// NewGosseractReader returns the cgo-backed reader.
func NewGosseractReader(tessdataDir string, logger *slog.Logger) (Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &GosseractReader{tessdataDir: tessdataDir, logger: logger}, nil
}

func (g *GosseractReader) Read(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	c := gosseract.NewClient()
	defer c.Close()
	if g.tessdataDir != "" {
		c.TessdataPrefix = g.tessdataDir
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(strings.Split(constants.TesseractLang(languages), "+")...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return nil, fmt.Errorf("set psm: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize lines: %w", err)
	}

	frags := make([]entity.Fragment, 0, len(boxes))
	for _, b := range boxes {
		text := strings.Join(strings.Fields(b.Word), " ")
		if text == "" || b.Confidence < 0 {
			continue
		}
		frags = append(frags, entity.Fragment{
			BBox:       entity.QuadFromBox(float64(b.Box.Min.X), float64(b.Box.Min.Y), float64(b.Box.Dx()), float64(b.Box.Dy())),
			Text:       text,
			Confidence: ClampConfidence(b.Confidence / 100.0),
		})
	}
	g.logger.Debug("ocr.read", "path", imagePath, "backend", "gosseract", "fragments", len(frags))
	return frags, nil
}

// Package convert renders uploaded documents into images the pipeline can read.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/ocr"
)

// baseDPI is the PDF user-space resolution; scale multiplies it.
const baseDPI = 72

// PDFRenderer rasterizes the first page of a PDF with pdftoppm.
type PDFRenderer struct {
	bin    string
	scale  int
	runner ocr.Runner
	logger *slog.Logger
}

func NewPDFRenderer(bin string, scale int, runner ocr.Runner, logger *slog.Logger) *PDFRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ocr.ExecRunner{Logger: logger}
	}
	if bin == "" {
		bin = "pdftoppm"
	}
	if scale < 1 {
		scale = 1
	}
	return &PDFRenderer{bin: bin, scale: scale, runner: runner, logger: logger}
}

// PageCount opens the document and returns its number of pages.
func PageCount(path string) (n int, err error) {
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

// RenderFirstPage writes page 1 of pdfPath to outPath (a .png path) and returns outPath.
// Later pages are ignored.
func (p *PDFRenderer) RenderFirstPage(ctx context.Context, pdfPath, outPath string) (string, error) {
	switch n, err := PageCount(pdfPath); {
	case err != nil:
		// pdftoppm is more forgiving than the parser; let it decide
		p.logger.Warn("convert.pdf.inspect_failed", "path", pdfPath, "error", err)
	case n == 0:
		return "", common.NewAppError("CONVERT", "pdf has no pages", common.ErrUnsupportedMedia)
	case n > 1:
		p.logger.Info("convert.pdf.multipage", "path", pdfPath, "pages", n)
	}

	prefix := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	// pdftoppm -r <dpi> -png -f 1 -l 1 -singlefile <in.pdf> <prefix>
	dpi := strconv.Itoa(baseDPI * p.scale)
	_, errb, err := p.runner.Run(ctx, p.bin, "-r", dpi, "-png", "-f", "1", "-l", "1", "-singlefile", pdfPath, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, ocr.Truncate(strings.TrimSpace(string(errb)), 512))
	}
	rendered := prefix + ".png"
	if _, err := os.Stat(rendered); err != nil {
		return "", fmt.Errorf("pdftoppm produced no output: %w", err)
	}
	if rendered != outPath {
		if err := os.Rename(rendered, outPath); err != nil {
			return "", fmt.Errorf("move rendered page: %w", err)
		}
	}
	return outPath, nil
}

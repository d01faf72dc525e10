package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// TesseractConfig configures the CLI reader.
type TesseractConfig struct {
	Bin         string // binary name or absolute path; if empty -> "tesseract"
	TessdataDir string
	PSM         int // 11 = sparse text, suits forms and ID cards
	OEM         int // leave 0 to use default
}

// TesseractReader shells out to tesseract and groups its word-level TSV into lines.
type TesseractReader struct {
	cfg    TesseractConfig
	runner Runner
	logger *slog.Logger
}

func NewTesseractReader(cfg TesseractConfig, runner Runner, logger *slog.Logger) *TesseractReader {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.Bin == "" {
		cfg.Bin = "tesseract"
	}
	if cfg.PSM == 0 {
		cfg.PSM = 11
	}
	return &TesseractReader{cfg: cfg, runner: runner, logger: logger}
}

func (t *TesseractReader) args(imagePath string, languages []string) []string {
	// tesseract <file> stdout -l <lang> --psm N [--oem N] [--tessdata-dir D] tsv
	args := []string{imagePath, "stdout", "-l", constants.TesseractLang(languages)}
	args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return append(args, "tsv")
}

// Read runs tesseract on imagePath and returns line fragments in reading order.
func (t *TesseractReader) Read(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error) {
	out, errb, err := t.runner.Run(ctx, t.cfg.Bin, t.args(imagePath, languages)...)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w: %s", err, Truncate(strings.TrimSpace(string(errb)), 512))
	}
	frags, err := ParseTSV(out)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("ocr.read", "path", imagePath, "languages", languages, "fragments", len(frags))
	return frags, nil
}

// tesseract TSV columns
const (
	colLevel  = 0
	colPage   = 1
	colBlock  = 2
	colPar    = 3
	colLine   = 4
	colLeft   = 6
	colTop    = 7
	colWidth  = 8
	colHeight = 9
	colConf   = 10
	colText   = 11
	tsvCols   = 12
	wordLevel = 5
)

// ParseTSV converts tesseract TSV output into line fragments.
// Word rows are grouped by page, block, paragraph and line; rows that are not
// words, have conf -1 or blank text are skipped.
func ParseTSV(data []byte) ([]entity.Fragment, error) {
	var (
		frags   []entity.Fragment
		words   []entity.Fragment
		lineKey string
	)
	flush := func() {
		if f, ok := JoinLine(words); ok {
			frags = append(frags, f)
		}
		words = words[:0]
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	first := true
	for sc.Scan() {
		ln := strings.TrimRight(sc.Text(), "\r")
		if first {
			first = false
			if strings.HasPrefix(ln, "level") {
				continue
			}
		}
		if ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < tsvCols-1 {
			continue
		}
		if lvl, err := strconv.Atoi(cols[colLevel]); err != nil || lvl != wordLevel {
			continue
		}
		text := ""
		if len(cols) > colText {
			text = strings.TrimSpace(strings.Join(cols[colText:], "\t"))
		}
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[colConf]), 64)
		if err != nil || conf < 0 {
			continue
		}
		var box [4]float64
		ok := true
		for i, c := range []int{colLeft, colTop, colWidth, colHeight} {
			v, err := strconv.ParseFloat(cols[c], 64)
			if err != nil {
				ok = false
				break
			}
			box[i] = v
		}
		if !ok {
			continue
		}
		key := strings.Join(cols[colPage:colLine+1], "/")
		if key != lineKey {
			flush()
			lineKey = key
		}
		words = append(words, entity.Fragment{
			BBox:       entity.QuadFromBox(box[0], box[1], box[2], box[3]),
			Text:       text,
			Confidence: ClampConfidence(conf / 100),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse tesseract tsv: %w", err)
	}
	flush()
	return frags, nil
}

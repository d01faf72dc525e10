//go:build !gosseract

package ocr

import (
	"errors"
	"log/slog"
)

// ErrGosseractDisabled is returned when the binary was built without the gosseract tag.
var ErrGosseractDisabled = errors.New("gosseract backend not compiled in (build with -tags gosseract)")

// NewGosseractReader is unavailable in this build.
func NewGosseractReader(string, *slog.Logger) (Reader, error) {
	return nil, ErrGosseractDisabled
}

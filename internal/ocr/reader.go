// Package ocr extracts positioned text fragments from images.
package ocr

import (
	"context"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// Reader is a primary OCR source.
type Reader interface {
	Read(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error)
}

// Recognizer is a secondary recognition source consulted for low-confidence fragments.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error)
}

// ClampConfidence forces c into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// MatchIoU is the minimum intersection-over-union for a secondary fragment to
// count as covering the same region as a primary one.
const MatchIoU = 0.5

// Engine runs the primary reader and escalates weak fragments to a secondary recognizer.
type Engine struct {
	primary   Reader
	secondary Recognizer
	threshold float64
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSecondary enables escalation to r.
func WithSecondary(r Recognizer) EngineOption {
	return func(e *Engine) { e.secondary = r }
}

// WithEscalationThreshold overrides the confidence below which fragments escalate.
func WithEscalationThreshold(t float64) EngineOption {
	return func(e *Engine) { e.threshold = t }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(primary Reader, opts ...EngineOption) *Engine {
	e := &Engine{
		primary:   primary,
		threshold: constants.EscalationThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Read implements Reader so the engine can stand in for its primary (e.g. for language probing).
func (e *Engine) Read(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error) {
	return e.primary.Read(ctx, imagePath, languages)
}

// Extract returns fragments in detection order. Fragments below the escalation
// threshold are re-checked against a single secondary pass over the whole image.
func (e *Engine) Extract(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error) {
	frags, err := e.primary.Read(ctx, imagePath, languages)
	if err != nil {
		return nil, fmt.Errorf("primary ocr: %w", err)
	}
	for i := range frags {
		frags[i].Confidence = ClampConfidence(frags[i].Confidence)
	}

	low := 0
	for _, f := range frags {
		if f.Confidence < e.threshold {
			low++
		}
	}
	if low == 0 || e.secondary == nil {
		return frags, nil
	}

	e.logger.Info("ocr.escalate", "path", imagePath, "low_confidence", low, "total", len(frags))
	secondary, err := e.secondary.Recognize(ctx, imagePath, languages)
	if err != nil {
		// escalation only ever improves output, so the primary result stands
		e.logger.Warn("ocr.escalate.failed", "path", imagePath, "error", err)
		return frags, nil
	}
	merged, replaced := Merge(frags, secondary, e.threshold)
	e.logger.Debug("ocr.escalate.merged", "path", imagePath, "candidates", len(secondary), "replaced", replaced)
	return merged, nil
}

// Merge returns a copy of primary where each fragment below threshold takes
// the text and confidence of the best overlapping secondary fragment, when that
// fragment is strictly more confident. BBox, order and count never change.
//
// A secondary fragment overlaps a primary one when their boxes have IoU >= MatchIoU
// or the secondary box centre lies inside the primary box.
func Merge(primary, secondary []entity.Fragment, threshold float64) ([]entity.Fragment, int) {
	out := slices.Clone(primary)
	replaced := 0
	for i, p := range out {
		if p.Confidence >= threshold {
			continue
		}
		pb := p.BBox.Bounds()
		best := -1
		bestConf := p.Confidence
		for j, s := range secondary {
			sb := s.BBox.Bounds()
			if pb.IoU(sb) < MatchIoU && !pb.Contains(sb.Center()) {
				continue
			}
			if c := ClampConfidence(s.Confidence); c > bestConf {
				best, bestConf = j, c
			}
		}
		if best < 0 {
			continue
		}
		out[i].Text = secondary[best].Text
		out[i].Confidence = bestConf
		replaced++
	}
	return out, replaced
}

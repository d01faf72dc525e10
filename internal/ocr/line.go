package ocr

import (
	"math"
	"strings"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// JoinLine merges the words of one text line into a single fragment.
// Text is space-joined, the box is the union of the word boxes and the
// confidence is the lowest word confidence.
func JoinLine(words []entity.Fragment) (entity.Fragment, bool) {
	var (
		parts []string
		box   entity.Rect
		conf  = 1.0
	)
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		b := w.BBox.Bounds()
		if len(parts) == 0 {
			box = b
		} else {
			box.MinX = math.Min(box.MinX, b.MinX)
			box.MinY = math.Min(box.MinY, b.MinY)
			box.MaxX = math.Max(box.MaxX, b.MaxX)
			box.MaxY = math.Max(box.MaxY, b.MaxY)
		}
		parts = append(parts, text)
		conf = math.Min(conf, ClampConfidence(w.Confidence))
	}
	if len(parts) == 0 {
		return entity.Fragment{}, false
	}
	return entity.Fragment{
		BBox:       entity.QuadFromBox(box.MinX, box.MinY, box.Width(), box.Height()),
		Text:       strings.Join(parts, " "),
		Confidence: conf,
	}, true
}

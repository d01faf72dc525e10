// Package vision is a client for a Cloud Vision compatible images:annotate endpoint,
// used as the secondary recognizer for low-confidence OCR output.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/httpx"
	"github.com/joseph-ayodele/pii-masker/internal/ocr"
	"github.com/joseph-ayodele/pii-masker/internal/schema"
)

const featureDocumentText = "DOCUMENT_TEXT_DETECTION"

// Config configures the client.
type Config struct {
	URL     string // full annotate URL
	APIKey  string // sent as ?key=
	Timeout time.Duration
}

type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("vision: URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("vision: parse url: %w", err)
	}
	if cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: u.String(), http: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image        imageContent  `json:"image"`
	Features     []feature     `json:"features"`
	ImageContext *imageContext `json:"imageContext,omitempty"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type imageContext struct {
	LanguageHints []string `json:"languageHints,omitempty"`
}

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Pages []struct {
				Blocks []struct {
					Paragraphs []struct {
						Words []word `json:"words"`
					} `json:"paragraphs"`
				} `json:"blocks"`
			} `json:"pages"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

type word struct {
	BoundingBox struct {
		Vertices []struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"vertices"`
	} `json:"boundingBox"`
	Symbols []struct {
		Text     string `json:"text"`
		Property *struct {
			DetectedBreak *struct {
				Type string `json:"type"`
			} `json:"detectedBreak"`
		} `json:"property"`
	} `json:"symbols"`
	Confidence float64 `json:"confidence"`
}

var responseSchema = schema.MustCompile("vision-response", map[string]any{
	"type":     "object",
	"required": []string{"responses"},
	"properties": map[string]any{
		"responses": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "object"},
		},
	},
})

// Recognize annotates the whole image and returns line fragments.
func (c *Client) Recognize(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("vision: read image: %w", err)
	}
	req := annotateRequest{Requests: []imageRequest{{
		Image:    imageContent{Content: base64.StdEncoding.EncodeToString(data)},
		Features: []feature{{Type: featureDocumentText}},
	}}}
	if len(languages) > 0 {
		req.Requests[0].ImageContext = &imageContext{LanguageHints: languages}
	}

	raw, _, err := httpx.SendJSON(ctx, c.http, httpx.Request{URL: c.endpoint, Body: req, Event: "vision.http"}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	return parseResponse(raw)
}

func parseResponse(raw []byte) ([]entity.Fragment, error) {
	if err := responseSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	var resp annotateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("vision: decode: %w", err)
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, fmt.Errorf("vision: annotate error %d: %s", r.Error.Code, r.Error.Message)
	}
	if r.FullTextAnnotation == nil {
		return nil, nil
	}

	var frags []entity.Fragment
	var line []entity.Fragment
	flush := func() {
		if f, ok := ocr.JoinLine(line); ok {
			frags = append(frags, f)
		}
		line = line[:0]
	}
	for _, p := range r.FullTextAnnotation.Pages {
		for _, b := range p.Blocks {
			for _, para := range b.Paragraphs {
				for _, w := range para.Words {
					if f, ok := w.fragment(); ok {
						line = append(line, f)
					}
					if w.endsLine() {
						flush()
					}
				}
				flush()
			}
		}
	}
	return frags, nil
}

// endsLine reports whether the word's last symbol carries a line break.
func (w word) endsLine() bool {
	if len(w.Symbols) == 0 {
		return false
	}
	p := w.Symbols[len(w.Symbols)-1].Property
	if p == nil || p.DetectedBreak == nil {
		return false
	}
	switch p.DetectedBreak.Type {
	case "EOL_SURE_SPACE", "LINE_BREAK", "HYPHEN":
		return true
	}
	return false
}

func (w word) fragment() (entity.Fragment, bool) {
	var sb strings.Builder
	for _, s := range w.Symbols {
		sb.WriteString(s.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" || len(w.BoundingBox.Vertices) == 0 {
		return entity.Fragment{}, false
	}
	var q entity.Quad
	for i := range q {
		// the API omits trailing vertices and zero coordinates
		v := w.BoundingBox.Vertices[min(i, len(w.BoundingBox.Vertices)-1)]
		q[i] = entity.Point{X: v.X, Y: v.Y}
	}
	return entity.Fragment{BBox: q, Text: text, Confidence: ocr.ClampConfidence(w.Confidence)}, true
}

// Package ner calls a named-entity recognition sidecar over HTTP.
package ner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/pii-masker/internal/httpx"
	"github.com/joseph-ayodele/pii-masker/internal/schema"
)

// Entity labels understood by the classifier.
const (
	LabelPerson = "PERSON"
	LabelDate   = "DATE"
)

// Entity is one recognized span.
type Entity struct {
	Label string
	Text  string
	Start int
	End   int
}

// Recognizer finds named entities in text.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

// Nop recognizes nothing. Used when no sidecar is configured.
type Nop struct{}

func (Nop) Recognize(context.Context, string) ([]Entity, error) { return nil, nil }

// Client calls the sidecar's /classify endpoint.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client pointing at the given base URL (e.g. "http://ner:8001").
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    strings.TrimRight(baseURL, "/") + "/classify",
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Spans []nerSpan `json:"spans"`
}

type nerSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

var responseSchema = schema.MustCompile("ner-response", map[string]any{
	"type":     "object",
	"required": []string{"spans"},
	"properties": map[string]any{
		"spans": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"label"},
				"properties": map[string]any{
					"label": map[string]any{"type": "string", "minLength": 1},
					"text":  map[string]any{"type": "string"},
					"start": map[string]any{"type": "integer", "minimum": 0},
					"end":   map[string]any{"type": "integer", "minimum": 0},
				},
			},
		},
	},
})

// Recognize sends text to the sidecar. Transport and decode failures are returned, never swallowed.
func (c *Client) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	raw, _, err := httpx.SendJSON(ctx, c.http, httpx.Request{
		URL:   c.url,
		Body:  classifyRequest{Text: text},
		Event: "ner.http",
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("ner: %w", err)
	}
	if err := responseSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("ner: %w", err)
	}
	var result classifyResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}

	entities := make([]Entity, 0, len(result.Spans))
	for _, s := range result.Spans {
		entities = append(entities, Entity{
			Label: NormalizeLabel(s.Label),
			Text:  s.Text,
			Start: s.Start,
			End:   s.End,
		})
	}
	return entities, nil
}

// NormalizeLabel folds the label variants different NER models emit.
func NormalizeLabel(label string) string {
	switch l := strings.ToUpper(strings.TrimSpace(label)); l {
	case "PER", "PERSON", "B-PER", "I-PER":
		return LabelPerson
	case "DATE", "B-DATE", "I-DATE":
		return LabelDate
	default:
		return l
	}
}

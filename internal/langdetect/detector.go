// Package langdetect infers the document language when the caller did not supply one.
package langdetect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-text/typesetting/language"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// Prober is the OCR pass used to obtain raw text for identification.
type Prober interface {
	Read(ctx context.Context, imagePath string, languages []string) ([]entity.Fragment, error)
}

// Identifier guesses a language code for a piece of text.
type Identifier interface {
	Identify(text string) string
}

// Detector resolves the languages a job runs with.
type Detector struct {
	probe      Prober
	identifier Identifier
	logger     *slog.Logger
}

func New(probe Prober, identifier Identifier, logger *slog.Logger) *Detector {
	if identifier == nil {
		identifier = ScriptIdentifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{probe: probe, identifier: identifier, logger: logger}
}

// Detect returns the supplied languages, normalised, when any were given.
// Otherwise it probes the image with the default language and identifies the text.
func (d *Detector) Detect(ctx context.Context, imagePath string, supplied []string) ([]string, error) {
	if langs := constants.CanonicalLanguages(supplied); len(langs) > 0 {
		return langs, nil
	}

	frags, err := d.probe.Read(ctx, imagePath, []string{constants.DefaultLanguage})
	if err != nil {
		return nil, fmt.Errorf("language probe: %w", err)
	}
	texts := make([]string, 0, len(frags))
	for _, f := range frags {
		if t := strings.TrimSpace(f.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		d.logger.Debug("langdetect.empty", "path", imagePath)
		return []string{constants.DefaultLanguage}, nil
	}

	raw := d.identifier.Identify(strings.Join(texts, " "))
	lang := constants.CanonicalLanguage(raw)
	d.logger.Debug("langdetect.identified", "path", imagePath, "raw", raw, "language", lang)
	return []string{lang}, nil
}

// scriptLanguages maps a writing system to the language it most likely carries here.
var scriptLanguages = map[language.Script]string{
	language.Latin:      "en",
	language.Devanagari: "hi",
	language.Malayalam:  "ml",
	language.Tamil:      "ta",
	language.Bengali:    "bn",
	language.Telugu:     "te",
	language.Kannada:    "kn",
	language.Gujarati:   "gu",
	language.Gurmukhi:   "pa",
	language.Arabic:     "ar",
	language.Cyrillic:   "ru",
	language.Han:        "zh",
}

// ScriptIdentifier picks the language of the dominant script in the text.
// Punctuation, digits and combining marks do not vote.
type ScriptIdentifier struct{}

func (ScriptIdentifier) Identify(text string) string {
	counts := make(map[language.Script]int)
	best, bestCount := language.Unknown, 0
	for _, r := range text {
		s := language.LookupScript(r)
		if s == language.Common || s == language.Inherited || s == language.Unknown {
			continue
		}
		counts[s]++
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	if bestCount == 0 {
		return ""
	}
	return scriptLanguages[best]
}

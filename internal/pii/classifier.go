// Package pii assigns PII types to OCR fragments.
package pii

import (
	"context"
	"fmt"
	"regexp"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/ner"
)

// Rule is one lexical matcher in the chain.
type Rule struct {
	Type    constants.PIIType
	Pattern *regexp.Regexp
}

// DefaultRules is the lexical chain in priority order; the first match wins.
var DefaultRules = []Rule{
	{constants.PIIEmail, regexp.MustCompile(`[\w.+-]+@[\w-]+(\.[\w-]+)*\.[A-Za-z]{2,}`)},
	{constants.PIIPhone, regexp.MustCompile(`\b[6-9]\d{9}\b`)},
	{constants.PIINationalID, regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\b`)},
	{constants.PIIDate, regexp.MustCompile(`\b\d{2}[-/]\d{2}[-/]\d{4}\b`)},
	{constants.PIIAddress, regexp.MustCompile(`(?i)\b\d+\s+[a-z]+\s+(st|street|rd|road|ave|avenue|lane|ln)\b`)},
}

// Classifier runs the rule chain and the entity pass over each fragment.
type Classifier struct {
	rules      []Rule
	recognizer ner.Recognizer
	threshold  float64
}

type Option func(*Classifier)

// WithRules replaces the lexical chain.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) { c.rules = rules }
}

// WithReviewThreshold overrides the confidence below which detections are flagged.
func WithReviewThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

func New(recognizer ner.Recognizer, opts ...Option) *Classifier {
	if recognizer == nil {
		recognizer = ner.Nop{}
	}
	c := &Classifier{rules: DefaultRules, recognizer: recognizer, threshold: constants.ReviewThreshold}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MatchRules returns the type of the first matching rule, or "" when none matches.
func (c *Classifier) MatchRules(text string) constants.PIIType {
	for _, r := range c.rules {
		if r.Pattern.MatchString(text) {
			return r.Type
		}
	}
	return ""
}

// TypeOf combines the lexical result with recognized entities.
// PERSON always wins; DATE only fills in when nothing else matched.
func TypeOf(lexical constants.PIIType, entities []ner.Entity) constants.PIIType {
	typ := lexical
	sawDate := false
	for _, e := range entities {
		switch e.Label {
		case ner.LabelPerson:
			return constants.PIIName
		case ner.LabelDate:
			sawDate = true
		}
	}
	if typ == "" && sawDate {
		typ = constants.PIIDOB
	}
	return typ
}

// Classify returns the detections in fragment order and the subset below the review threshold.
// Fragments with no type are dropped. The input is not modified.
func (c *Classifier) Classify(ctx context.Context, frags []entity.Fragment) ([]entity.Detection, []entity.Detection, error) {
	detections := make([]entity.Detection, 0, len(frags))
	flagged := make([]entity.Detection, 0)
	for i, f := range frags {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		entities, err := c.recognizer.Recognize(ctx, f.Text)
		if err != nil {
			return nil, nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		typ := TypeOf(c.MatchRules(f.Text), entities)
		if typ == "" {
			continue
		}
		d := entity.Detection{Fragment: f, Type: typ}
		detections = append(detections, d)
		if f.Confidence < c.threshold {
			flagged = append(flagged, d)
		}
	}
	return detections, flagged, nil
}

package pii

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/ner"
)

// fakeNER labels any text containing a key with the mapped label.
type fakeNER map[string]string

func (f fakeNER) Recognize(_ context.Context, text string) ([]ner.Entity, error) {
	var out []ner.Entity
	for k, label := range f {
		if strings.Contains(text, k) {
			out = append(out, ner.Entity{Label: label, Text: k})
		}
	}
	return out, nil
}

type failingNER struct{}

func (failingNER) Recognize(context.Context, string) ([]ner.Entity, error) {
	return nil, errors.New("sidecar down")
}

func fr(text string, conf float64) entity.Fragment {
	return entity.Fragment{BBox: entity.QuadFromBox(0, 0, 10, 10), Text: text, Confidence: conf}
}

func TestLexicalRules(t *testing.T) {
	c := New(nil)
	cases := []struct {
		text string
		want constants.PIIType
	}{
		{"jane@example.com", constants.PIIEmail},
		{"mail: a.b+c@mail.co.in", constants.PIIEmail},
		{"9876543210", constants.PIIPhone},
		{"5876543210", ""},
		{"98765432101", ""},
		{"1234 5678 9012", constants.PIINationalID},
		{"123456789012", constants.PIINationalID},
		{"01/02/1990", constants.PIIDate},
		{"31-12-2001", constants.PIIDate},
		{"12 Baker Street", constants.PIIAddress},
		{"221 MG Road", constants.PIIAddress},
		{"7 elm ave", constants.PIIAddress},
		{"hello world", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := c.MatchRules(tc.text); got != tc.want {
			t.Errorf("MatchRules(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestFirstMatchWins(t *testing.T) {
	c := New(nil)
	cases := []struct {
		text string
		want constants.PIIType
	}{
		// email local part is also a phone number
		{"9876543210@example.com", constants.PIIEmail},
		// phone beats date
		{"9876543210 01/02/1990", constants.PIIPhone},
		// national id beats date and address
		{"1234 5678 9012 on 01/02/1990 at 12 Main St", constants.PIINationalID},
		// date beats address
		{"01/02/1990 12 Main St", constants.PIIDate},
	}
	for _, tc := range cases {
		if got := c.MatchRules(tc.text); got != tc.want {
			t.Errorf("MatchRules(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestScenarios(t *testing.T) {
	c := New(fakeNER{})
	frags := []entity.Fragment{
		fr("jane@example.com", 0.9),
		fr("9876543210", 0.4),
		fr("1234 5678 9012", 0.95),
		fr("Total", 0.99),
	}
	dets, flagged, err := c.Classify(context.Background(), frags)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(dets) != 3 {
		t.Fatalf("expected 3 detections, got %+v", dets)
	}
	want := []constants.PIIType{constants.PIIEmail, constants.PIIPhone, constants.PIINationalID}
	for i, w := range want {
		if dets[i].Type != w {
			t.Errorf("detection %d type = %s, want %s", i, dets[i].Type, w)
		}
	}
	if len(flagged) != 1 || flagged[0].Text != "9876543210" {
		t.Fatalf("expected only the phone flagged, got %+v", flagged)
	}
}

func TestNameOverridesEverything(t *testing.T) {
	c := New(fakeNER{"Jane": ner.LabelPerson, "1990": ner.LabelDate})
	dets, _, err := c.Classify(context.Background(), []entity.Fragment{
		fr("Jane", 0.9),
		fr("Jane jane@example.com", 0.9),
		fr("Jane 01/02/1990", 0.9),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for _, d := range dets {
		if d.Type != constants.PIIName {
			t.Fatalf("PERSON must force NAME, got %s for %q", d.Type, d.Text)
		}
	}
}

func TestDateEntityOnlyFillsGap(t *testing.T) {
	c := New(fakeNER{"March": ner.LabelDate, "01/02/1990": ner.LabelDate})
	dets, _, err := c.Classify(context.Background(), []entity.Fragment{
		fr("born 3 March", 0.9),
		fr("01/02/1990", 0.9),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dets[0].Type != constants.PIIDOB {
		t.Fatalf("entity-only date should be DOB, got %s", dets[0].Type)
	}
	if dets[1].Type != constants.PIIDate {
		t.Fatalf("lexical DATE must not be replaced by DOB, got %s", dets[1].Type)
	}
}

func TestFlaggedIsExactlyLowConfidence(t *testing.T) {
	c := New(nil)
	confs := []float64{0, 0.1, 0.79, 0.7999, 0.8, 0.81, 1}
	var frags []entity.Fragment
	for _, cf := range confs {
		frags = append(frags, fr("9876543210", cf))
	}
	dets, flagged, err := c.Classify(context.Background(), frags)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	var want []float64
	for _, d := range dets {
		if d.Confidence < 0.8 {
			want = append(want, d.Confidence)
		}
	}
	if len(flagged) != len(want) {
		t.Fatalf("flagged %d, want %d", len(flagged), len(want))
	}
	for i := range want {
		if flagged[i].Confidence != want[i] {
			t.Fatalf("flagged[%d] = %v, want %v", i, flagged[i].Confidence, want[i])
		}
	}
}

func TestClassifyDoesNotMutateInput(t *testing.T) {
	frags := []entity.Fragment{fr("jane@example.com", 0.5)}
	before := frags[0]
	_, _, _ = New(nil).Classify(context.Background(), frags)
	if frags[0] != before {
		t.Fatal("input fragment mutated")
	}
}

func TestRecognizerErrorFailsClassification(t *testing.T) {
	_, _, err := New(failingNER{}).Classify(context.Background(), []entity.Fragment{fr("Jane", 0.9)})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestEmptyInput(t *testing.T) {
	dets, flagged, err := New(nil).Classify(context.Background(), nil)
	if err != nil || len(dets) != 0 || len(flagged) != 0 {
		t.Fatalf("unexpected %v %v %v", dets, flagged, err)
	}
}

package ocr

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

type fakeRunner struct {
	name   string
	args   []string
	stdout []byte
	stderr []byte
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.name = name
	f.args = args
	return f.stdout, f.stderr, f.err
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t10\t20\t300\t30\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t20\t150\t30\t96.5\tjane@example.com\n" +
	"5\t1\t1\t1\t1\t2\t170\t20\t140\t30\t41\t9876543210\n" +
	"5\t1\t1\t1\t1\t3\t320\t20\t10\t30\t-1\t \n" +
	"5\t1\t1\t1\t1\t4\t340\t20\t10\t30\t88\t   \n" +
	"5\t1\t1\t1\t2\t1\t10\t60\t50\t30\t95\t1234\n" +
	"5\t1\t1\t1\t2\t2\t70\t62\t50\t30\t91\t5678\n" +
	"5\t1\t1\t1\t2\t3\t130\t60\t50\t30\t93\t9012\n" +
	"5\t1\t2\t1\t1\t1\t10\t100\t30\t30\t90\t12\n" +
	"5\t1\t2\t1\t1\t2\t50\t100\t60\t30\t89\tMain\n" +
	"5\t1\t2\t1\t1\t3\t120\t100\t90\t30\t92\tStreet\n"

func TestParseTSVGroupsWordsIntoLines(t *testing.T) {
	frags, err := ParseTSV([]byte(sampleTSV))
	if err != nil {
		t.Fatalf("ParseTSV: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("expected 3 line fragments, got %d: %+v", len(frags), frags)
	}
	want := []string{"jane@example.com 9876543210", "1234 5678 9012", "12 Main Street"}
	for i, w := range want {
		if frags[i].Text != w {
			t.Fatalf("line %d = %q, want %q", i, frags[i].Text, w)
		}
	}
	if frags[0].Confidence != 0.41 {
		t.Fatalf("line confidence should be the weakest word, got %v", frags[0].Confidence)
	}
	b := frags[1].BBox.Bounds()
	if b.MinX != 10 || b.MinY != 60 || b.MaxX != 180 || b.MaxY != 92 {
		t.Fatalf("line box should be the union of word boxes: %+v", b)
	}
	if frags[1].BBox[1].X != 180 || frags[1].BBox[3].Y != 92 {
		t.Fatalf("quad should be clockwise from top-left: %+v", frags[1].BBox)
	}
}

func TestParseTSVClampsConfidence(t *testing.T) {
	frags, err := ParseTSV([]byte("5\t1\t1\t1\t1\t1\t0\t0\t1\t1\t140\tx\n"))
	if err != nil {
		t.Fatalf("ParseTSV: %v", err)
	}
	if len(frags) != 1 || frags[0].Confidence != 1 {
		t.Fatalf("expected clamped confidence, got %+v", frags)
	}
}

func TestTesseractReaderArgs(t *testing.T) {
	r := &fakeRunner{stdout: []byte(sampleTSV)}
	reader := NewTesseractReader(TesseractConfig{TessdataDir: "/td"}, r, nil)

	frags, err := reader.Read(context.Background(), "/tmp/a.png", []string{"en", "hi"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frags))
	}
	if r.name != "tesseract" {
		t.Fatalf("unexpected binary %q", r.name)
	}
	want := []string{"/tmp/a.png", "stdout", "-l", "eng+hin", "--psm", "11", "--tessdata-dir", "/td", "tsv"}
	if !slices.Equal(r.args, want) {
		t.Fatalf("args = %v, want %v", r.args, want)
	}
}

func TestTesseractReaderError(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("Failed loading language 'mal'")}
	reader := NewTesseractReader(TesseractConfig{}, r, nil)

	_, err := reader.Read(context.Background(), "/tmp/a.png", []string{"ml"})
	if err == nil || !strings.Contains(err.Error(), "mal") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"scanocr/internal/imaging"
	"scanocr/internal/ocr"
	"scanocr/internal/pipeline"
	"scanocr/pkg/models"
)

func TestCollectPageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page-002.png", "page-001.PNG", "notes.txt", "page-003.tif"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(dir, "notes.txt")

	got, err := collectPageFiles([]string{dir, single})
	if err != nil {
		t.Fatalf("collectPageFiles() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "page-001.PNG"),
		filepath.Join(dir, "page-002.png"),
		filepath.Join(dir, "page-003.tif"),
		single,
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("collectPageFiles() = %v, want %v", got, want)
	}

	if _, err := collectPageFiles([]string{filepath.Join(dir, "absent.png")}); err == nil {
		t.Error("collectPageFiles(missing) error = nil")
	}
	if _, err := collectPageFiles([]string{t.TempDir()}); err == nil {
		t.Error("collectPageFiles(empty dir) error = nil")
	}
}

func TestPreprocessFor(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		difficult  bool
		crop       string
		defaults   *imaging.Margins
		wantPreset string
		wantTop    float64
		wantErr    bool
	}{
		{name: "english", script: "english", wantPreset: "latin", wantTop: 6},
		{name: "bangla", script: "bangla", wantPreset: "bengali", wantTop: 6},
		{name: "mixed uses bengali", script: "mixed", wantPreset: "bengali", wantTop: 6},
		{name: "difficult", script: "english", difficult: true, wantPreset: "difficult", wantTop: 6},
		{name: "env crop", script: "english", defaults: &imaging.Margins{Top: 2}, wantPreset: "latin", wantTop: 2},
		{name: "flag crop wins", script: "english", crop: "9,9,1,1", defaults: &imaging.Margins{Top: 2}, wantPreset: "latin", wantTop: 9},
		{name: "bad crop", script: "english", crop: "70,0,0,0", wantErr: true},
		{name: "bad script", script: "tamil", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := preprocessFor(tt.script, tt.difficult, tt.crop, tt.defaults)
			if tt.wantErr {
				if err == nil {
					t.Error("preprocessFor() error = nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("preprocessFor() error = %v", err)
			}
			if got.Name != tt.wantPreset || got.Margins.Top != tt.wantTop {
				t.Errorf("preprocessFor() = %s top %.0f, want %s top %.0f", got.Name, got.Margins.Top, tt.wantPreset, tt.wantTop)
			}
		})
	}
}

func TestHandleOCRError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.Join(pipeline.ErrAllPassesFailed, ocr.ErrEngineTimeout), "timed out"},
		{errors.Join(pipeline.ErrAllPassesFailed, ocr.ErrEngineUnavailable), "TESSDATA_PREFIX"},
		{pipeline.ErrAllPassesFailed, "no readable text"},
		{imaging.NewImageError("Decode", imaging.ErrUnsupportedFormat, "x.pdf"), "unsupported image format"},
		{pipeline.NewPipelineError("LoadPlanFile", -1, pipeline.ErrInvalidPlan, ""), "pass plan"},
		{errors.New("boom"), "OCR processing failed"},
	}

	for _, tt := range tests {
		got := handleOCRError(tt.err, zerolog.Nop())
		if !strings.Contains(got.Error(), tt.want) {
			t.Errorf("handleOCRError(%v) = %q, want it to mention %q", tt.err, got, tt.want)
		}
	}
}

func TestFormatText(t *testing.T) {
	doc := &models.DocumentResult{
		ID:      "doc-1",
		Scripts: models.NewScriptSet(models.ScriptLatin),
		Pages: []models.PageResult{
			{PageIndex: 0, Text: "first page", Confidence: 91, Pass: "latin-book", Engine: "tesseract"},
			{PageIndex: 1, Err: pipeline.ErrAllPassesFailed},
			{PageIndex: 2, Blank: true},
			{PageIndex: 3, Text: "faint", Confidence: 60, Pass: "latin-sparse", Engine: "tesseract", LowConfidence: true},
		},
	}
	doc.Summarize()

	if got := formatText(doc, nil, false); got != "first page\n\n\n\nfaint" {
		t.Errorf("formatText(plain) = %q", got)
	}

	got := formatText(doc, []string{"a.png", "b.png", "c.png", "d.png"}, true)
	for _, want := range []string{"=== Page 1 a.png ===", "Error: all recognition passes failed", "Blank page", "(low confidence)", "Pages: 4 (failed 1, low confidence 1)"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatText(metadata) missing %q in:\n%s", want, got)
		}
	}
}

func TestCleanCommand(t *testing.T) {
	var out bytes.Buffer
	cleanCmd.SetIn(strings.NewReader("T had left, 1 was trying"))
	cleanCmd.SetOut(&out)
	t.Cleanup(func() {
		cleanCmd.SetIn(nil)
		cleanCmd.SetOut(nil)
	})

	if err := runClean(cleanCmd, nil); err != nil {
		t.Fatalf("runClean() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "I had left, I was trying" {
		t.Errorf("clean output = %q", got)
	}
}

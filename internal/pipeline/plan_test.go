package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"scanocr/internal/ocr"
	"scanocr/pkg/models"
)

func TestDefaultPlans(t *testing.T) {
	opts := DefaultPlanOptions()
	opts.Neural = true
	opts.Aggressive = true

	set, err := DefaultPlans(opts)
	if err != nil {
		t.Fatalf("DefaultPlans() error = %v", err)
	}
	if set.Floor != DefaultFloor {
		t.Errorf("Floor = %.1f, want %.1f", set.Floor, DefaultFloor)
	}

	tests := []struct {
		scripts   models.ScriptSet
		first     string
		firstLang []string
	}{
		{models.NewScriptSet(models.ScriptLatin), "latin-book", []string{"eng"}},
		{models.NewScriptSet(models.ScriptBengali), "bengali-book", []string{"ben"}},
		{models.NewScriptSet(models.ScriptLatin, models.ScriptBengali), "mixed-book", []string{"ben", "eng"}},
	}

	for _, tt := range tests {
		t.Run(tt.scripts.Key(), func(t *testing.T) {
			plan, err := set.For(tt.scripts)
			if err != nil {
				t.Fatalf("For() error = %v", err)
			}
			first := plan.Passes[0]
			if first.Name != tt.first || first.Config.Engine != ocr.EngineTesseract {
				t.Errorf("first pass = %s/%s, want %s/tesseract", first.Name, first.Config.Engine, tt.first)
			}
			if len(first.Config.Languages) != len(tt.firstLang) || first.Config.Languages[0] != tt.firstLang[0] {
				t.Errorf("first pass languages = %v, want %v", first.Config.Languages, tt.firstLang)
			}
			if first.Config.PageSegMode != ocr.PSMBook || first.AcceptThreshold != 85 {
				t.Errorf("first pass psm %d accept %.0f, want 6 and 85", first.Config.PageSegMode, first.AcceptThreshold)
			}
			if first.Config.Model != ocr.ModelStandard {
				t.Errorf("Model = %q without best tessdata, want standard", first.Config.Model)
			}

			last := plan.Passes[len(plan.Passes)-1]
			if !last.Fallback || last.Config.Engine != ocr.EngineDocumentAI {
				t.Errorf("last pass = %+v, want documentai fallback", last)
			}
			neural := plan.Passes[len(plan.Passes)-2]
			if neural.Config.Engine != ocr.EngineOpenAI {
				t.Errorf("pass before fallback = %s, want openai", neural.Config.Engine)
			}
		})
	}

	mixed, _ := set.For(models.NewScriptSet(models.ScriptBengali, models.ScriptLatin))
	var targeted int
	for _, p := range mixed.Passes {
		if p.TargetScript != "" {
			targeted++
		}
	}
	if targeted != 2 {
		t.Errorf("mixed plan has %d script-targeted passes, want 2", targeted)
	}
}

func TestDefaultPlans_WithoutFallback(t *testing.T) {
	opts := DefaultPlanOptions()
	opts.Fallback = ""

	set, err := DefaultPlans(opts)
	if err != nil {
		t.Fatalf("DefaultPlans() error = %v", err)
	}
	for _, plan := range set.Plans() {
		for _, p := range plan.Passes {
			if p.Fallback {
				t.Errorf("plan %s has fallback pass %s", plan.Scripts, p.Name)
			}
		}
	}
	if got := set.Engines(); len(got) != 1 || got[0] != ocr.EngineTesseract {
		t.Errorf("Engines() = %v, want [tesseract]", got)
	}
}

func TestPassPlan_Validate(t *testing.T) {
	latin := models.NewScriptSet(models.ScriptLatin)
	fb := fallbackPass(80)

	tests := []struct {
		name   string
		plan   PassPlan
		wantOK bool
	}{
		{"valid", PassPlan{Scripts: latin, Passes: []Pass{pass("a", "x", 85), fb}}, true},
		{"empty plan", PassPlan{Scripts: latin}, false},
		{"no scripts", PassPlan{Passes: []Pass{pass("a", "x", 85)}}, false},
		{"duplicate names", PassPlan{Scripts: latin, Passes: []Pass{pass("a", "x", 85), pass("a", "x", 70)}}, false},
		{"threshold above 100", PassPlan{Scripts: latin, Passes: []Pass{pass("a", "x", 101)}}, false},
		{"negative threshold", PassPlan{Scripts: latin, Passes: []Pass{pass("a", "x", -1)}}, false},
		{"missing engine", PassPlan{Scripts: latin, Passes: []Pass{pass("a", "", 85)}}, false},
		{"fallback not last", PassPlan{Scripts: latin, Passes: []Pass{fb, pass("a", "x", 85)}}, false},
		{"target outside set", PassPlan{Scripts: latin, Passes: []Pass{{
			Name: "b", Config: ocr.EngineConfig{Engine: "x"}, AcceptThreshold: 80, TargetScript: models.ScriptBengali,
		}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.wantOK && !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("Validate() error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

func TestNewPlanSet_RejectsBadFloor(t *testing.T) {
	plan := PassPlan{Scripts: latinOnly, Passes: []Pass{pass("a", "x", 85)}}
	if _, err := NewPlanSet(120, plan); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("NewPlanSet(120) error = %v, want ErrInvalidPlan", err)
	}
}

const planYAML = `
floor: 70
plans:
  - scripts: [bangla]
    passes:
      - name: ben-book
        engine: tesseract
        languages: [ben]
        psm: 6
        accept: 82
      - name: ben-cloud
        engine: vision
        languages: [ben]
        accept: 70
        fallback: true
        timeout: 30s
  - scripts: [english, bangla]
    passes:
      - name: mixed-latin
        engine: tesseract
        languages: [eng]
        psm: 4
        accept: 80
        target_script: latin
`

func TestParsePlans(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ben.traineddata"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolver := ocr.TessdataResolver{BestPrefix: dir, StandardPrefix: "/usr/share/tessdata"}

	set, err := ParsePlans([]byte(planYAML), resolver)
	if err != nil {
		t.Fatalf("ParsePlans() error = %v", err)
	}
	if set.Floor != 70 {
		t.Errorf("Floor = %.1f, want 70", set.Floor)
	}

	plan, err := set.For(models.NewScriptSet(models.ScriptBengali))
	if err != nil {
		t.Fatalf("For(bengali) error = %v", err)
	}
	if len(plan.Passes) != 2 {
		t.Fatalf("passes = %d, want 2", len(plan.Passes))
	}
	book := plan.Passes[0]
	if book.AcceptThreshold != 82 || book.Config.PageSegMode != 6 {
		t.Errorf("book pass = %+v", book)
	}
	if book.Config.TessdataPrefix != dir || book.Config.Model != ocr.ModelBest {
		t.Errorf("book tessdata = %q/%q, want best data from %s", book.Config.TessdataPrefix, book.Config.Model, dir)
	}
	cloud := plan.Passes[1]
	if !cloud.Fallback || cloud.Config.Timeout.Seconds() != 30 {
		t.Errorf("cloud pass = %+v", cloud)
	}
	if cloud.Config.TessdataPrefix != "" {
		t.Errorf("non-tesseract pass got tessdata prefix %q", cloud.Config.TessdataPrefix)
	}

	mixed, err := set.For(models.NewScriptSet(models.ScriptLatin, models.ScriptBengali))
	if err != nil {
		t.Fatalf("For(mixed) error = %v", err)
	}
	if mixed.Passes[0].TargetScript != models.ScriptLatin {
		t.Errorf("TargetScript = %q, want latin", mixed.Passes[0].TargetScript)
	}
	if mixed.Passes[0].Config.Model != ocr.ModelStandard {
		t.Errorf("eng Model = %q, want standard", mixed.Passes[0].Config.Model)
	}
}

func TestParsePlans_Invalid(t *testing.T) {
	tests := map[string]string{
		"not yaml":        "plans: [",
		"no plans":        "floor: 80\n",
		"unknown script":  "plans:\n  - scripts: [klingon]\n    passes:\n      - {name: a, engine: tesseract, accept: 80}\n",
		"fallback first":  "plans:\n  - scripts: [latin]\n    passes:\n      - {name: a, engine: vision, accept: 80, fallback: true}\n      - {name: b, engine: tesseract, accept: 80}\n",
		"floor too large": "floor: 180\nplans:\n  - scripts: [latin]\n    passes:\n      - {name: a, engine: tesseract, accept: 80}\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePlans([]byte(doc), ocr.TessdataResolver{}); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("ParsePlans() error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

func TestLoadPlanFile_Missing(t *testing.T) {
	_, err := LoadPlanFile(filepath.Join(t.TempDir(), "absent.yaml"), ocr.TessdataResolver{})
	var pErr *PipelineError
	if !errors.As(err, &pErr) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadPlanFile() error = %v, want wrapped not-exist", err)
	}
}

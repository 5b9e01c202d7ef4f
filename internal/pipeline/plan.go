package pipeline

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scanocr/internal/ocr"
	"scanocr/pkg/models"
)

// DefaultFloor is the global confidence floor below which a page is flagged
// for review and the fallback engine becomes eligible.
const DefaultFloor = 80.0

// Pass is one step of a PassPlan.
type Pass struct {
	// Name identifies the pass in results and logs, e.g. "latin-book".
	Name string `yaml:"name" json:"name"`

	Config ocr.EngineConfig `yaml:",inline" json:"config"`

	// AcceptThreshold stops escalation once a result reaches it.
	AcceptThreshold float64 `yaml:"accept" json:"accept"`

	// TargetScript marks a single-script pass inside a multi-script plan.
	// Tokens with letters outside it are dropped before scoring.
	TargetScript models.ScriptID `yaml:"target_script,omitempty" json:"target_script,omitempty"`

	// Fallback marks the costly engine that only runs below the global floor.
	Fallback bool `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// PassPlan is the ordered sequence of passes for one script combination.
type PassPlan struct {
	Scripts models.ScriptSet `json:"scripts"`
	Passes  []Pass           `json:"passes"`
}

// Validate checks the plan invariants: at least one pass, unique names,
// thresholds in [0, 100], target scripts inside the plan's script set and
// at most one fallback, placed last.
func (p PassPlan) Validate() error {
	if len(p.Scripts) == 0 {
		return fmt.Errorf("%w: plan without scripts", ErrInvalidPlan)
	}
	if len(p.Passes) == 0 {
		return fmt.Errorf("%w: %s: plan has no passes", ErrInvalidPlan, p.Scripts)
	}
	seen := make(map[string]bool, len(p.Passes))
	for i, pass := range p.Passes {
		if pass.Name == "" {
			return fmt.Errorf("%w: %s: pass %d has no name", ErrInvalidPlan, p.Scripts, i)
		}
		if seen[pass.Name] {
			return fmt.Errorf("%w: %s: duplicate pass %q", ErrInvalidPlan, p.Scripts, pass.Name)
		}
		seen[pass.Name] = true
		if pass.Config.Engine == "" {
			return fmt.Errorf("%w: %s: pass %q has no engine", ErrInvalidPlan, p.Scripts, pass.Name)
		}
		if math.IsNaN(pass.AcceptThreshold) || pass.AcceptThreshold < 0 || pass.AcceptThreshold > 100 {
			return fmt.Errorf("%w: %s: pass %q threshold %.1f outside [0, 100]", ErrInvalidPlan, p.Scripts, pass.Name, pass.AcceptThreshold)
		}
		if pass.TargetScript != "" && !p.Scripts.Has(pass.TargetScript) {
			return fmt.Errorf("%w: %s: pass %q targets %s", ErrInvalidPlan, p.Scripts, pass.Name, pass.TargetScript)
		}
		if pass.Fallback && i != len(p.Passes)-1 {
			return fmt.Errorf("%w: %s: fallback pass %q is not last", ErrInvalidPlan, p.Scripts, pass.Name)
		}
	}
	return nil
}

// PlanSet holds one precomputed plan per script combination plus the global floor.
type PlanSet struct {
	Floor float64
	plans map[string]PassPlan
}

// NewPlanSet validates and indexes plans by their script set.
func NewPlanSet(floor float64, plans ...PassPlan) (*PlanSet, error) {
	if math.IsNaN(floor) || floor < 0 || floor > 100 {
		return nil, fmt.Errorf("%w: floor %.1f outside [0, 100]", ErrInvalidPlan, floor)
	}
	set := &PlanSet{Floor: floor, plans: make(map[string]PassPlan, len(plans))}
	for _, p := range plans {
		p.Scripts = models.NewScriptSet(p.Scripts...)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		set.plans[p.Scripts.Key()] = p
	}
	return set, nil
}

// For returns the plan for scripts.
func (s *PlanSet) For(scripts models.ScriptSet) (PassPlan, error) {
	p, ok := s.plans[models.NewScriptSet(scripts...).Key()]
	if !ok {
		return PassPlan{}, fmt.Errorf("%w: no plan for scripts %q", ErrInvalidPlan, scripts.Key())
	}
	return p, nil
}

// Plans returns every plan ordered by script key.
func (s *PlanSet) Plans() []PassPlan {
	keys := make([]string, 0, len(s.plans))
	for key := range s.plans {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]PassPlan, len(keys))
	for i, key := range keys {
		out[i] = s.plans[key]
	}
	return out
}

// Engines lists every engine name referenced by the plans.
func (s *PlanSet) Engines() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range s.Plans() {
		for _, pass := range p.Passes {
			if !seen[pass.Config.Engine] {
				seen[pass.Config.Engine] = true
				out = append(out, pass.Config.Engine)
			}
		}
	}
	return out
}

// PlanOptions parameterizes the built-in plans.
type PlanOptions struct {
	Floor float64

	// Tessdata selects best or standard trained data per script.
	Tessdata ocr.TessdataResolver

	// Neural adds the LLM pass before the fallback.
	Neural      bool
	NeuralModel string

	// Fallback names the fallback engine; empty disables it.
	Fallback string

	// Aggressive adds the blacklist pass used for noisy scans.
	Aggressive bool

	PassTimeout     time.Duration
	FallbackTimeout time.Duration
}

// DefaultPlanOptions returns the options used when nothing is configured.
func DefaultPlanOptions() PlanOptions {
	return PlanOptions{
		Floor:           DefaultFloor,
		Fallback:        ocr.EngineDocumentAI,
		PassTimeout:     2 * time.Minute,
		FallbackTimeout: time.Minute,
	}
}

// noisyGlyphs are characters Tesseract invents from specks on noisy scans.
const noisyGlyphs = "|~_`^{}<>\\"

// DefaultPlans builds the latin, bengali and mixed plans. Trained data is
// resolved here, once per script, and stored in each pass's EngineConfig.
func DefaultPlans(opts PlanOptions) (*PlanSet, error) {
	tess := func(name string, langs []string, psm int, accept float64, target models.ScriptID) Pass {
		prefix, model := opts.Tessdata.Resolve(langs)
		return Pass{
			Name: name,
			Config: ocr.EngineConfig{
				Engine:         ocr.EngineTesseract,
				Languages:      langs,
				PageSegMode:    psm,
				Model:          model,
				TessdataPrefix: prefix,
				Variables:      map[string]string{"preserve_interword_spaces": "1"},
				Timeout:        opts.PassTimeout,
			},
			AcceptThreshold: accept,
			TargetScript:    target,
		}
	}

	tail := func(prefix string, langs []string) []Pass {
		var passes []Pass
		if opts.Aggressive {
			p := tess(prefix+"-high-accuracy", langs, ocr.PSMBook, 70, "")
			p.Config.Blacklist = noisyGlyphs
			passes = append(passes, p)
		}
		if opts.Neural {
			passes = append(passes, Pass{
				Name: prefix + "-neural",
				Config: ocr.EngineConfig{
					Engine:    ocr.EngineOpenAI,
					Languages: langs,
					Model:     opts.NeuralModel,
					Timeout:   opts.FallbackTimeout,
				},
				AcceptThreshold: 75,
			})
		}
		if opts.Fallback != "" {
			passes = append(passes, Pass{
				Name: prefix + "-fallback",
				Config: ocr.EngineConfig{
					Engine:    opts.Fallback,
					Languages: langs,
					Timeout:   opts.FallbackTimeout,
				},
				AcceptThreshold: opts.Floor,
				Fallback:        true,
			})
		}
		return passes
	}

	eng, ben, both := []string{"eng"}, []string{"ben"}, []string{"ben", "eng"}

	latin := PassPlan{
		Scripts: models.NewScriptSet(models.ScriptLatin),
		Passes: append([]Pass{
			tess("latin-book", eng, ocr.PSMBook, 85, ""),
			tess("latin-auto", eng, ocr.PSMAuto, 80, ""),
			tess("latin-column", eng, ocr.PSMColumn, 75, ""),
			tess("latin-sparse", eng, ocr.PSMSparse, 70, ""),
		}, tail("latin", eng)...),
	}

	bengali := PassPlan{
		Scripts: models.NewScriptSet(models.ScriptBengali),
		Passes: append([]Pass{
			tess("bengali-book", ben, ocr.PSMBook, 85, ""),
			tess("bengali-auto", ben, ocr.PSMAuto, 80, ""),
			tess("bengali-column", ben, ocr.PSMColumn, 75, ""),
			tess("bengali-sparse", ben, ocr.PSMSparse, 70, ""),
		}, tail("bengali", ben)...),
	}

	mixed := PassPlan{
		Scripts: models.NewScriptSet(models.ScriptBengali, models.ScriptLatin),
		Passes: append([]Pass{
			tess("mixed-book", both, ocr.PSMBook, 85, ""),
			tess("mixed-bengali", ben, ocr.PSMBook, 80, models.ScriptBengali),
			tess("mixed-latin", eng, ocr.PSMBook, 80, models.ScriptLatin),
			tess("mixed-auto", both, ocr.PSMAuto, 75, ""),
		}, tail("mixed", both)...),
	}

	return NewPlanSet(opts.Floor, latin, bengali, mixed)
}

type planFile struct {
	Floor *float64 `yaml:"floor"`
	Plans []struct {
		Scripts []string `yaml:"scripts"`
		Passes  []Pass   `yaml:"passes"`
	} `yaml:"plans"`
}

// ParsePlans decodes a YAML plan file. Tesseract passes without an explicit
// tessdata_prefix get one from resolver.
func ParsePlans(data []byte, resolver ocr.TessdataResolver) (*PlanSet, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	floor := DefaultFloor
	if f.Floor != nil {
		floor = *f.Floor
	}

	plans := make([]PassPlan, 0, len(f.Plans))
	for _, raw := range f.Plans {
		scripts, err := models.ParseScriptSet(strings.Join(raw.Scripts, ","))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
		passes := make([]Pass, len(raw.Passes))
		copy(passes, raw.Passes)
		for i := range passes {
			c := &passes[i].Config
			if c.Engine == ocr.EngineTesseract && c.TessdataPrefix == "" {
				c.TessdataPrefix, c.Model = resolver.Resolve(c.Languages)
			}
		}
		plans = append(plans, PassPlan{Scripts: scripts, Passes: passes})
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: plan file defines no plans", ErrInvalidPlan)
	}
	return NewPlanSet(floor, plans...)
}

// LoadPlanFile reads and parses a YAML plan file.
func LoadPlanFile(path string, resolver ocr.TessdataResolver) (*PlanSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapPipelineError("LoadPlanFile", -1, err, path)
	}
	set, err := ParsePlans(data, resolver)
	if err != nil {
		return nil, WrapPipelineError("LoadPlanFile", -1, err, path)
	}
	return set, nil
}

package textnorm

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"scanocr/pkg/models"
)

//go:embed rules/*.yaml
var builtinRules embed.FS

// Rule is one reviewable substitution: either a literal Find or a regexp Pattern.
type Rule struct {
	Name    string `yaml:"name"`
	Find    string `yaml:"find,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`
	Replace string `yaml:"replace"`

	re *regexp.Regexp
}

func (r *Rule) compile() error {
	switch {
	case r.Find != "" && r.Pattern != "":
		return fmt.Errorf("rule %q: find and pattern are exclusive", r.Name)
	case r.Find == "" && r.Pattern == "":
		return fmt.Errorf("rule %q: needs find or pattern", r.Name)
	case r.Pattern != "":
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		r.re = re
	}
	return nil
}

// Apply runs the rule over text.
func (r *Rule) Apply(text string) string {
	if r.re != nil {
		return r.re.ReplaceAllString(text, r.Replace)
	}
	return strings.ReplaceAll(text, r.Find, r.Replace)
}

// Duplications lists stroke-duplication fixes: runs of any Collapse
// character shrink to one, then Rules run in order.
type Duplications struct {
	Collapse string `yaml:"collapse"`
	Rules    []Rule `yaml:"rules"`

	collapse map[rune]bool
}

// RuleTable is the ordered substitution table for one script.
type RuleTable struct {
	Script       models.ScriptID `yaml:"script"`
	Confusions   []Rule          `yaml:"confusions"`
	Duplications Duplications    `yaml:"duplications"`
	Boundaries   []Rule          `yaml:"boundaries"`
}

func (t *RuleTable) compile() error {
	for _, rules := range [][]Rule{t.Confusions, t.Duplications.Rules, t.Boundaries} {
		for i := range rules {
			if err := rules[i].compile(); err != nil {
				return fmt.Errorf("%s: %w", t.Script, err)
			}
		}
	}
	t.Duplications.collapse = make(map[rune]bool)
	for _, r := range t.Duplications.Collapse {
		t.Duplications.collapse[r] = true
	}
	return nil
}

// ParseRuleTable decodes and compiles one YAML table.
func ParseRuleTable(data []byte) (*RuleTable, error) {
	var t RuleTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if t.Script.Table() == nil {
		return nil, fmt.Errorf("rule table for unknown script %q", t.Script)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadRuleTables reads every *.yaml table in fsys, keyed by script.
func LoadRuleTables(fsys fs.FS) (map[models.ScriptID]*RuleTable, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	tables := make(map[models.ScriptID]*RuleTable, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		t, err := ParseRuleTable(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		if _, dup := tables[t.Script]; dup {
			return nil, fmt.Errorf("%s: duplicate table for %s", path.Base(name), t.Script)
		}
		tables[t.Script] = t
	}
	return tables, nil
}

// BuiltinRuleTables returns the tables compiled into the binary.
func BuiltinRuleTables() (map[models.ScriptID]*RuleTable, error) {
	sub, err := fs.Sub(builtinRules, "rules")
	if err != nil {
		return nil, err
	}
	return LoadRuleTables(sub)
}

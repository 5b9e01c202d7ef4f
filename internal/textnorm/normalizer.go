// Package textnorm cleans recognized text with script-aware, table-driven rules.
//
// Clean applies, in order: Unicode NFC, glyph-confusion correction,
// cross-script noise removal (single-script pages only), duplication and
// punctuation/whitespace normalization, and sentence-boundary repair. The
// sequence is repeated until the text stops changing, so Clean is idempotent.
// It only ever touches text; confidences are computed before it runs.
package textnorm

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"scanocr/pkg/models"
)

// maxRounds bounds the fixpoint iteration. Every built-in rule shrinks or
// keeps the text length, so real inputs settle in two or three rounds.
const maxRounds = 16

// Rule groups that can be switched off independently.
const (
	RuleConfusions   = "confusions"
	RuleCrossScript  = "cross-script"
	RuleDuplications = "duplications"
	RuleBoundaries   = "boundaries"
)

// Options selects which rule groups run.
type Options struct {
	SkipConfusions   bool
	SkipCrossScript  bool
	SkipDuplications bool
	SkipBoundaries   bool
}

// ParseSkipRules reads a comma separated list of rule group names to skip.
func ParseSkipRules(value string) (Options, error) {
	var o Options
	for _, name := range strings.Split(value, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "":
		case RuleConfusions:
			o.SkipConfusions = true
		case RuleCrossScript:
			o.SkipCrossScript = true
		case RuleDuplications:
			o.SkipDuplications = true
		case RuleBoundaries:
			o.SkipBoundaries = true
		default:
			return Options{}, fmt.Errorf("unknown text rule %q", name)
		}
	}
	return o, nil
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00A0}\x{2000}-\x{200A}\x{3000}]+`)
	lineEdgeSpace   = regexp.MustCompile(` ?\n ?`)
	extraNewlines   = regexp.MustCompile(`\n{3,}`)
	spaceBeforePunc = regexp.MustCompile(` ([,.;:!?।॥])`)
	missingSpace    = regexp.MustCompile(`([,;!?।॥])(\pL)`)
)

// Normalizer holds the compiled rule tables. It is safe for concurrent use.
type Normalizer struct {
	tables map[models.ScriptID]*RuleTable
	opts   Options
}

// New builds a normalizer over the built-in rule tables.
func New(opts Options) (*Normalizer, error) {
	tables, err := BuiltinRuleTables()
	if err != nil {
		return nil, err
	}
	return NewWithTables(tables, opts), nil
}

// NewWithTables builds a normalizer over caller-provided tables.
func NewWithTables(tables map[models.ScriptID]*RuleTable, opts Options) *Normalizer {
	return &Normalizer{tables: tables, opts: opts}
}

var (
	defaultOnce sync.Once
	defaultNorm *Normalizer
)

// Clean runs the default normalizer. The built-in tables are compiled on first use.
func Clean(text string, scripts models.ScriptSet) string {
	defaultOnce.Do(func() {
		n, err := New(Options{})
		if err != nil {
			panic(fmt.Sprintf("textnorm: built-in rules: %v", err))
		}
		defaultNorm = n
	})
	return defaultNorm.Clean(text, scripts)
}

// Clean returns the normalized text for a page recognized under scripts.
func (n *Normalizer) Clean(text string, scripts models.ScriptSet) string {
	for i := 0; i < maxRounds; i++ {
		next := n.round(text, scripts)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (n *Normalizer) round(text string, scripts models.ScriptSet) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if !n.opts.SkipConfusions {
		for _, t := range n.tablesFor(scripts) {
			text = applyRules(t.Confusions, text)
		}
	}

	if !n.opts.SkipCrossScript {
		if only, ok := scripts.Single(); ok {
			text = StripForeignTokens(text, only)
		}
	}

	if !n.opts.SkipDuplications {
		for _, t := range n.tablesFor(scripts) {
			text = collapseRuns(text, t.Duplications.collapse)
			text = applyRules(t.Duplications.Rules, text)
		}
		text = spaceBeforePunc.ReplaceAllString(text, "$1")
		text = missingSpace.ReplaceAllString(text, "$1 $2")
	}
	text = normalizeSpace(text)

	if !n.opts.SkipBoundaries {
		for _, t := range n.tablesFor(scripts) {
			text = applyRules(t.Boundaries, text)
		}
	}
	return text
}

func (n *Normalizer) tablesFor(scripts models.ScriptSet) []*RuleTable {
	out := make([]*RuleTable, 0, len(scripts))
	for _, s := range scripts {
		if t, ok := n.tables[s]; ok {
			out = append(out, t)
		}
	}
	return out
}

func applyRules(rules []Rule, text string) string {
	for i := range rules {
		text = rules[i].Apply(text)
	}
	return text
}

// collapseRuns shrinks runs of the same rune to one when the rune is in set.
func collapseRuns(text string, set map[rune]bool) string {
	if len(set) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	prev := rune(-1)
	for _, r := range text {
		if r == prev && set[r] {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func normalizeSpace(text string) string {
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = lineEdgeSpace.ReplaceAllString(text, "\n")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// StripForeignTokens drops whitespace-separated tokens whose letters all
// belong to a known script other than script. Tokens without letters,
// tokens mixing scripts and line structure are kept.
func StripForeignTokens(text string, script models.ScriptID) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		fields := strings.Fields(line)
		kept := fields[:0]
		dropped := false
		for _, f := range fields {
			if s := models.ScriptOf(f); s != "" && s != script {
				dropped = true
				continue
			}
			kept = append(kept, f)
		}
		if dropped {
			lines[i] = strings.Join(kept, " ")
		}
	}
	return strings.Join(lines, "\n")
}

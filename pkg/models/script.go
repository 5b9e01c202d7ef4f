package models

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ScriptID identifies a writing system with its own preprocessing and engine tuning.
type ScriptID string

const (
	ScriptLatin   ScriptID = "latin"
	ScriptBengali ScriptID = "bengali"
)

// KnownScripts lists every supported script in canonical order.
var KnownScripts = []ScriptID{ScriptBengali, ScriptLatin}

// Table returns the unicode range table for the script.
func (s ScriptID) Table() *unicode.RangeTable {
	switch s {
	case ScriptLatin:
		return unicode.Latin
	case ScriptBengali:
		return unicode.Bengali
	default:
		return nil
	}
}

// Owns reports whether r belongs to the script's alphabet.
func (s ScriptID) Owns(r rune) bool {
	t := s.Table()
	return t != nil && unicode.Is(t, r)
}

// ScriptSet is a sorted, duplicate-free set of scripts.
type ScriptSet []ScriptID

// NewScriptSet builds a canonical set from the given scripts.
func NewScriptSet(scripts ...ScriptID) ScriptSet {
	seen := make(map[ScriptID]bool, len(scripts))
	set := make(ScriptSet, 0, len(scripts))
	for _, s := range scripts {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		set = append(set, s)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// ParseScriptSet accepts a comma or plus separated list of script names,
// language codes (en, bn, eng, ben) or request modes (english, bangla, mixed).
func ParseScriptSet(value string) (ScriptSet, error) {
	var scripts []ScriptID
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == '+' }) {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "latin", "en", "eng", "english":
			scripts = append(scripts, ScriptLatin)
		case "bengali", "bangla", "bn", "ben":
			scripts = append(scripts, ScriptBengali)
		case "mixed":
			scripts = append(scripts, ScriptBengali, ScriptLatin)
		default:
			return nil, fmt.Errorf("unknown script %q", part)
		}
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no script given")
	}
	return NewScriptSet(scripts...), nil
}

// Has reports whether the set contains s.
func (s ScriptSet) Has(id ScriptID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Single returns the only member of a one-script set.
func (s ScriptSet) Single() (ScriptID, bool) {
	if len(s) != 1 {
		return "", false
	}
	return s[0], true
}

// Key is the canonical string form, e.g. "bengali+latin".
func (s ScriptSet) Key() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = string(v)
	}
	return strings.Join(parts, "+")
}

func (s ScriptSet) String() string { return s.Key() }

// ScriptOf classifies a token: it returns the single script owning all of its
// letters, or "" when the token has no letters or mixes scripts.
func ScriptOf(token string) ScriptID {
	var found ScriptID
	for _, r := range token {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			continue
		}
		var owner ScriptID
		for _, s := range KnownScripts {
			if s.Owns(r) {
				owner = s
				break
			}
		}
		if owner == "" {
			return ""
		}
		if found != "" && found != owner {
			return ""
		}
		found = owner
	}
	return found
}

// HasForeignLetters reports whether token contains any letter outside script.
func HasForeignLetters(token string, script ScriptID) bool {
	for _, r := range token {
		if !unicode.IsLetter(r) {
			continue
		}
		if !script.Owns(r) {
			return true
		}
	}
	return false
}

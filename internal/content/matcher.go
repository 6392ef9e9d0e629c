package content

import (
	"fmt"
	"regexp"
	"sort"
)

type matchMode int

const (
	// matchWord requires word boundaries on both sides.
	matchWord matchMode = iota
	// matchPrefix requires a boundary before the keyword only, so "emotion"
	// also matches "emotional".
	matchPrefix
	// matchPhrase matches anywhere in the text.
	matchPhrase
)

// Matcher scans text for a fixed keyword list, case-insensitively.
type Matcher struct {
	keywords []string
	patterns []*regexp.Regexp
}

func newMatcher(keywords []string, mode matchMode) (*Matcher, error) {
	m := &Matcher{
		keywords: keywords,
		patterns: make([]*regexp.Regexp, len(keywords)),
	}
	for i, kw := range keywords {
		expr := regexp.QuoteMeta(kw)
		switch mode {
		case matchWord:
			expr = `\b` + expr + `\b`
		case matchPrefix:
			expr = `\b` + expr
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("compiling keyword %q: %w", kw, err)
		}
		m.patterns[i] = re
	}
	return m, nil
}

// Matched returns the distinct keywords present in text, ordered by where
// they first appear.
func (m *Matcher) Matched(text string) []string {
	if m == nil {
		return nil
	}
	type hit struct {
		kw  string
		pos int
	}
	var hits []hit
	for i, re := range m.patterns {
		if loc := re.FindStringIndex(text); loc != nil {
			hits = append(hits, hit{kw: m.keywords[i], pos: loc[0]})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].pos < hits[b].pos })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.kw
	}
	return out
}

// Count returns the total number of keyword occurrences in text.
func (m *Matcher) Count(text string) int {
	if m == nil {
		return 0
	}
	n := 0
	for _, re := range m.patterns {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

// Any reports whether at least one keyword is present.
func (m *Matcher) Any(text string) bool {
	if m == nil {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

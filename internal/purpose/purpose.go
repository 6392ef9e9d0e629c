// Package purpose tracks a user's life-purpose development: an elemental
// signature built from recurring themes, the current life phase, and the
// purpose language the user has used.
package purpose

import (
	"maps"
	"slices"
	"time"

	"github.com/kalambet/oracle/internal/content"
)

// DefaultPhase is used until phase language is detected.
const DefaultPhase = "emerging"

// Signature summarizes elemental theme counts accumulated across sessions.
type Signature struct {
	Primary   content.Element         `json:"primary,omitempty"`
	Secondary content.Element         `json:"secondary,omitempty"`
	Balance   float64                 `json:"balance"`
	Scores    map[content.Element]int `json:"scores"`
}

// State is the per-user purpose track.
type State struct {
	Signature     Signature `json:"signature"`
	LifePhase     string    `json:"lifePhase"`
	PurposeThemes []string  `json:"purposeThemes"`
	Sessions      int       `json:"sessions"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasSignature reports whether any elemental theme has been seen.
func (s State) HasSignature() bool {
	return s.Signature.Primary != ""
}

func (s State) Clone() State {
	out := s
	out.Signature.Scores = maps.Clone(s.Signature.Scores)
	out.PurposeThemes = slices.Clone(s.PurposeThemes)
	return out
}

type Analyzer struct {
	src content.Source
}

func NewAnalyzer(src content.Source) *Analyzer {
	return &Analyzer{src: src}
}

// Analyze folds text into prev and returns the next state. prev is not
// modified.
func (a *Analyzer) Analyze(prev State, text string, now time.Time) State {
	tbl := a.src.Table()
	next := prev.Clone()
	if next.Signature.Scores == nil {
		next.Signature.Scores = make(map[content.Element]int, len(content.Elements))
	}
	for _, e := range content.Elements {
		if n := tbl.ThemeMatcher(e).Count(text); n > 0 {
			next.Signature.Scores[e] += n
		}
	}
	next.Signature = signature(next.Signature.Scores)

	if phase := detectPhase(tbl, text); phase != "" {
		next.LifePhase = phase
	} else if next.LifePhase == "" {
		next.LifePhase = DefaultPhase
	}

	for _, kw := range tbl.PurposeMatcher().Matched(text) {
		if !slices.Contains(next.PurposeThemes, kw) {
			next.PurposeThemes = append(next.PurposeThemes, kw)
		}
	}
	if next.PurposeThemes == nil {
		next.PurposeThemes = []string{}
	}

	next.Sessions++
	next.UpdatedAt = now
	return next
}

// signature ranks elements by score; ties follow content.Elements order.
func signature(scores map[content.Element]int) Signature {
	sig := Signature{Scores: scores}
	ranked := slices.Clone(content.Elements)
	slices.SortStableFunc(ranked, func(a, b content.Element) int {
		return scores[b] - scores[a]
	})

	total := 0
	for _, e := range content.Elements {
		total += scores[e]
	}
	if total == 0 {
		return sig
	}
	sig.Primary = ranked[0]
	if scores[ranked[1]] > 0 {
		sig.Secondary = ranked[1]
	}
	sig.Balance = float64(total-scores[ranked[0]]) / float64(total)
	return sig
}

func detectPhase(tbl *content.Table, text string) string {
	best, bestN := "", 0
	for i, p := range tbl.Purpose.Phases {
		if n := tbl.PhaseMatcher(i).Count(text); n > bestN {
			best, bestN = p.Name, n
		}
	}
	return best
}

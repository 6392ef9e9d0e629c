// Package dream extracts dream symbols from journal-style text and keeps a
// running symbol record per user.
package dream

import (
	"maps"
	"slices"
	"time"

	"github.com/kalambet/oracle/internal/content"
)

// recurringAt is the count at which a symbol is considered recurring.
const recurringAt = 2

// State is the per-user dream track.
type State struct {
	Symbols   map[string]int `json:"symbols"`
	Recurring []string       `json:"recurring"`
	Entries   int            `json:"entries"`
	Sessions  int            `json:"sessions"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (s State) Clone() State {
	out := s
	out.Symbols = maps.Clone(s.Symbols)
	out.Recurring = slices.Clone(s.Recurring)
	return out
}

// Elements returns the elements of the recorded symbols, most frequent
// first.
func (s State) Elements(tbl *content.Table) []content.Element {
	counts := make(map[content.Element]int)
	for sym, n := range s.Symbols {
		if ds, ok := tbl.DreamSymbol(sym); ok {
			counts[ds.Element] += n
		}
	}
	var out []content.Element
	for _, e := range content.Elements {
		if counts[e] > 0 {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b content.Element) int { return counts[b] - counts[a] })
	return out
}

type Analyzer struct {
	src content.Source
}

func NewAnalyzer(src content.Source) *Analyzer {
	return &Analyzer{src: src}
}

// Extract returns the dream symbols in text. Text that does not talk about a
// dream yields nothing.
func (a *Analyzer) Extract(text string) []content.DreamSymbol {
	tbl := a.src.Table()
	if !tbl.DreamTriggerMatcher().Any(text) {
		return nil
	}
	var out []content.DreamSymbol
	for _, sym := range tbl.DreamSymbolMatcher().Matched(text) {
		if ds, ok := tbl.DreamSymbol(sym); ok {
			out = append(out, ds)
		}
	}
	return out
}

// Record folds found symbols into prev and returns the next state.
func Record(prev State, found []content.DreamSymbol, now time.Time) State {
	next := prev.Clone()
	if next.Symbols == nil {
		next.Symbols = make(map[string]int)
	}
	if len(found) > 0 {
		next.Entries++
	}
	for _, ds := range found {
		next.Symbols[ds.Symbol]++
	}
	next.Recurring = []string{}
	for sym, n := range next.Symbols {
		if n >= recurringAt {
			next.Recurring = append(next.Recurring, sym)
		}
	}
	slices.Sort(next.Recurring)
	next.Sessions++
	next.UpdatedAt = now
	return next
}

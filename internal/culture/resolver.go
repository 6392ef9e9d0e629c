package culture

import (
	"slices"

	"github.com/kalambet/oracle/internal/content"
)

// primaryThreshold is the number of distinct keyword matches needed before
// a detected culture is treated as primary.
const primaryThreshold = 2

// Resolver maps free text and optional hints to a Profile.
type Resolver struct {
	src content.Source
}

func NewResolver(src content.Source) *Resolver {
	return &Resolver{src: src}
}

type detection struct {
	culture string
	matched []string
}

// Resolve never fails: when nothing can be detected it returns Universal().
// Hint fields take precedence over text-derived values.
func (r *Resolver) Resolve(text string, hint *Hint) Profile {
	tbl := r.src.Table()

	var found []detection
	for _, name := range tbl.CultureNames() {
		if m := tbl.CultureMatcher(name).Matched(text); len(m) > 0 {
			found = append(found, detection{culture: name, matched: m})
		}
	}
	// Strongest detection first; CultureNames order breaks ties.
	slices.SortStableFunc(found, func(a, b detection) int {
		return len(b.matched) - len(a.matched)
	})

	p := Universal()
	if len(found) > 0 && len(found[0].matched) >= primaryThreshold {
		p = profileFor(tbl, found[0].culture)
		p.CulturalIdentities = []string{found[0].culture}
	}
	for _, d := range found {
		p.ReferencedTraditions = append(p.ReferencedTraditions, d.culture)
		p.TraditionalPractices = union(p.TraditionalPractices, d.matched)
	}

	applyHint(tbl, &p, hint)
	return p
}

func profileFor(tbl *content.Table, name string) Profile {
	p := Universal()
	p.PrimaryCulture = name
	p.CulturalIdentities = []string{name}
	if c, ok := tbl.Cultures[name]; ok {
		if c.Framework != "" {
			p.SpiritualFramework = c.Framework
		}
		if len(c.Strengths) > 0 {
			p.CulturalStrengths = slices.Clone(c.Strengths)
		}
	}
	return p
}

func applyHint(tbl *content.Table, p *Profile, hint *Hint) {
	if hint == nil {
		return
	}
	if bg := Normalize(hint.background()); bg != "" {
		hinted := profileFor(tbl, bg)
		p.PrimaryCulture = hinted.PrimaryCulture
		p.SpiritualFramework = hinted.SpiritualFramework
		p.CulturalStrengths = hinted.CulturalStrengths
		p.CulturalIdentities = []string{bg}
	}
	if len(hint.CulturalIdentities) > 0 {
		ids := make([]string, 0, len(hint.CulturalIdentities)+1)
		if !p.IsUniversal() {
			ids = append(ids, p.PrimaryCulture)
		}
		for _, id := range hint.CulturalIdentities {
			if n := Normalize(id); n != "" && !slices.Contains(ids, n) {
				ids = append(ids, n)
			}
		}
		if len(ids) > 0 {
			p.CulturalIdentities = ids
		}
	}
	if len(hint.PreferredLanguages) > 0 {
		p.PreferredLanguages = slices.Clone(hint.PreferredLanguages)
	}
	if len(hint.AncestralLineages) > 0 {
		p.AncestralLineages = slices.Clone(hint.AncestralLineages)
	}
}

// Translation is the cultural expression of an elemental archetype.
type Translation struct {
	CulturalName    string `json:"culturalName"`
	TraditionalRole string `json:"traditionalRole"`
	// Culture is the table the names came from; universal when the
	// requested culture has no mapping.
	Culture string `json:"culture"`
}

// Translate looks up how culture expresses element e.
func (r *Resolver) Translate(culture string, e content.Element) Translation {
	a, from := r.src.Table().ArchetypeFor(culture, e)
	return Translation{CulturalName: a.Name, TraditionalRole: a.Role, Culture: from}
}

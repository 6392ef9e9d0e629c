package archetype

import (
	"slices"

	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/purpose"
)

// Activation levels derived from the user's elemental purpose signature.
const (
	ActivationPrimary   = 0.8
	ActivationSecondary = 0.6
	ActivationOther     = 0.3
	// ActivationUnknown applies when no purpose signature exists yet.
	ActivationUnknown = 0.5
)

// DefaultElement is returned when no element keyword matches.
const DefaultElement = content.Water

// Archetype is an elemental force with its cultural expression.
type Archetype struct {
	Element           content.Element `json:"element"`
	CulturalName      string          `json:"culturalName"`
	TraditionalRole   string          `json:"traditionalRole"`
	Culture           string          `json:"culture"`
	ShadowAspects     []string        `json:"shadowAspects"`
	LightAspects      []string        `json:"lightAspects"`
	RelevantComplexes []string        `json:"relevantComplexes"`
	ActivationLevel   float64         `json:"activationLevel"`
	MatchCount        int             `json:"matchCount"`
	Wisdom            string          `json:"wisdom"`
	Depth             float64         `json:"depth"`
	Resonance         string          `json:"resonance"`
}

// Translator looks up the cultural expression of an element.
type Translator interface {
	Translate(culture string, e content.Element) culture.Translation
}

type Identifier struct {
	src        content.Source
	translator Translator
}

func NewIdentifier(src content.Source, translator Translator) *Identifier {
	return &Identifier{src: src, translator: translator}
}

// Identify maps challenge text to one to four archetypes ordered by keyword
// match count, ties broken by fire > water > earth > air. Text matching no
// element yields exactly [water].
func (id *Identifier) Identify(text string, profile culture.Profile, ps *purpose.State) []Archetype {
	tbl := id.src.Table()

	type scored struct {
		e content.Element
		n int
	}
	var hits []scored
	for _, e := range content.Elements {
		if n := tbl.ElementMatcher(e).Count(text); n > 0 {
			hits = append(hits, scored{e: e, n: n})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return b.n - a.n })
	if len(hits) == 0 {
		hits = []scored{{e: DefaultElement}}
	}

	out := make([]Archetype, 0, len(hits))
	for _, h := range hits {
		entry := tbl.Elements[h.e]
		tr := id.translator.Translate(profile.PrimaryCulture, h.e)
		out = append(out, Archetype{
			Element:           h.e,
			CulturalName:      tr.CulturalName,
			TraditionalRole:   tr.TraditionalRole,
			Culture:           tr.Culture,
			ShadowAspects:     slices.Clone(entry.ShadowAspects),
			LightAspects:      slices.Clone(entry.LightAspects),
			RelevantComplexes: slices.Clone(entry.Complexes),
			ActivationLevel:   activation(h.e, ps),
			MatchCount:        h.n,
			Wisdom:            entry.Wisdom,
			Depth:             entry.Depth,
			Resonance:         entry.Resonance,
		})
	}
	return out
}

func activation(e content.Element, ps *purpose.State) float64 {
	if ps == nil || !ps.HasSignature() {
		return ActivationUnknown
	}
	switch e {
	case ps.Signature.Primary:
		return ActivationPrimary
	case ps.Signature.Secondary:
		return ActivationSecondary
	default:
		return ActivationOther
	}
}

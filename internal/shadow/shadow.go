// Package shadow detects recurring psychological patterns in free text and
// keeps the cumulative per-user shadow work state.
package shadow

import (
	"slices"
	"time"

	"github.com/kalambet/oracle/internal/content"
)

// ComplexType is drawn from a fixed enumeration.
type ComplexType string

const (
	AnimaAnimus  ComplexType = "anima_animus"
	MotherFather ComplexType = "mother_father"
	Persona      ComplexType = "persona"
	SelfSabotage ComplexType = "self_sabotage"
	PowerShadow  ComplexType = "power_shadow"
	VictimShadow ComplexType = "victim_shadow"
)

// ComplexTypes lists the enumeration in canonical order.
var ComplexTypes = []ComplexType{AnimaAnimus, MotherFather, Persona, SelfSabotage, PowerShadow, VictimShadow}

func (c ComplexType) Valid() bool {
	return slices.Contains(ComplexTypes, c)
}

const (
	// readinessStep is how much integration readiness grows each time a
	// complex is met again.
	readinessStep = 0.05
	// intensityStep is added per extra indicator matched in one text.
	intensityStep = 0.05
)

// Complex is one detected pattern.
type Complex struct {
	Type                  ComplexType `json:"complexType"`
	Intensity             float64     `json:"intensity"`
	IntegrationReadiness  float64     `json:"integrationReadiness"`
	Indicators            []string    `json:"indicators"`
	Occurrences           int         `json:"occurrences"`
	DialogueType          string      `json:"dialogueType"`
	Manifestations        []string    `json:"manifestations,omitempty"`
	IntegrationApproaches []string    `json:"integrationApproaches,omitempty"`
}

// State is the cumulative shadow work state for one user.
type State struct {
	Complexes []Complex `json:"complexes"`
	Sessions  int       `json:"sessions"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Has reports whether the state contains complex t.
func (s State) Has(t ComplexType) bool {
	return slices.ContainsFunc(s.Complexes, func(c Complex) bool { return c.Type == t })
}

func (s State) Clone() State {
	out := s
	out.Complexes = make([]Complex, len(s.Complexes))
	for i, c := range s.Complexes {
		c.Indicators = slices.Clone(c.Indicators)
		c.Manifestations = slices.Clone(c.Manifestations)
		c.IntegrationApproaches = slices.Clone(c.IntegrationApproaches)
		out.Complexes[i] = c
	}
	return out
}

// Analyzer detects shadow complexes from indicator phrases.
type Analyzer struct {
	src content.Source
}

func NewAnalyzer(src content.Source) *Analyzer {
	return &Analyzer{src: src}
}

// Detect returns the complexes whose indicators appear in text, in canonical
// order. Table entries outside the enumeration are ignored.
func (a *Analyzer) Detect(text string) []Complex {
	tbl := a.src.Table()
	var out []Complex
	for _, t := range ComplexTypes {
		entry, ok := tbl.Complexes[string(t)]
		if !ok {
			continue
		}
		matched := tbl.ComplexMatcher(string(t)).Matched(text)
		if len(matched) == 0 {
			continue
		}
		out = append(out, Complex{
			Type:                  t,
			Intensity:             clamp(entry.Intensity + intensityStep*float64(len(matched)-1)),
			IntegrationReadiness:  clamp(entry.Readiness),
			Indicators:            matched,
			Occurrences:           1,
			DialogueType:          entry.Dialogue,
			Manifestations:        slices.Clone(entry.Manifestations),
			IntegrationApproaches: slices.Clone(entry.Approaches),
		})
	}
	return out
}

// Integrate folds freshly detected complexes into prev. A complex seen again
// keeps its strongest intensity, grows in readiness, and counts another
// occurrence. The result is a new value; prev is not modified.
func Integrate(prev State, found []Complex, now time.Time) State {
	next := prev.Clone()
	for _, f := range found {
		i := slices.IndexFunc(next.Complexes, func(c Complex) bool { return c.Type == f.Type })
		if i < 0 {
			next.Complexes = append(next.Complexes, f)
			continue
		}
		c := &next.Complexes[i]
		c.Occurrences++
		c.Intensity = max(c.Intensity, f.Intensity)
		c.IntegrationReadiness = clamp(c.IntegrationReadiness + readinessStep)
		for _, ind := range f.Indicators {
			if !slices.Contains(c.Indicators, ind) {
				c.Indicators = append(c.Indicators, ind)
			}
		}
	}
	slices.SortStableFunc(next.Complexes, func(a, b Complex) int {
		return slices.Index(ComplexTypes, a.Type) - slices.Index(ComplexTypes, b.Type)
	})
	next.Sessions++
	next.UpdatedAt = now
	return next
}

func clamp(v float64) float64 {
	return min(1, max(0, v))
}

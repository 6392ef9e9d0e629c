package synthesis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/dialogue"
	"github.com/kalambet/oracle/internal/state"
)

// Category tags the origin of a wisdom source.
type Category string

const (
	Cultural   Category = "cultural"
	Shadow     Category = "shadow"
	Archetypal Category = "archetypal"
	Planetary  Category = "planetary"
	Universal  Category = "universal"
)

// Categories lists every category in tie-break order.
var Categories = []Category{Cultural, Shadow, Archetypal, Planetary, Universal}

// Base fusion coefficients. They sum to 1 and are re-normalized over the
// categories actually present in a run.
const (
	WeightCultural   = 0.30
	WeightShadow     = 0.20
	WeightArchetypal = 0.20
	WeightPlanetary  = 0.15
	WeightUniversal  = 0.15
)

// BaseWeight returns the fixed coefficient for c.
func BaseWeight(c Category) float64 {
	switch c {
	case Cultural:
		return WeightCultural
	case Shadow:
		return WeightShadow
	case Archetypal:
		return WeightArchetypal
	case Planetary:
		return WeightPlanetary
	case Universal:
		return WeightUniversal
	}
	return 0
}

var (
	ErrNoSources      = errors.New("no wisdom sources supplied")
	ErrInvalidSource  = errors.New("invalid wisdom source")
	dialogueOrigin    = "dialogue"
	defaultConnective = "carried forward through"
)

// Source is one piece of wisdom offered for fusion. Depth and Relevance are
// the source's own 0..1 scores.
type Source struct {
	Category  Category `json:"category"`
	Origin    string   `json:"origin"`
	Tradition string   `json:"tradition,omitempty"`
	Summary   string   `json:"summary"`
	Depth     float64  `json:"depth"`
	Relevance float64  `json:"relevance"`
}

// Weights holds the effective per-category coefficients of a record.
type Weights struct {
	Cultural   float64 `json:"cultural"`
	Shadow     float64 `json:"shadow"`
	Archetypal float64 `json:"archetypal"`
	Planetary  float64 `json:"planetary"`
	Universal  float64 `json:"universal"`
}

// Of returns the weight of category c.
func (w Weights) Of(c Category) float64 {
	switch c {
	case Cultural:
		return w.Cultural
	case Shadow:
		return w.Shadow
	case Archetypal:
		return w.Archetypal
	case Planetary:
		return w.Planetary
	case Universal:
		return w.Universal
	}
	return 0
}

func (w *Weights) set(c Category, v float64) {
	switch c {
	case Cultural:
		w.Cultural = v
	case Shadow:
		w.Shadow = v
	case Archetypal:
		w.Archetypal = v
	case Planetary:
		w.Planetary = v
	case Universal:
		w.Universal = v
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Cultural + w.Shadow + w.Archetypal + w.Planetary + w.Universal
}

// Record is the fused output of one synthesis run.
type Record struct {
	ID                    string    `json:"id"`
	PrimaryWisdom         string    `json:"primaryWisdom"`
	PrimaryCategory       Category  `json:"primaryCategory"`
	PrimaryTradition      string    `json:"primaryTradition,omitempty"`
	Weights               Weights   `json:"weights"`
	SourceCount           int       `json:"sourceCount"`
	WisdomPreservation    float64   `json:"wisdomPreservation"`
	EvolutionaryAlignment float64   `json:"evolutionaryAlignment"`
	Sources               []Source  `json:"sources"`
	CreatedAt             time.Time `json:"createdAt"`
}

type Synthesizer struct {
	src   content.Source
	clock state.Clock
	newID func() string
}

func NewSynthesizer(src content.Source) *Synthesizer {
	return NewSynthesizerWithClock(src, state.RealClock())
}

// NewSynthesizerWithClock creates a Synthesizer with a custom clock (for testing).
func NewSynthesizerWithClock(src content.Source, clock state.Clock) *Synthesizer {
	return &Synthesizer{src: src, clock: clock, newID: uuid.NewString}
}

// Synthesize fuses the dialogue and the supplied sources into one record.
//
// The dialogue joins the archetypal category as a source whose depth is the
// mean wisdom level of its exchanges. Its voices speak in the profile's
// primary culture, so the source carries that tradition. Category weights are the base
// coefficients re-normalized over the categories that have at least one
// source, so they always sum to 1 over what was supplied. A category's
// contribution is the mean depth (for wisdomPreservation) and mean relevance
// (for evolutionaryAlignment) of its sources. The primary wisdom is the
// summary of the source with the highest weight x depth score.
func (s *Synthesizer) Synthesize(exchanges []dialogue.Exchange, profile culture.Profile, sources []Source) (Record, error) {
	all := make([]Source, 0, len(sources)+1)
	for i, src := range sources {
		if BaseWeight(src.Category) == 0 {
			return Record{}, fmt.Errorf("%w: source %d has unknown category %q", ErrInvalidSource, i, src.Category)
		}
		if !unit(src.Depth) || !unit(src.Relevance) {
			return Record{}, fmt.Errorf("%w: source %d (%s) scores out of [0,1]", ErrInvalidSource, i, src.Origin)
		}
		all = append(all, src)
	}
	if ds, ok := dialogueSource(exchanges); ok {
		if !profile.IsUniversal() {
			ds.Tradition = profile.PrimaryCulture
		}
		all = append(all, ds)
	}
	if len(all) == 0 {
		return Record{}, ErrNoSources
	}

	weights := Normalize(all)

	type agg struct {
		depth, relevance float64
		n                int
	}
	per := make(map[Category]*agg, len(Categories))
	for _, src := range all {
		a := per[src.Category]
		if a == nil {
			a = &agg{}
			per[src.Category] = a
		}
		a.depth += src.Depth
		a.relevance += src.Relevance
		a.n++
	}

	rec := Record{
		ID:          s.newID(),
		Weights:     weights,
		SourceCount: len(all),
		Sources:     all,
		CreatedAt:   s.clock.Now(),
	}
	for _, c := range Categories {
		a := per[c]
		if a == nil {
			continue
		}
		w := weights.Of(c)
		rec.WisdomPreservation += w * a.depth / float64(a.n)
		rec.EvolutionaryAlignment += w * a.relevance / float64(a.n)
	}
	rec.WisdomPreservation = clamp(rec.WisdomPreservation)
	rec.EvolutionaryAlignment = clamp(rec.EvolutionaryAlignment)

	if best, ok := strongest(all, weights); ok {
		rec.PrimaryCategory = best.Category
		rec.PrimaryTradition = best.Tradition
		rec.PrimaryWisdom = s.compose(best.Summary, profile)
	}
	return rec, nil
}

// Normalize returns the base weights re-normalized over the categories
// present in sources. Absent categories get zero.
func Normalize(sources []Source) Weights {
	present := make(map[Category]bool, len(Categories))
	total := 0.0
	for _, src := range sources {
		if !present[src.Category] && BaseWeight(src.Category) > 0 {
			present[src.Category] = true
			total += BaseWeight(src.Category)
		}
	}
	var w Weights
	if total == 0 {
		return w
	}
	for _, c := range Categories {
		if present[c] {
			w.set(c, BaseWeight(c)/total)
		}
	}
	return w
}

// strongest picks the source with the highest weight x depth among those
// with a summary. Earlier categories, then earlier sources, win ties.
func strongest(sources []Source, w Weights) (Source, bool) {
	var (
		best  Source
		score = -1.0
	)
	for _, c := range Categories {
		for _, src := range sources {
			if src.Category != c || strings.TrimSpace(src.Summary) == "" {
				continue
			}
			if sc := w.Of(c) * src.Depth; sc > score {
				best, score = src, sc
			}
		}
	}
	return best, score >= 0
}

func (s *Synthesizer) compose(summary string, profile culture.Profile) string {
	connective := s.src.Table().Connective
	if connective == "" {
		connective = defaultConnective
	}
	framework := profile.SpiritualFramework
	if framework == "" {
		framework = content.UniversalCulture
	}
	summary = strings.TrimRight(strings.TrimSpace(summary), ".!;,")
	return fmt.Sprintf("%s, %s %s wisdom.", summary, connective, framework)
}

func dialogueSource(exchanges []dialogue.Exchange) (Source, bool) {
	if len(exchanges) == 0 {
		return Source{}, false
	}
	total := 0.0
	summary := ""
	for _, ex := range exchanges {
		total += ex.WisdomLevel
		if ex.Role == dialogue.RoleLight && summary == "" {
			summary = ex.Message
		}
	}
	mean := clamp(total / float64(len(exchanges)))
	return Source{
		Category:  Archetypal,
		Origin:    dialogueOrigin,
		Summary:   summary,
		Depth:     mean,
		Relevance: mean,
	}, true
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func clamp(v float64) float64 { return min(1, max(0, v)) }

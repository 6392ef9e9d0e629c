package synthesis

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/dialogue"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestSynthesizer() *Synthesizer {
	s := NewSynthesizerWithClock(content.NewStatic(nil), fixedClock{time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)})
	s.newID = func() string { return "rec-1" }
	return s
}

func TestNormalizeSumsToOneForEverySubset(t *testing.T) {
	for mask := 1; mask < 1<<len(Categories); mask++ {
		var sources []Source
		for i, c := range Categories {
			if mask&(1<<i) != 0 {
				sources = append(sources, Source{Category: c, Depth: 0.5})
			}
		}
		w := Normalize(sources)
		if math.Abs(w.Sum()-1) > 1e-6 {
			t.Errorf("mask %05b: sum = %v", mask, w.Sum())
		}
		for i, c := range Categories {
			if mask&(1<<i) == 0 && w.Of(c) != 0 {
				t.Errorf("mask %05b: absent %s has weight %v", mask, c, w.Of(c))
			}
		}
	}
}

func TestNormalizeKeepsBaseWeightsWhenAllPresent(t *testing.T) {
	var sources []Source
	for _, c := range Categories {
		sources = append(sources, Source{Category: c})
	}
	w := Normalize(sources)
	for _, c := range Categories {
		if math.Abs(w.Of(c)-BaseWeight(c)) > 1e-9 {
			t.Errorf("%s = %v, want %v", c, w.Of(c), BaseWeight(c))
		}
	}
}

func TestSynthesizeWithoutPlanetary(t *testing.T) {
	s := newTestSynthesizer()
	sources := []Source{
		{Category: Cultural, Origin: "native_american", Tradition: "native_american", Summary: "Walk in balance with all relations.", Depth: 0.9, Relevance: 1},
		{Category: Shadow, Origin: "self_sabotage", Summary: "The saboteur guards an old fear.", Depth: 0.6, Relevance: 0.8},
		{Category: Archetypal, Origin: "fire", Summary: "Fire transforms.", Depth: 0.8, Relevance: 0.8},
		{Category: Universal, Origin: "universal", Summary: "All is connected.", Depth: 0.7, Relevance: 0.5},
	}
	profile := culture.Universal()
	profile.SpiritualFramework = "medicine wheel"

	rec, err := s.Synthesize(nil, profile, sources)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rec.Weights.Planetary != 0 {
		t.Errorf("Planetary = %v, want 0", rec.Weights.Planetary)
	}
	if math.Abs(rec.Weights.Sum()-1) > 1e-6 {
		t.Errorf("weights sum = %v", rec.Weights.Sum())
	}
	if math.Abs(rec.Weights.Cultural-0.30/0.85) > 1e-9 {
		t.Errorf("Cultural = %v, want %v", rec.Weights.Cultural, 0.30/0.85)
	}
	if rec.SourceCount != 4 {
		t.Errorf("SourceCount = %d, want 4", rec.SourceCount)
	}
	if rec.PrimaryCategory != Cultural || rec.PrimaryTradition != "native_american" {
		t.Errorf("primary = %s/%s", rec.PrimaryCategory, rec.PrimaryTradition)
	}
	want := "Walk in balance with all relations, carried forward through medicine wheel wisdom."
	if rec.PrimaryWisdom != want {
		t.Errorf("PrimaryWisdom = %q, want %q", rec.PrimaryWisdom, want)
	}
	if rec.ID != "rec-1" {
		t.Errorf("ID = %q", rec.ID)
	}
	for name, v := range map[string]float64{"preservation": rec.WisdomPreservation, "alignment": rec.EvolutionaryAlignment} {
		if v < 0 || v > 1 {
			t.Errorf("%s = %v out of range", name, v)
		}
	}
}

func TestSynthesizeDialogueJoinsArchetypal(t *testing.T) {
	s := newTestSynthesizer()
	exchanges := []dialogue.Exchange{
		{Role: dialogue.RoleFacilitator, Message: "We gather.", WisdomLevel: 0.5},
		{Role: dialogue.RoleLight, Message: "I bring courage.", WisdomLevel: 0.7},
	}
	rec, err := s.Synthesize(exchanges, culture.Universal(), nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rec.SourceCount != 1 {
		t.Errorf("SourceCount = %d, want 1", rec.SourceCount)
	}
	if rec.Weights.Archetypal != 1 {
		t.Errorf("Archetypal = %v, want 1", rec.Weights.Archetypal)
	}
	if math.Abs(rec.WisdomPreservation-0.6) > 1e-9 {
		t.Errorf("WisdomPreservation = %v, want 0.6", rec.WisdomPreservation)
	}
	if !strings.HasPrefix(rec.PrimaryWisdom, "I bring courage,") {
		t.Errorf("PrimaryWisdom = %q", rec.PrimaryWisdom)
	}
}

func TestSynthesizeDialogueCarriesPrimaryCulture(t *testing.T) {
	s := newTestSynthesizer()
	exchanges := []dialogue.Exchange{{Role: dialogue.RoleLight, Message: "I am Thunder Being.", WisdomLevel: 0.8}}

	p := culture.Universal()
	p.PrimaryCulture = "native_american"
	rec, err := s.Synthesize(exchanges, p, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := rec.Sources[0].Tradition; got != "native_american" {
		t.Errorf("dialogue Tradition = %q, want native_american", got)
	}
	if rec.PrimaryTradition != "native_american" {
		t.Errorf("PrimaryTradition = %q", rec.PrimaryTradition)
	}

	rec, _ = s.Synthesize(exchanges, culture.Universal(), nil)
	if got := rec.Sources[0].Tradition; got != "" {
		t.Errorf("universal dialogue Tradition = %q, want empty", got)
	}
}

func TestSynthesizeRejectsBadInput(t *testing.T) {
	s := newTestSynthesizer()
	if _, err := s.Synthesize(nil, culture.Universal(), nil); !errors.Is(err, ErrNoSources) {
		t.Errorf("empty: err = %v, want ErrNoSources", err)
	}
	_, err := s.Synthesize(nil, culture.Universal(), []Source{{Category: "astral", Depth: 0.5}})
	if !errors.Is(err, ErrInvalidSource) {
		t.Errorf("unknown category: err = %v", err)
	}
	_, err = s.Synthesize(nil, culture.Universal(), []Source{{Category: Cultural, Depth: 1.5}})
	if !errors.Is(err, ErrInvalidSource) {
		t.Errorf("depth out of range: err = %v", err)
	}
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	s := newTestSynthesizer()
	sources := []Source{
		{Category: Archetypal, Origin: "water", Summary: "Water heals.", Depth: 0.8, Relevance: 0.6},
		{Category: Universal, Origin: "universal", Summary: "All is connected.", Depth: 0.7, Relevance: 0.5},
	}
	a, _ := s.Synthesize(nil, culture.Universal(), sources)
	b, _ := s.Synthesize(nil, culture.Universal(), sources)
	if a.PrimaryWisdom != b.PrimaryWisdom || a.Weights != b.Weights || a.WisdomPreservation != b.WisdomPreservation {
		t.Errorf("records differ: %+v vs %+v", a, b)
	}
}

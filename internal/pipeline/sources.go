package pipeline

import (
	"slices"

	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/storage"
	"github.com/kalambet/oracle/internal/synthesis"
)

// Relevance of each source kind to the user's own path.
const (
	primaryRelevance    = 1.0
	referencedRelevance = 0.6
	teachingRelevance   = 0.8
	planetaryRelevance  = 0.7
	universalRelevance  = 0.5

	teachingOrigin = "teaching"
)

// baseSources gathers the table-backed wisdom sources for a run. Cultural
// and universal sources are always present, shadow only when the user
// carries complexes, planetary only for query types that ask for it.
func (o *Orchestrator) baseSources(r *run) []synthesis.Source {
	tbl := r.tbl
	var out []synthesis.Source

	primary := r.profile.PrimaryCulture
	if c, ok := tbl.Cultures[primary]; ok {
		out = append(out, culturalSource(primary, c, primaryRelevance))
	} else {
		out = append(out, culturalSource(content.UniversalCulture, tbl.Cultures[content.UniversalCulture], primaryRelevance))
	}
	for _, name := range r.profile.ReferencedTraditions {
		if name == primary {
			continue
		}
		if c, ok := tbl.Cultures[name]; ok {
			out = append(out, culturalSource(name, c, referencedRelevance))
		}
	}

	for _, c := range r.nextShadow.Complexes {
		summary := ""
		if len(c.IntegrationApproaches) > 0 {
			summary = c.IntegrationApproaches[0]
		}
		out = append(out, synthesis.Source{
			Category:  synthesis.Shadow,
			Origin:    string(c.Type),
			Summary:   summary,
			Depth:     c.Intensity,
			Relevance: c.IntegrationReadiness,
		})
	}

	for _, a := range r.archetypes {
		out = append(out, synthesis.Source{
			Category:  synthesis.Archetypal,
			Origin:    string(a.Element),
			Summary:   a.Wisdom,
			Depth:     a.Depth,
			Relevance: a.ActivationLevel,
		})
	}

	if r.req.QueryType.planetary() {
		out = append(out, synthesis.Source{
			Category:  synthesis.Planetary,
			Origin:    "planetary",
			Summary:   tbl.Planetary.Summary,
			Depth:     tbl.Planetary.Depth,
			Relevance: planetaryRelevance,
		})
	}

	out = append(out, synthesis.Source{
		Category:  synthesis.Universal,
		Origin:    content.UniversalCulture,
		Summary:   tbl.Universal.Summary,
		Depth:     tbl.Universal.Depth,
		Relevance: universalRelevance,
	})
	return out
}

func culturalSource(name string, c content.Culture, relevance float64) synthesis.Source {
	return synthesis.Source{
		Category:  synthesis.Cultural,
		Origin:    name,
		Tradition: name,
		Summary:   c.Wisdom,
		Depth:     c.Depth,
		Relevance: relevance,
	}
}

func teachingSources(tbl *content.Table, tradition string, found []storage.Teaching) []synthesis.Source {
	depth := tbl.Cultures[tradition].Depth
	out := make([]synthesis.Source, 0, len(found))
	for _, t := range found {
		out = append(out, synthesis.Source{
			Category:  synthesis.Cultural,
			Origin:    teachingOrigin,
			Tradition: tradition,
			Summary:   t.Text,
			Depth:     depth,
			Relevance: teachingRelevance,
		})
	}
	return out
}

// culturalTraditions lists the traditions behind cultural sources in first
// appearance order.
func culturalTraditions(sources []synthesis.Source) []string {
	var out []string
	for _, s := range sources {
		if s.Category == synthesis.Cultural && s.Tradition != "" && !slices.Contains(out, s.Tradition) {
			out = append(out, s.Tradition)
		}
	}
	return out
}

// gatedTraditions is the primary culture followed by every tradition that
// contributed cultural content.
func gatedTraditions(p culture.Profile, sources []synthesis.Source) []string {
	out := []string{p.PrimaryCulture}
	for _, t := range culturalTraditions(sources) {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/oracle/internal/archetype"
	"github.com/kalambet/oracle/internal/compose"
	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/dialogue"
	"github.com/kalambet/oracle/internal/pathway"
	"github.com/kalambet/oracle/internal/purpose"
	"github.com/kalambet/oracle/internal/sovereignty"
	"github.com/kalambet/oracle/internal/synthesis"
)

// sharedView is what may leave the process once the gate has spoken.
type sharedView struct {
	profile    culture.Profile
	archetypes []archetype.Archetype
	dialogue   dialogue.ShadowLightDialogue
	record     synthesis.Record
	pathway    pathway.Pathway
}

func (r *run) denied(tradition string) (sovereignty.Decision, bool) {
	d, ok := r.byTrad[tradition]
	return d, ok && !d.Permitted
}

// redact builds the shared view. Content from a denied tradition is replaced
// by that decision's guidance; when the primary culture itself is denied the
// archetypes and dialogue fall back to their universal expression.
func (o *Orchestrator) redact(r *run) (sharedView, error) {
	v := sharedView{
		profile:    r.profile,
		archetypes: r.archetypes,
		dialogue:   r.dialogue,
		record:     r.record,
		pathway:    r.pathway,
	}

	if _, ok := r.denied(r.profile.PrimaryCulture); ok && !r.profile.IsUniversal() {
		v.profile = culture.Universal()
		v.archetypes = make([]archetype.Archetype, len(r.archetypes))
		for i, a := range r.archetypes {
			t := o.resolver.Translate(content.UniversalCulture, a.Element)
			a.CulturalName, a.TraditionalRole, a.Culture = t.CulturalName, t.TraditionalRole, t.Culture
			v.archetypes[i] = a
		}
		v.dialogue = o.facilitator.Facilitate(v.archetypes, r.req.UserInput, v.profile, r.nextShadow.Complexes)
	}

	changed := false
	rec := r.record
	rec.Sources = slices.Clone(r.record.Sources)
	for i, s := range rec.Sources {
		if d, ok := r.denied(s.Tradition); ok {
			rec.Sources[i].Summary = d.GuidanceText
			changed = true
		}
	}
	if d, ok := r.denied(rec.PrimaryTradition); ok {
		rec.PrimaryWisdom = d.GuidanceText
		changed = true
	}
	if !changed {
		return v, nil
	}
	v.record = rec

	p, err := o.builder.Build(rec, v.profile)
	if err != nil {
		return sharedView{}, err
	}
	v.pathway = p
	return v, nil
}

func (o *Orchestrator) assemble(r *run) Response {
	q := r.req.QueryType
	v := r.shared
	resp := Response{
		RunID:                         r.id,
		CulturalSovereigntyMaintained: len(r.withheld) == 0,
		ShadowWisdomIntegrated:        len(r.nextShadow.Complexes) > 0,
		SovereigntyDecisions:          nonNil(r.decisions),
		WithheldTraditions:            nonNil(r.withheld),
		IntegrationOpportunities:      nonNil(slices.Clone(r.tbl.Opportunities[string(q)])),
		ContentVersion:                r.tbl.Version,
	}

	if q.includes(ArchetypalDialogue) {
		resp.ArchetypalDialogue = &DialoguePayload{Archetypes: v.archetypes, Dialogue: v.dialogue}
	}
	if q.includes(WisdomSynthesis) {
		rec, p := v.record, v.pathway
		resp.WisdomSynthesis = &rec
		resp.IntegrationPathway = &p
	}
	if q.includes(StoryWeaving) {
		s := weaveStory(r, v)
		resp.StoryWeaving = &s
	}
	if q.planetary() {
		resp.PlanetaryInsights = &PlanetaryInsights{
			Summary:               r.tbl.Planetary.Summary,
			Insights:              nonNil(slices.Clone(r.tbl.Planetary.Insights)),
			ElementalBalance:      r.nextPurpose.Signature.Balance,
			EvolutionaryAlignment: v.record.EvolutionaryAlignment,
		}
	}

	resp.ResponseText = o.composer.Compose(sections(r, resp), r.byTrad).Text
	return resp
}

// sections lays out the response text. Sections carrying traditional
// content are tagged so the composer can gate them.
func sections(r *run, resp Response) []compose.Section {
	out := []compose.Section{{
		Title:     "Wisdom",
		Body:      r.record.PrimaryWisdom,
		Tradition: r.record.PrimaryTradition,
		Priority:  1,
	}}

	if resp.ArchetypalDialogue != nil {
		var lines []string
		for _, s := range r.dialogue.ShadowRecognitions {
			lines = append(lines, "Shadow: "+s)
		}
		for _, l := range r.dialogue.LightActivations {
			lines = append(lines, "Light: "+l)
		}
		sec := compose.Section{Title: "Archetypal Dialogue", Body: strings.Join(lines, "\n"), Priority: 0.9}
		if !r.profile.IsUniversal() {
			sec.Tradition = r.profile.PrimaryCulture
		}
		out = append(out, sec)
	}

	if resp.StoryWeaving != nil {
		out = append(out, compose.Section{Title: resp.StoryWeaving.Title, Body: resp.StoryWeaving.Narrative, Priority: 0.8})
	}

	if len(r.detected) > 0 {
		var lines []string
		for _, c := range r.detected {
			if len(c.IntegrationApproaches) > 0 {
				lines = append(lines, fmt.Sprintf("%s: %s", readable(string(c.Type)), c.IntegrationApproaches[0]))
			}
		}
		out = append(out, compose.Section{Title: "Shadow Work", Body: strings.Join(lines, "\n"), Priority: 0.7})
	}

	if resp.IntegrationPathway != nil {
		names := make([]string, len(resp.IntegrationPathway.Stages))
		for i, s := range resp.IntegrationPathway.Stages {
			names[i] = s.Name
		}
		out = append(out, compose.Section{Title: "Integration Pathway", Body: strings.Join(names, " → "), Priority: 0.6})
	}

	for _, s := range r.record.Sources {
		if s.Category != synthesis.Cultural || s.Summary == "" || s.Summary == summaryOf(r.record) {
			continue
		}
		out = append(out, compose.Section{
			Title:     "Cultural Wisdom",
			Body:      s.Summary,
			Tradition: s.Tradition,
			Priority:  0.5 * r.record.Weights.Cultural * s.Relevance,
		})
	}

	if resp.PlanetaryInsights != nil {
		out = append(out, compose.Section{
			Title:    "Planetary Insights",
			Body:     strings.Join(resp.PlanetaryInsights.Insights, "\n"),
			Priority: 0.4,
		})
	}

	if len(resp.IntegrationOpportunities) > 0 {
		out = append(out, compose.Section{
			Title:    "Integration Opportunities",
			Body:     "- " + strings.Join(resp.IntegrationOpportunities, "\n- "),
			Priority: 0.05,
		})
	}
	return out
}

// summaryOf returns the source summary the primary wisdom was built from.
func summaryOf(rec synthesis.Record) string {
	for _, s := range rec.Sources {
		if s.Category == rec.PrimaryCategory && s.Summary != "" && strings.HasPrefix(rec.PrimaryWisdom, strings.TrimRight(s.Summary, ".!;,")) {
			return s.Summary
		}
	}
	return ""
}

// weaveStory turns the user's tracks into a community narrative.
func weaveStory(r *run, v sharedView) Story {
	lead := v.archetypes[0]
	s := Story{
		Title:                 "The Journey of " + lead.CulturalName,
		Themes:                []string{},
		MythicResonances:      []string{},
		StorytellingPractices: []string{},
		DreamSymbols:          nonNil(slices.Clone(r.nextDream.Recurring)),
	}

	phase := r.nextPurpose.LifePhase
	if phase == "" {
		phase = purpose.DefaultPhase
	}
	s.Themes = append(s.Themes, "life phase: "+phase)
	s.Themes = append(s.Themes, r.nextPurpose.PurposeThemes...)

	for _, a := range v.archetypes {
		if a.Resonance != "" && !slices.Contains(s.MythicResonances, a.Resonance) {
			s.MythicResonances = append(s.MythicResonances, a.Resonance)
		}
	}
	for _, p := range v.profile.CulturalStrengths {
		s.StorytellingPractices = append(s.StorytellingPractices, p)
	}
	for _, p := range v.profile.TraditionalPractices {
		if !slices.Contains(s.StorytellingPractices, p) {
			s.StorytellingPractices = append(s.StorytellingPractices, p)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "In this %s phase of life you walk with %s, %s.", phase, lead.CulturalName, lead.TraditionalRole)
	if lead.Wisdom != "" {
		fmt.Fprintf(&sb, " %s.", strings.TrimRight(lead.Wisdom, "."))
	}
	if len(r.detected) > 0 {
		fmt.Fprintf(&sb, " The %s pattern steps forward to be heard rather than fought.", readable(string(r.detected[0].Type)))
	}
	if len(s.DreamSymbols) > 0 {
		fmt.Fprintf(&sb, " Your dreams keep returning to the %s.", strings.Join(s.DreamSymbols, " and the "))
	}
	sb.WriteString(" The circle gathers to hear how your story becomes medicine for others.")
	s.Narrative = sb.String()
	return s
}

func readable(s string) string { return strings.ReplaceAll(s, "_", " ") }

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

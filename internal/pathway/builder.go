// Package pathway turns a wisdom record into an ordered integration plan.
package pathway

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/synthesis"
)

// Cutoff is the minimum component weight that activates a template stage.
const Cutoff = 0.1

const (
	minStages = 3
	maxStages = 5
)

var ErrEmptyRecord = errors.New("wisdom record has no id")

// Stage is one step of the plan. Every stage points back at the record it
// was derived from.
type Stage struct {
	Name             string             `json:"name"`
	Focus            synthesis.Category `json:"focus"`
	Weight           float64            `json:"weight"`
	Activities       []string           `json:"activities"`
	ProgressCriteria []string           `json:"progressCriteria"`
	RecordID         string             `json:"recordId"`
}

type Pathway struct {
	RecordID string  `json:"recordId"`
	Stages   []Stage `json:"stages"`
}

type template struct {
	name     string
	focus    synthesis.Category
	activity func(rec synthesis.Record, p culture.Profile) []string
	criteria []string
}

// stages is the fixed template, in the order the user walks it.
var stages = []template{
	{
		name:  "Recognition",
		focus: synthesis.Shadow,
		activity: func(rec synthesis.Record, _ culture.Profile) []string {
			out := []string{"Name the pattern when it appears, without judging it"}
			for _, src := range rec.Sources {
				if src.Category == synthesis.Shadow && src.Summary != "" {
					out = append(out, "Reflect on: "+src.Summary)
				}
			}
			return out
		},
		criteria: []string{"The pattern is noticed as it happens", "Its trigger can be described in one sentence"},
	},
	{
		name:  "Dialogue",
		focus: synthesis.Archetypal,
		activity: func(rec synthesis.Record, _ culture.Profile) []string {
			out := []string{"Journal a conversation between the shadow voice and the light voice"}
			for _, src := range rec.Sources {
				if src.Category == synthesis.Archetypal && src.Origin != "" && src.Origin != "dialogue" {
					out = append(out, fmt.Sprintf("Call on the %s archetype when the shadow speaks", src.Origin))
				}
			}
			return out
		},
		criteria: []string{"Both voices have been heard in writing", "A need behind the shadow voice is named"},
	},
	{
		name:  "Practice",
		focus: synthesis.Cultural,
		activity: func(_ synthesis.Record, p culture.Profile) []string {
			out := []string{}
			for _, pr := range p.TraditionalPractices {
				out = append(out, fmt.Sprintf("Bring %s into a weekly rhythm", strings.ReplaceAll(pr, "_", " ")))
			}
			for _, s := range p.CulturalStrengths {
				out = append(out, "Lean on your strength of "+s)
			}
			if len(out) == 0 {
				out = append(out, "Choose one grounding practice and repeat it daily")
			}
			return out
		},
		criteria: []string{"The practice has been kept for seven days", "Its effect on the pattern is noted"},
	},
	{
		name:  "Integration",
		focus: synthesis.Universal,
		activity: func(rec synthesis.Record, _ culture.Profile) []string {
			return []string{
				"Sit with this teaching: " + rec.PrimaryWisdom,
				"Act once from the integrated place and record what changed",
			}
		},
		criteria: []string{"A choice was made from the new perspective", "The old reaction was noticed but not followed"},
	},
	{
		name:  "Celebration",
		focus: synthesis.Planetary,
		activity: func(rec synthesis.Record, _ culture.Profile) []string {
			out := []string{"Mark the change with a small ritual of gratitude"}
			for _, src := range rec.Sources {
				if src.Category == synthesis.Planetary && src.Summary != "" {
					out = append(out, "Offer your growth to the wider field: "+src.Summary)
				}
			}
			return out
		},
		criteria: []string{"The growth has been shared with someone trusted"},
	},
}

type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build trims the template to stages whose focus weight reaches Cutoff.
// When fewer than three qualify, the heaviest remaining stages are added
// back so the plan always holds between three and five stages, kept in
// template order.
func (b *Builder) Build(rec synthesis.Record, profile culture.Profile) (Pathway, error) {
	if rec.ID == "" {
		return Pathway{}, ErrEmptyRecord
	}

	picked := make([]bool, len(stages))
	n := 0
	for i, tp := range stages {
		if rec.Weights.Of(tp.focus) >= Cutoff {
			picked[i] = true
			n++
		}
	}
	if n < minStages {
		rest := make([]int, 0, len(stages))
		for i := range stages {
			if !picked[i] {
				rest = append(rest, i)
			}
		}
		slices.SortStableFunc(rest, func(a, b int) int {
			wa, wb := rec.Weights.Of(stages[a].focus), rec.Weights.Of(stages[b].focus)
			switch {
			case wa > wb:
				return -1
			case wa < wb:
				return 1
			}
			return 0
		})
		for _, i := range rest[:minStages-n] {
			picked[i] = true
		}
	}

	p := Pathway{RecordID: rec.ID, Stages: make([]Stage, 0, maxStages)}
	for i, tp := range stages {
		if !picked[i] {
			continue
		}
		p.Stages = append(p.Stages, Stage{
			Name:             tp.name,
			Focus:            tp.focus,
			Weight:           rec.Weights.Of(tp.focus),
			Activities:       tp.activity(rec, profile),
			ProgressCriteria: slices.Clone(tp.criteria),
			RecordID:         rec.ID,
		})
	}
	return p, nil
}

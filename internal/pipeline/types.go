package pipeline

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/kalambet/oracle/internal/archetype"
	"github.com/kalambet/oracle/internal/dialogue"
	"github.com/kalambet/oracle/internal/pathway"
	"github.com/kalambet/oracle/internal/sovereignty"
	"github.com/kalambet/oracle/internal/synthesis"
)

// QueryType selects which payloads a run returns.
type QueryType string

const (
	ArchetypalDialogue    QueryType = "archetypal_dialogue"
	WisdomSynthesis       QueryType = "wisdom_synthesis"
	StoryWeaving          QueryType = "story_weaving"
	ConsciousnessPatterns QueryType = "consciousness_patterns"
	Comprehensive         QueryType = "comprehensive"
)

// QueryTypes lists every supported query type.
var QueryTypes = []QueryType{ArchetypalDialogue, WisdomSynthesis, StoryWeaving, ConsciousnessPatterns, Comprehensive}

func (q QueryType) Valid() bool { return slices.Contains(QueryTypes, q) }

func (q QueryType) includes(p QueryType) bool { return q == p || q == Comprehensive }

// planetary reports whether the planetary source joins the fusion.
func (q QueryType) planetary() bool { return q.includes(ConsciousnessPatterns) }

// RunState is a node of the run state machine.
type RunState string

const (
	StateReceived             RunState = "Received"
	StateContextResolved      RunState = "ContextResolved"
	StateArchetypesIdentified RunState = "ArchetypesIdentified"
	StateDialogueComplete     RunState = "DialogueComplete"
	StateSynthesized          RunState = "Synthesized"
	StateGateChecked          RunState = "GateChecked"
	StateCompleted            RunState = "Completed"
	StateFailed               RunState = "Failed"
)

// Terminal reports whether no further transition may follow s.
func (s RunState) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Request is one call into the pipeline.
type Request struct {
	UserInput   string          `json:"userInput"`
	UserID      string          `json:"userId"`
	QueryType   QueryType       `json:"queryType"`
	ProfileHint json.RawMessage `json:"userProfile,omitempty"`
	IntendedUse string          `json:"intendedUse,omitempty"`
	Consent     *bool           `json:"consent,omitempty"`
}

func (r Request) intendedUse() string {
	if isBlank(r.IntendedUse) {
		return sovereignty.DefaultIntendedUse
	}
	return r.IntendedUse
}

func (r Request) consent() bool { return r.Consent == nil || *r.Consent }

// Response is the assembled, gated output of a completed run.
type Response struct {
	RunID                         string                 `json:"runId"`
	State                         RunState               `json:"state"`
	ResponseText                  string                 `json:"responseText"`
	CulturalSovereigntyMaintained bool                   `json:"culturalSovereigntyMaintained"`
	ShadowWisdomIntegrated        bool                   `json:"shadowWisdomIntegrated"`
	ArchetypalDialogue            *DialoguePayload       `json:"archetypalDialogue,omitempty"`
	WisdomSynthesis               *synthesis.Record      `json:"wisdomSynthesis,omitempty"`
	IntegrationPathway            *pathway.Pathway       `json:"integrationPathway,omitempty"`
	StoryWeaving                  *Story                 `json:"storyWeaving,omitempty"`
	PlanetaryInsights             *PlanetaryInsights     `json:"planetaryInsights,omitempty"`
	SovereigntyDecisions          []sovereignty.Decision `json:"sovereigntyDecisions"`
	WithheldTraditions            []string               `json:"withheldTraditions"`
	IntegrationOpportunities      []string               `json:"integrationOpportunities"`
	ContentVersion                string                 `json:"contentVersion"`
}

// DialoguePayload is the archetypal_dialogue payload.
type DialoguePayload struct {
	Archetypes []archetype.Archetype        `json:"archetypes"`
	Dialogue   dialogue.ShadowLightDialogue `json:"dialogue"`
}

// Story is the story_weaving payload: a community narrative assembled from
// the user's tracks.
type Story struct {
	Title                 string   `json:"title"`
	Narrative             string   `json:"narrative"`
	Themes                []string `json:"themes"`
	MythicResonances      []string `json:"mythicResonances"`
	StorytellingPractices []string `json:"storytellingPractices"`
	DreamSymbols          []string `json:"dreamSymbols"`
}

// PlanetaryInsights is the consciousness_patterns payload.
type PlanetaryInsights struct {
	Summary               string   `json:"summary"`
	Insights              []string `json:"insights"`
	ElementalBalance      float64  `json:"elementalBalance"`
	EvolutionaryAlignment float64  `json:"evolutionaryAlignment"`
}

// Transition is reported to hooks on every state change.
type Transition struct {
	RunID  string
	UserID string
	From   RunState
	To     RunState
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

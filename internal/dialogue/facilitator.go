// Package dialogue builds simulated shadow and light dialogues from the
// identified archetypes and a user's shadow complexes.
package dialogue

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/oracle/internal/archetype"
	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/shadow"
)

type Role string

const (
	RoleShadow      Role = "shadow"
	RoleLight       Role = "light"
	RoleEgo         Role = "ego"
	RoleFacilitator Role = "facilitator"
)

// Dialogue types keyed into the content table.
const (
	TypeInnerCritic      = "inner_critic"
	TypeRejectedSelf     = "rejected_self"
	TypeCulturalShadow   = "cultural_shadow"
	TypeArchetypalShadow = "archetypal_shadow"
	TypeLightActivation  = content.LightDialogue
)

// Annotations for the facilitator's opening, and for table entries that
// leave tone or purpose blank.
const (
	defaultTone    = "neutral"
	defaultPurpose = "Shadow integration"
)

// Wisdom levels for turns whose level is not set by the content table.
const (
	egoWisdom         = 0.4
	facilitatorWisdom = 0.5
)

const (
	facilitatorID = "facilitator"
	egoID         = "ego"
)

type Participant struct {
	ID          string             `json:"id"`
	Role        Role               `json:"role"`
	Name        string             `json:"name"`
	Element     content.Element    `json:"element,omitempty"`
	ComplexType shadow.ComplexType `json:"complexType,omitempty"`
}

// Exchange is one turn of the dialogue.
type Exchange struct {
	Speaker            string  `json:"speaker"`
	Role               Role    `json:"role"`
	Message            string  `json:"message"`
	WisdomLevel        float64 `json:"wisdomLevel"`
	DialogueType       string  `json:"dialogueType,omitempty"`
	EmotionalTone      string  `json:"emotionalTone"`
	TherapeuticPurpose string  `json:"therapeuticPurpose"`
}

// ShadowLightDialogue is the result of one facilitated session.
type ShadowLightDialogue struct {
	Participants       []Participant `json:"participants"`
	Exchanges          []Exchange    `json:"exchanges"`
	ShadowRecognitions []string      `json:"shadowRecognitions"`
	LightActivations   []string      `json:"lightActivations"`
}

type Facilitator struct {
	src content.Source
}

func NewFacilitator(src content.Source) *Facilitator {
	return &Facilitator{src: src}
}

// Facilitate convenes one shadow participant per complex and one light
// participant per archetype. Without complexes the dialogue holds only the
// light side. It never fails.
func (f *Facilitator) Facilitate(archetypes []archetype.Archetype, challenge string, profile culture.Profile, complexes []shadow.Complex) ShadowLightDialogue {
	tbl := f.src.Table()
	d := ShadowLightDialogue{
		Participants:       []Participant{},
		Exchanges:          []Exchange{},
		ShadowRecognitions: []string{},
		LightActivations:   []string{},
	}
	if len(complexes) > 0 {
		d.Participants = append(d.Participants,
			Participant{ID: facilitatorID, Role: RoleFacilitator, Name: "Facilitator"},
			Participant{ID: egoID, Role: RoleEgo, Name: "Self"},
		)
		d.Exchanges = append(d.Exchanges, Exchange{
			Speaker:            facilitatorID,
			Role:               RoleFacilitator,
			Message:            fmt.Sprintf("We gather to listen to every voice around: %q", strings.TrimSpace(challenge)),
			WisdomLevel:        facilitatorWisdom,
			EmotionalTone:      defaultTone,
			TherapeuticPurpose: defaultPurpose,
		})
	}
	for _, c := range complexes {
		d.Participants = append(d.Participants, Participant{
			ID:          shadowID(c.Type),
			Role:        RoleShadow,
			Name:        readable(string(c.Type)),
			ComplexType: c.Type,
		})
	}
	for _, a := range archetypes {
		d.Participants = append(d.Participants, Participant{
			ID:      lightID(a.Element),
			Role:    RoleLight,
			Name:    a.CulturalName,
			Element: a.Element,
		})
	}

	spoken := make(map[content.Element]bool)
	for _, c := range complexes {
		dt := dialogueType(c, profile)
		entry, ok := tbl.Dialogues[dt]
		if !ok {
			dt, entry = TypeInnerCritic, tbl.Dialogues[TypeInnerCritic]
		}
		d.Exchanges = append(d.Exchanges,
			turn(shadowID(c.Type), RoleShadow, entry.Opening, entry.Wisdom, dt, entry),
			turn(egoID, RoleEgo, entry.EgoReply, egoWisdom, dt, entry),
		)
		if a, ok := answering(archetypes, c.Type); ok {
			d.Exchanges = append(d.Exchanges, turn(lightID(a.Element), RoleLight, lightAnswer(a, c), lightWisdom(a), dt, entry))
			spoken[a.Element] = true
		}
		d.Exchanges = append(d.Exchanges, turn(facilitatorID, RoleFacilitator, entry.Closing, facilitatorWisdom, dt, entry))
		d.ShadowRecognitions = append(d.ShadowRecognitions, recognition(c))
	}

	light := tbl.Dialogues[TypeLightActivation]
	for _, a := range archetypes {
		if !spoken[a.Element] {
			d.Exchanges = append(d.Exchanges, turn(lightID(a.Element), RoleLight, lightOffering(a), lightWisdom(a), TypeLightActivation, light))
		}
		if len(a.LightAspects) > 0 {
			d.LightActivations = append(d.LightActivations, fmt.Sprintf("%s: %s", a.CulturalName, a.LightAspects[0]))
		}
	}
	return d
}

// dialogueType picks the session type for a complex. Family patterns in a
// user with a specific heritage are worked as cultural shadow.
func dialogueType(c shadow.Complex, profile culture.Profile) string {
	if c.Type == shadow.MotherFather && !profile.IsUniversal() {
		return TypeCulturalShadow
	}
	if c.DialogueType != "" {
		return c.DialogueType
	}
	return TypeInnerCritic
}

// answering picks the archetype that speaks to complex t: the first one
// listing t as relevant, otherwise the strongest archetype.
func answering(archetypes []archetype.Archetype, t shadow.ComplexType) (archetype.Archetype, bool) {
	if len(archetypes) == 0 {
		return archetype.Archetype{}, false
	}
	for _, a := range archetypes {
		if slices.Contains(a.RelevantComplexes, string(t)) {
			return a, true
		}
	}
	return archetypes[0], true
}

func turn(speaker string, role Role, msg string, wisdom float64, dt string, entry content.Dialogue) Exchange {
	return Exchange{
		Speaker:            speaker,
		Role:               role,
		Message:            msg,
		WisdomLevel:        unit(wisdom),
		DialogueType:       dt,
		EmotionalTone:      orDefault(entry.Tone, defaultTone),
		TherapeuticPurpose: orDefault(entry.Purpose, defaultPurpose),
	}
}

func lightAnswer(a archetype.Archetype, c shadow.Complex) string {
	gift := "presence"
	if len(a.LightAspects) > 0 {
		gift = strings.ToLower(a.LightAspects[0])
	}
	return fmt.Sprintf("As %s, %s, I see the %s pattern and offer %s in its place.",
		a.CulturalName, a.TraditionalRole, readable(string(c.Type)), gift)
}

func lightOffering(a archetype.Archetype) string {
	msg := fmt.Sprintf("I am %s, %s. %s.", a.CulturalName, a.TraditionalRole, a.Wisdom)
	if len(a.LightAspects) >= 2 {
		msg += fmt.Sprintf(" I bring %s and %s.", strings.ToLower(a.LightAspects[0]), strings.ToLower(a.LightAspects[1]))
	}
	return msg
}

func lightWisdom(a archetype.Archetype) float64 {
	return unit(a.Depth * a.ActivationLevel)
}

func recognition(c shadow.Complex) string {
	detail := strings.Join(c.Indicators, ", ")
	if len(c.Manifestations) > 0 {
		detail = c.Manifestations[0]
	}
	return fmt.Sprintf("%s: %s", readable(string(c.Type)), detail)
}

func shadowID(t shadow.ComplexType) string { return "shadow:" + string(t) }
func lightID(e content.Element) string { return "light:" + string(e) }

func readable(s string) string { return strings.ReplaceAll(s, "_", " ") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func unit(v float64) float64 { return min(1, max(0, v)) }

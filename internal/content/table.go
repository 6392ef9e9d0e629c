package content

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

// Element is one of the four elemental forces.
type Element string

const (
	Fire  Element = "fire"
	Water Element = "water"
	Earth Element = "earth"
	Air   Element = "air"
)

// Elements lists every element in tie-break priority order.
var Elements = []Element{Fire, Water, Earth, Air}

// Sensitivity levels for the tradition registry.
const (
	LevelOpen      = "open"
	LevelCommunity = "community"
	LevelSacred    = "sacred"
)

// UniversalCulture is the fallback culture key.
const UniversalCulture = "universal"

// LightDialogue is the dialogue entry annotating turns where a light
// archetype speaks without answering a complex.
const LightDialogue = "light_activation"

// Table is one immutable, versioned snapshot of all lookup content.
type Table struct {
	Version       string                               `yaml:"version"`
	Connective    string                               `yaml:"connective"`
	Universal     Wisdom                               `yaml:"universal"`
	Planetary     Planetary                            `yaml:"planetary"`
	Cultures      map[string]Culture                   `yaml:"cultures"`
	Archetypes    map[string]map[Element]ArchetypeName `yaml:"archetypes"`
	Elements      map[Element]ElementEntry             `yaml:"elements"`
	Complexes     map[string]Complex                   `yaml:"complexes"`
	Dialogues     map[string]Dialogue                  `yaml:"dialogues"`
	Traditions    map[string]Tradition                 `yaml:"traditions"`
	Purpose       Purpose                              `yaml:"purpose"`
	Dream         Dream                                `yaml:"dream"`
	Opportunities map[string][]string                  `yaml:"opportunities"`

	cultureMatchers map[string]*Matcher
	elementMatchers map[Element]*Matcher
	complexMatchers map[string]*Matcher
	themeMatchers   map[Element]*Matcher
	phaseMatchers   []*Matcher
	purposeMatcher  *Matcher
	dreamTrigger    *Matcher
	dreamSymbols    *Matcher
}

type Wisdom struct {
	Summary string  `yaml:"summary"`
	Depth   float64 `yaml:"depth"`
}

type Planetary struct {
	Summary  string   `yaml:"summary"`
	Depth    float64  `yaml:"depth"`
	Insights []string `yaml:"insights"`
}

type Culture struct {
	Keywords  []string `yaml:"keywords"`
	Strengths []string `yaml:"strengths"`
	Framework string   `yaml:"framework"`
	Wisdom    string   `yaml:"wisdom"`
	Depth     float64  `yaml:"depth"`
}

type ArchetypeName struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

type ElementEntry struct {
	Keywords      []string `yaml:"keywords"`
	ShadowAspects []string `yaml:"shadow_aspects"`
	LightAspects  []string `yaml:"light_aspects"`
	Complexes     []string `yaml:"complexes"`
	Wisdom        string   `yaml:"wisdom"`
	Depth         float64  `yaml:"depth"`
	Resonance     string   `yaml:"resonance"`
}

type Complex struct {
	Indicators     []string `yaml:"indicators"`
	Intensity      float64  `yaml:"intensity"`
	Readiness      float64  `yaml:"readiness"`
	Dialogue       string   `yaml:"dialogue"`
	Manifestations []string `yaml:"manifestations"`
	Approaches     []string `yaml:"approaches"`
}

type Dialogue struct {
	Opening  string  `yaml:"opening"`
	EgoReply string  `yaml:"ego_reply"`
	Closing  string  `yaml:"closing"`
	Tone     string  `yaml:"tone"`
	Purpose  string  `yaml:"purpose"`
	Wisdom   float64 `yaml:"wisdom"`
}

type Tradition struct {
	Level       string   `yaml:"level"`
	Lineage     []string `yaml:"lineage"`
	Contexts    []string `yaml:"contexts"`
	Guidance    string   `yaml:"guidance"`
	Reciprocity string   `yaml:"reciprocity"`
}

type Purpose struct {
	Keywords []string             `yaml:"keywords"`
	Themes   map[Element][]string `yaml:"themes"`
	Phases   []Phase              `yaml:"phases"`
}

type Phase struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type Dream struct {
	Triggers []string      `yaml:"triggers"`
	Symbols  []DreamSymbol `yaml:"symbols"`
}

type DreamSymbol struct {
	Symbol  string  `yaml:"symbol"`
	Element Element `yaml:"element"`
	Meaning string  `yaml:"meaning"`
}

// Default returns the embedded content table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("content: embedded table invalid: %v", err))
	}
	return t
}

// Parse decodes and validates a YAML content table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding content table: %w", err)
	}
	if err := t.prepare(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) prepare() error {
	if t.Version == "" {
		return errors.New("content table: version is required")
	}
	if _, ok := t.Cultures[UniversalCulture]; !ok {
		return errors.New("content table: universal culture is required")
	}
	if _, ok := t.Archetypes[UniversalCulture]; !ok {
		return errors.New("content table: universal archetypes are required")
	}
	for _, e := range Elements {
		if _, ok := t.Elements[e]; !ok {
			return fmt.Errorf("content table: element %q missing", e)
		}
		if _, ok := t.Archetypes[UniversalCulture][e]; !ok {
			return fmt.Errorf("content table: universal archetype for %q missing", e)
		}
	}
	if _, ok := t.Dialogues[LightDialogue]; !ok {
		return fmt.Errorf("content table: dialogue %q is required", LightDialogue)
	}
	for name, c := range t.Complexes {
		if !unit(c.Intensity) || !unit(c.Readiness) {
			return fmt.Errorf("content table: complex %q intensity/readiness out of [0,1]", name)
		}
		if _, ok := t.Dialogues[c.Dialogue]; !ok {
			return fmt.Errorf("content table: complex %q references unknown dialogue %q", name, c.Dialogue)
		}
	}
	for e, entry := range t.Elements {
		for _, c := range entry.Complexes {
			if _, ok := t.Complexes[c]; !ok {
				return fmt.Errorf("content table: element %q references unknown complex %q", e, c)
			}
		}
	}
	for name, tr := range t.Traditions {
		switch tr.Level {
		case LevelOpen, LevelCommunity, LevelSacred:
		default:
			return fmt.Errorf("content table: tradition %q has invalid level %q", name, tr.Level)
		}
	}

	var err error
	t.cultureMatchers = make(map[string]*Matcher, len(t.Cultures))
	for name, c := range t.Cultures {
		if t.cultureMatchers[name], err = newMatcher(c.Keywords, matchWord); err != nil {
			return err
		}
	}
	t.elementMatchers = make(map[Element]*Matcher, len(Elements))
	t.themeMatchers = make(map[Element]*Matcher, len(Elements))
	for _, e := range Elements {
		if t.elementMatchers[e], err = newMatcher(t.Elements[e].Keywords, matchPrefix); err != nil {
			return err
		}
		if t.themeMatchers[e], err = newMatcher(t.Purpose.Themes[e], matchPrefix); err != nil {
			return err
		}
	}
	t.complexMatchers = make(map[string]*Matcher, len(t.Complexes))
	for name, c := range t.Complexes {
		if t.complexMatchers[name], err = newMatcher(c.Indicators, matchPhrase); err != nil {
			return err
		}
	}
	t.phaseMatchers = make([]*Matcher, len(t.Purpose.Phases))
	for i, p := range t.Purpose.Phases {
		if t.phaseMatchers[i], err = newMatcher(p.Keywords, matchPhrase); err != nil {
			return err
		}
	}
	if t.purposeMatcher, err = newMatcher(t.Purpose.Keywords, matchPrefix); err != nil {
		return err
	}
	if t.dreamTrigger, err = newMatcher(t.Dream.Triggers, matchPrefix); err != nil {
		return err
	}
	symbols := make([]string, len(t.Dream.Symbols))
	for i, s := range t.Dream.Symbols {
		symbols[i] = s.Symbol
	}
	if t.dreamSymbols, err = newMatcher(symbols, matchPrefix); err != nil {
		return err
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// CultureNames returns the non-universal culture keys in sorted order.
func (t *Table) CultureNames() []string {
	names := make([]string, 0, len(t.Cultures))
	for name := range t.Cultures {
		if name != UniversalCulture {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ComplexNames returns the shadow complex keys in sorted order.
func (t *Table) ComplexNames() []string {
	names := make([]string, 0, len(t.Complexes))
	for name := range t.Complexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) CultureMatcher(name string) *Matcher { return t.cultureMatchers[name] }
func (t *Table) ElementMatcher(e Element) *Matcher { return t.elementMatchers[e] }
func (t *Table) ThemeMatcher(e Element) *Matcher { return t.themeMatchers[e] }
func (t *Table) ComplexMatcher(name string) *Matcher { return t.complexMatchers[name] }
func (t *Table) PurposeMatcher() *Matcher { return t.purposeMatcher }
func (t *Table) DreamTriggerMatcher() *Matcher { return t.dreamTrigger }
func (t *Table) DreamSymbolMatcher() *Matcher { return t.dreamSymbols }
func (t *Table) PhaseMatcher(i int) *Matcher { return t.phaseMatchers[i] }

// ArchetypeFor returns the cultural expression of an element, falling back to
// the universal table when the culture has no registered mapping.
func (t *Table) ArchetypeFor(culture string, e Element) (ArchetypeName, string) {
	if names, ok := t.Archetypes[culture]; ok {
		if a, ok := names[e]; ok {
			return a, culture
		}
	}
	return t.Archetypes[UniversalCulture][e], UniversalCulture
}

// DreamSymbol looks up a symbol entry by name.
func (t *Table) DreamSymbol(symbol string) (DreamSymbol, bool) {
	for _, s := range t.Dream.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return DreamSymbol{}, false
}

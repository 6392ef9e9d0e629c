package culture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/oracle/internal/content"
)

// Profile is a user's cultural and spiritual context.
type Profile struct {
	PrimaryCulture       string   `json:"primaryCulture"`
	CulturalIdentities   []string `json:"culturalIdentities"`
	PreferredLanguages   []string `json:"preferredLanguages"`
	TraditionalPractices []string `json:"traditionalPractices"`
	SpiritualFramework   string   `json:"spiritualFramework"`
	CulturalStrengths    []string `json:"culturalStrengths"`
	AncestralLineages    []string `json:"ancestralLineages,omitempty"`
	ReferencedTraditions []string `json:"referencedTraditions,omitempty"`
}

// Universal returns the fallback profile used when nothing cultural is
// detectable.
func Universal() Profile {
	return Profile{
		PrimaryCulture:       content.UniversalCulture,
		CulturalIdentities:   []string{content.UniversalCulture},
		PreferredLanguages:   []string{"english"},
		TraditionalPractices: []string{},
		SpiritualFramework:   content.UniversalCulture,
		CulturalStrengths:    []string{"adaptability", "openness"},
	}
}

// IsUniversal reports whether the profile carries no specific culture.
func (p Profile) IsUniversal() bool {
	return p.PrimaryCulture == content.UniversalCulture
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	p.CulturalIdentities = slices.Clone(p.CulturalIdentities)
	p.PreferredLanguages = slices.Clone(p.PreferredLanguages)
	p.TraditionalPractices = slices.Clone(p.TraditionalPractices)
	p.CulturalStrengths = slices.Clone(p.CulturalStrengths)
	p.AncestralLineages = slices.Clone(p.AncestralLineages)
	p.ReferencedTraditions = slices.Clone(p.ReferencedTraditions)
	return p
}

// RequesterCulture describes the profile for sovereignty membership checks.
func (p Profile) RequesterCulture() string {
	parts := append([]string{p.PrimaryCulture}, p.CulturalIdentities...)
	parts = append(parts, p.AncestralLineages...)
	return strings.Join(parts, " ")
}

// Hint carries caller-supplied profile fields that override text detection.
type Hint struct {
	CulturalBackground string   `json:"culturalBackground"`
	Ethnicity          string   `json:"ethnicity"`
	CulturalIdentities []string `json:"culturalIdentities"`
	PreferredLanguages []string `json:"preferredLanguages"`
	AncestralLineages  []string `json:"ancestralLineages"`
}

// DecodeHint parses a JSON hint object. An empty or null document yields a
// nil hint.
func DecodeHint(raw json.RawMessage) (*Hint, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var h Hint
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, fmt.Errorf("decoding profile hint: %w", err)
	}
	return &h, nil
}

func (h *Hint) background() string {
	if h == nil {
		return ""
	}
	if h.CulturalBackground != "" {
		return h.CulturalBackground
	}
	return h.Ethnicity
}

// Normalize lowercases a culture name and joins words with underscores.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// Merge folds a freshly resolved profile into the stored one. A fresh
// profile with nothing detected keeps the stored culture; otherwise the
// fresh profile wins and identities and practices accumulate.
func Merge(stored, fresh Profile) Profile {
	if fresh.IsUniversal() && len(fresh.ReferencedTraditions) == 0 && !stored.IsUniversal() {
		return stored.Clone()
	}
	out := fresh.Clone()
	out.CulturalIdentities = union(out.CulturalIdentities, stored.CulturalIdentities)
	if len(out.CulturalIdentities) > 1 {
		out.CulturalIdentities = slices.DeleteFunc(out.CulturalIdentities, func(s string) bool {
			return s == content.UniversalCulture
		})
	}
	out.TraditionalPractices = union(out.TraditionalPractices, stored.TraditionalPractices)
	out.AncestralLineages = union(out.AncestralLineages, stored.AncestralLineages)
	return out
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

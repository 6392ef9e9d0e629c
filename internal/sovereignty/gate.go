package sovereignty

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
)

// RiskLevel grades the cultural risk of a sharing request.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// DefaultIntendedUse applies when a request names no intended use.
const DefaultIntendedUse = "personal_guidance"

// Request describes content from a tradition about to leave the process.
type Request struct {
	Tradition        string `json:"tradition"`
	RequesterCulture string `json:"requesterCulture"`
	IntendedUse      string `json:"intendedUse"`
	ConsentGiven     bool   `json:"consentGiven"`
}

// Decision is the outcome of a compliance check.
type Decision struct {
	Tradition    string    `json:"tradition"`
	Level        string    `json:"level,omitempty"`
	Permitted    bool      `json:"permitted"`
	RiskLevel    RiskLevel `json:"riskLevel"`
	GuidanceText string    `json:"guidanceText"`
}

// Gate evaluates requests against the tradition sensitivity registry. It has
// no side effects.
type Gate struct {
	src content.Source
}

func NewGate(src content.Source) *Gate {
	return &Gate{src: src}
}

// Evaluate decides whether content may be shared. Consent is checked first:
// without it nothing is permitted.
func (g *Gate) Evaluate(req Request) Decision {
	key := culture.Normalize(req.Tradition)
	tr, known := g.src.Table().Traditions[key]

	d := Decision{Tradition: key, Level: tr.Level, RiskLevel: riskFor(tr.Level, known)}

	switch {
	case !req.ConsentGiven:
		d.GuidanceText = fmt.Sprintf("Consent is required before wisdom from the %s tradition can be shared.", displayName(key))
	case !known:
		d.GuidanceText = fmt.Sprintf("The %s tradition is not in the cultural protocol registry. "+
			"Please ensure proper research and consultation before proceeding.", displayName(key))
	default:
		d.Permitted = protocolsRespected(key, tr, req)
		if d.Permitted {
			d.GuidanceText = joinNonEmpty(tr.Guidance, tr.Reciprocity)
		} else {
			d.GuidanceText = joinNonEmpty(tr.Guidance, educationPath(key))
		}
	}
	return d
}

func protocolsRespected(key string, tr content.Tradition, req Request) bool {
	use := culture.Normalize(req.IntendedUse)
	if use == "" {
		use = DefaultIntendedUse
	}
	switch tr.Level {
	case content.LevelOpen:
		return true
	case content.LevelCommunity:
		return isMember(key, tr, req.RequesterCulture) || slices.Contains(tr.Contexts, use)
	case content.LevelSacred:
		if !isMember(key, tr, req.RequesterCulture) {
			return false
		}
		return len(tr.Contexts) == 0 || slices.Contains(tr.Contexts, use)
	}
	return false
}

// isMember reports whether the requester belongs to the tradition's lineage.
func isMember(key string, tr content.Tradition, requester string) bool {
	r := strings.ToLower(requester)
	if r == "" {
		return false
	}
	if strings.Contains(r, key) || strings.Contains(r, displayName(key)) {
		return true
	}
	for _, kw := range tr.Lineage {
		if kw != "" && strings.Contains(r, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func riskFor(level string, known bool) RiskLevel {
	if !known {
		return RiskHigh
	}
	switch level {
	case content.LevelOpen:
		return RiskLow
	case content.LevelCommunity:
		return RiskModerate
	default:
		return RiskHigh
	}
}

func displayName(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

func educationPath(key string) string {
	return fmt.Sprintf("To access %s wisdom responsibly, consider learning the cultural history, "+
		"connecting with community cultural centers, or studying with authorized teachers.", displayName(key))
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

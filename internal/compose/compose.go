// Package compose assembles the response text from gated sections.
package compose

import (
	"sort"
	"strings"

	"github.com/kalambet/oracle/internal/sovereignty"
)

const defaultMaxTokens = 1200

// Section is one block of candidate response text. Tradition is set when the
// body carries traditional knowledge and must pass the gate.
type Section struct {
	Title     string
	Body      string
	Tradition string
	Priority  float64
}

// Result is the assembled text plus the traditions whose content was
// replaced by guidance.
type Result struct {
	Text     string
	Withheld []string
}

// Composer assembles response text under a token budget.
type Composer struct {
	MaxTokens int
}

// New creates a Composer. If maxTokens <= 0, the default (1200) is used.
func New(maxTokens int) *Composer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Composer{MaxTokens: maxTokens}
}

// Compose gates each section against decisions, then writes sections by
// descending priority while they fit the budget. The highest priority
// section is always written. A denied tradition's sections collapse into a
// single guidance block; sections whose tradition has no decision are
// withheld as well.
func (c *Composer) Compose(sections []Section, decisions map[string]sovereignty.Decision) Result {
	res := Result{Withheld: []string{}}

	gated := make([]Section, 0, len(sections))
	guided := make(map[string]bool)
	for _, s := range sections {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		if s.Tradition != "" {
			d, ok := decisions[s.Tradition]
			if !ok || !d.Permitted {
				if guided[s.Tradition] {
					continue
				}
				guided[s.Tradition] = true
				res.Withheld = append(res.Withheld, s.Tradition)
				s.Title = "Cultural Guidance"
				s.Body = guidance(s.Tradition, d, ok)
			}
		}
		gated = append(gated, s)
	}

	sorted := make([]Section, len(gated))
	copy(sorted, gated)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	var sb strings.Builder
	remaining := c.MaxTokens
	for i, s := range sorted {
		entry := formatSection(s)
		tokens := EstimateTokens(entry)
		if i > 0 && tokens > remaining {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(entry)
		remaining -= tokens
	}
	res.Text = sb.String()
	return res
}

func guidance(tradition string, d sovereignty.Decision, ok bool) string {
	if ok && d.GuidanceText != "" {
		return d.GuidanceText
	}
	return "Content from the " + strings.ReplaceAll(tradition, "_", " ") + " tradition is withheld pending a sovereignty review."
}

func formatSection(s Section) string {
	if s.Title == "" {
		return s.Body
	}
	return "[" + s.Title + "]\n" + s.Body
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

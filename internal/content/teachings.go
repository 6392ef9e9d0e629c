package content

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	minTeachingLen = 24
	maxTeachingLen = 320
)

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]+\s+|\n{2,}`)
	spaceRun       = regexp.MustCompile(`\s+`)
	teachingMarker = regexp.MustCompile(`(?i)\b(teach|wisdom|remember|honou?r|sacred|heal|balance|ancestor|spirit|medicine|path|way of)`)
)

// ExtractTeachings splits text into sentences and keeps the ones that read
// like teachings. Duplicates are dropped; order follows the text.
func ExtractTeachings(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range sentenceSplit.Split(text, -1) {
		s := strings.TrimSpace(spaceRun.ReplaceAllString(raw, " "))
		if len(s) < minTeachingLen || len(s) > maxTeachingLen {
			continue
		}
		if !teachingMarker.MatchString(s) {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// ReadDocument returns the plain text of a .pdf, .txt or .md file.
func ReadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pdfText(data)
	}
	return string(data), nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

package retrieval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

const maxSnippetChars = 700

var whitespaceRuns = regexp.MustCompile(`\s+`)

// RenderContext formats ranked fragments into the numbered,
// citation-annotated block handed to the prompt-assembly layer.
func RenderContext(rows []domain.Fragment) string {
	if len(rows) == 0 {
		return ""
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, "Relevantna pravila in citati:")
	for i, row := range rows {
		lines = append(lines, fmt.Sprintf("%d. %s — %s", i+1, citationLine(row), snippet(row.Text)))
	}
	return strings.Join(lines, "\n")
}

// citationLine joins the available citation fields; absent fields are
// omitted rather than rendered as placeholders, except that a fragment
// with no citation metadata at all is labeled with an unknown source.
func citationLine(row domain.Fragment) string {
	parts := make([]string, 0, 7)
	appendPart := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	appendPart("vir", row.Source)
	appendPart("člen", row.Article)
	appendPart("odstavek", row.Paragraph)
	appendPart("stran", row.Page)
	appendPart("EUP", row.ZoneUnit)
	appendPart("namenska raba", row.LandUse)
	appendPart("leto", row.Year)
	if len(parts) == 0 {
		return "vir: neznano"
	}
	return strings.Join(parts, ", ")
}

// snippet collapses whitespace runs and truncates at the last word
// boundary before the limit, marking the cut with an ellipsis.
func snippet(text string) string {
	normalized := whitespaceRuns.ReplaceAllString(strings.TrimSpace(text), " ")
	runes := []rune(normalized)
	if len(runes) <= maxSnippetChars {
		return normalized
	}
	truncated := string(runes[:maxSnippetChars])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "…"
}

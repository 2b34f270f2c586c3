package retrieval

import (
	"sort"
	"strings"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

const maxQueryChars = 8000

// noDataSentinels are conventional "absent field" markers produced by the
// fact-extraction layer; fields carrying them are filtered, not embedded.
var noDataSentinels = []string{"ni podatka", "no data"}

const defaultQuery = "gradnja objekta prostorski izvedbeni pogoji namenska raba odmiki faktor zazidanosti"

// priorityFields are emitted first to bias the embedding toward the
// load-bearing facts of the submission.
var priorityFields = []struct {
	key   string
	label string
}{
	{"vrsta_gradnje", "Vrsta gradnje"},
	{"glavni_objekt", "Glavni objekt"},
}

var technicalFields = []struct {
	key   string
	label string
}{
	{"faktor_zazidanosti_fz", "Faktor zazidanosti (FZ)"},
	{"faktor_izrabe_fi", "Faktor izrabe (FI)"},
	{"gabariti_etaznost", "Etažnost"},
	{"odmiki_parcel", "Odmiki od parcelnih mej"},
	{"naklon_strehe", "Naklon strehe"},
}

// ComposeQuery builds the text to embed and search from structured key
// facts. Pure and deterministic for identical input: required for test
// reproducibility and for cache hits in the embedding client.
func ComposeQuery(facts *domain.KeyFacts) string {
	if facts == nil {
		return defaultQuery
	}

	lines := make([]string, 0, 8)
	for _, field := range priorityFields {
		if value := usableValue(facts.Fields[field.key]); value != "" {
			lines = append(lines, "- "+field.label+": "+value)
		}
	}
	if codes := dedupSorted(facts.LandUses); len(codes) > 0 {
		lines = append(lines, "- Namenske rabe: "+strings.Join(codes, ", "))
	}
	if codes := dedupSorted(facts.ZoneUnits); len(codes) > 0 {
		lines = append(lines, "- Enote urejanja prostora: "+strings.Join(codes, ", "))
	}
	for _, field := range technicalFields {
		if value := usableValue(facts.Fields[field.key]); value != "" {
			lines = append(lines, "- "+field.label+": "+value)
		}
	}

	if len(lines) == 0 {
		return defaultQuery
	}

	text := "Ključne značilnosti projekta za iskanje relevantnih prostorskih pravil:\n" +
		strings.Join(lines, "\n")
	return capQueryText(text)
}

// ComposeFromText is the alternative free-text input mode, used when a
// caller wants to search with a document excerpt instead of key facts.
func ComposeFromText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return defaultQuery
	}
	return capQueryText(trimmed)
}

func capQueryText(text string) string {
	runes := []rune(text)
	if len(runes) <= maxQueryChars {
		return text
	}
	return string(runes[:maxQueryChars])
}

func usableValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	lowered := strings.ToLower(trimmed)
	for _, sentinel := range noDataSentinels {
		if strings.Contains(lowered, sentinel) {
			return ""
		}
	}
	return trimmed
}

func dedupSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

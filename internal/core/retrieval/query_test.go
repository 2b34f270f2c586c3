package retrieval

import (
	"strings"
	"testing"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

func TestComposeQueryFiltersSentinelValues(t *testing.T) {
	facts := &domain.KeyFacts{
		Fields: map[string]string{
			"vrsta_gradnje":         "novogradnja",
			"faktor_zazidanosti_fz": "Ni podatka v dokumentaciji",
		},
	}

	text := ComposeQuery(facts)
	if !strings.Contains(text, "Vrsta gradnje: novogradnja") {
		t.Fatalf("expected construction type line, got:\n%s", text)
	}
	if strings.Contains(text, "Faktor zazidanosti") {
		t.Fatalf("sentinel coverage-factor value must be filtered, got:\n%s", text)
	}
}

func TestComposeQueryDeduplicatesAndSortsCodes(t *testing.T) {
	facts := &domain.KeyFacts{
		Fields:    map[string]string{"vrsta_gradnje": "novogradnja"},
		ZoneUnits: []string{"LI-08", "AB-01", "LI-08", " "},
		LandUses:  []string{"SSe", "IG", "SSe"},
	}

	text := ComposeQuery(facts)
	if !strings.Contains(text, "Enote urejanja prostora: AB-01, LI-08") {
		t.Fatalf("expected sorted deduplicated zone units, got:\n%s", text)
	}
	if !strings.Contains(text, "Namenske rabe: IG, SSe") {
		t.Fatalf("expected sorted deduplicated land uses, got:\n%s", text)
	}
}

func TestComposeQueryFallsBackWhenEmpty(t *testing.T) {
	empty := ComposeQuery(&domain.KeyFacts{
		Fields: map[string]string{"vrsta_gradnje": "ni podatka"},
	})
	if empty != defaultQuery {
		t.Fatalf("expected default query fallback, got %q", empty)
	}
	if ComposeQuery(nil) != defaultQuery {
		t.Fatalf("nil facts must produce default query")
	}
}

func TestComposeQueryDeterministic(t *testing.T) {
	facts := &domain.KeyFacts{
		Fields: map[string]string{
			"vrsta_gradnje":    "novogradnja",
			"glavni_objekt":    "enostanovanjska stavba",
			"faktor_izrabe_fi": "0.6",
			"odmiki_parcel":    "4 m",
		},
		ZoneUnits: []string{"LI-08 SSe*"},
		LandUses:  []string{"SSe"},
	}

	first := ComposeQuery(facts)
	for i := 0; i < 5; i++ {
		if got := ComposeQuery(facts); got != first {
			t.Fatalf("compose is not deterministic:\n%s\nvs\n%s", first, got)
		}
	}
}

func TestComposeFromTextCapsLength(t *testing.T) {
	long := strings.Repeat("a", maxQueryChars+500)
	got := ComposeFromText(long)
	if len([]rune(got)) != maxQueryChars {
		t.Fatalf("expected capped length %d, got %d", maxQueryChars, len([]rune(got)))
	}
	if ComposeFromText("   ") != defaultQuery {
		t.Fatalf("blank free text must fall back to default query")
	}
}

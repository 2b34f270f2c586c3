package usecase

import (
	"testing"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

func TestDefaultCatalogLoads(t *testing.T) {
	catalog, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog must load: %v", err)
	}
	if len(catalog.Requirements) < 5 {
		t.Fatalf("expected a populated catalog, got %d requirements", len(catalog.Requirements))
	}
}

func TestLoadCatalogRejectsDuplicatesAndEmpty(t *testing.T) {
	if _, err := LoadCatalog([]byte("requirements: []")); err == nil {
		t.Fatalf("empty catalog must be rejected")
	}
	dup := []byte(`
requirements:
  - id: a
    topic: prvi
    text: x
  - id: a
    topic: drugi
    text: y
`)
	if _, err := LoadCatalog(dup); err == nil {
		t.Fatalf("duplicate requirement ids must be rejected")
	}
}

func TestAssembleKeywordTriggers(t *testing.T) {
	catalog, err := LoadCatalog([]byte(`
requirements:
  - id: always
    topic: vedno
    text: velja vedno
  - id: roof
    topic: streha
    text: naklon strehe
    keywords: [streha, naklon]
  - id: unrelated
    topic: industrija
    text: industrijske cone
    keywords: [industrija]
`))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	facts := &domain.KeyFacts{
		Fields:   map[string]string{"naklon_strehe": "40 stopinj"},
		LandUses: []string{"SSe"},
	}
	assembled := catalog.Assemble(facts)
	if len(assembled) != 2 {
		t.Fatalf("expected 2 assembled requirements, got %d", len(assembled))
	}
	if assembled[0].ID != "always" || assembled[1].ID != "roof" {
		t.Fatalf("unexpected assembly order: %s, %s", assembled[0].ID, assembled[1].ID)
	}
}

func TestAssembleNilFactsStillIncludesUnconditional(t *testing.T) {
	catalog, err := LoadCatalog([]byte(`
requirements:
  - id: always
    topic: vedno
    text: velja vedno
  - id: cond
    topic: pogojno
    text: x
    keywords: [novogradnja]
`))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	assembled := catalog.Assemble(nil)
	if len(assembled) != 1 || assembled[0].ID != "always" {
		t.Fatalf("expected only the unconditional requirement, got %v", assembled)
	}
}

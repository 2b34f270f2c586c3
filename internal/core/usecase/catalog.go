package usecase

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the static regulation requirement catalog. Assembly is a
// deterministic catalog walk with keyword triggers, not retrieval: it
// decides WHICH requirements apply, the retrieval engine later finds the
// passages that ground their assessment.
type Catalog struct {
	Requirements []domain.Requirement `yaml:"requirements"`
}

func LoadCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse requirement catalog: %w", err)
	}
	if len(catalog.Requirements) == 0 {
		return nil, fmt.Errorf("requirement catalog is empty")
	}
	seen := make(map[string]struct{}, len(catalog.Requirements))
	for _, req := range catalog.Requirements {
		if req.ID == "" {
			return nil, fmt.Errorf("requirement without id in catalog")
		}
		if _, dup := seen[req.ID]; dup {
			return nil, fmt.Errorf("duplicate requirement id %q", req.ID)
		}
		seen[req.ID] = struct{}{}
	}
	return &catalog, nil
}

func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultCatalogYAML)
}

// Assemble returns the requirements applicable to the given key facts, in
// catalog order. A requirement with no keywords always applies; otherwise
// any keyword appearing among the fact values, zone units or land uses
// triggers it.
func (c *Catalog) Assemble(facts *domain.KeyFacts) []domain.Requirement {
	if c == nil {
		return nil
	}
	haystack := factsHaystack(facts)

	out := make([]domain.Requirement, 0, len(c.Requirements))
	for _, req := range c.Requirements {
		if len(req.Keywords) == 0 || anyKeywordIn(haystack, req.Keywords) {
			out = append(out, req)
		}
	}
	return out
}

func factsHaystack(facts *domain.KeyFacts) string {
	if facts == nil {
		return ""
	}
	var b strings.Builder
	for key, value := range facts.Fields {
		b.WriteString(strings.ToLower(key))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(value))
		b.WriteByte(' ')
	}
	for _, code := range facts.ZoneUnits {
		b.WriteString(strings.ToLower(code))
		b.WriteByte(' ')
	}
	for _, code := range facts.LandUses {
		b.WriteString(strings.ToLower(code))
		b.WriteByte(' ')
	}
	return b.String()
}

func anyKeywordIn(haystack string, keywords []string) bool {
	for _, keyword := range keywords {
		trimmed := strings.ToLower(strings.TrimSpace(keyword))
		if trimmed == "" {
			continue
		}
		if strings.Contains(haystack, trimmed) {
			return true
		}
	}
	return false
}

package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

// fieldCandidates maps each canonical Fragment field to the raw-row keys
// that may carry it, in lookup order. Knowledge sources disagree on
// naming; new source shapes are supported by appending entries here.
var fieldCandidates = map[string][]string{
	"id":        {"id", "fragment_id", "chunk_id"},
	"text":      {"vsebina", "text", "content", "chunk", "besedilo"},
	"score":     {"similarity", "score", "relevance", "rank"},
	"source":    {"vir", "source", "document"},
	"article":   {"clen", "člen", "article"},
	"paragraph": {"odstavek", "paragraph"},
	"page":      {"stran", "page"},
	"zone_unit": {"eup", "zone_unit", "enota_urejanja"},
	"land_use":  {"namenska_raba", "land_use", "raba"},
	"year":      {"leto", "year"},
	"embedding": {"vektor", "embedding", "vector"},
}

// normalizeRow maps an arbitrary raw store row into a canonical Fragment.
// It is total: malformed inner values degrade to zero values, never panic
// or error. A missing identifier is synthesized from a content hash so the
// same underlying fragment collapses to the same identity across backends.
func normalizeRow(raw map[string]any) domain.Fragment {
	fragment := domain.Fragment{
		ID:        pickString(raw, fieldCandidates["id"]),
		Text:      pickString(raw, fieldCandidates["text"]),
		Score:     pickFloat(raw, fieldCandidates["score"]),
		Source:    pickString(raw, fieldCandidates["source"]),
		Article:   pickString(raw, fieldCandidates["article"]),
		Paragraph: pickString(raw, fieldCandidates["paragraph"]),
		Page:      pickString(raw, fieldCandidates["page"]),
		ZoneUnit:  pickString(raw, fieldCandidates["zone_unit"]),
		LandUse:   pickString(raw, fieldCandidates["land_use"]),
		Year:      pickString(raw, fieldCandidates["year"]),
		Embedding: pickVector(raw, fieldCandidates["embedding"]),
		Raw:       raw,
	}
	if fragment.ID == "" {
		fragment.ID = synthesizeID(raw)
	}
	return fragment
}

func pickString(raw map[string]any, keys []string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case fmt.Stringer:
			if trimmed := strings.TrimSpace(v.String()); trimmed != "" {
				return trimmed
			}
		case int, int32, int64:
			return fmt.Sprintf("%d", v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func pickFloat(raw map[string]any, keys []string) float64 {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		if f, ok := coerceFloat(value); ok {
			return f
		}
	}
	return 0
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func pickVector(raw map[string]any, keys []string) []float32 {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		if vec := coerceVector(value); len(vec) > 0 {
			return vec
		}
	}
	return nil
}

func coerceVector(value any) []float32 {
	switch v := value.(type) {
	case []float32:
		return v
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(v))
		for _, item := range v {
			f, ok := coerceFloat(item)
			if !ok {
				return nil
			}
			out = append(out, float32(f))
		}
		return out
	default:
		return nil
	}
}

// synthesizeID hashes the sorted raw-row contents so identical rows map to
// the same identity across independent calls. Non-identity fields like a
// per-query similarity are excluded to keep the hash stable.
func synthesizeID(raw map[string]any) string {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		if isScoreKey(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		fmt.Fprintf(h, "%s=%v;", key, raw[key])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func isScoreKey(key string) bool {
	for _, candidate := range fieldCandidates["score"] {
		if key == candidate {
			return true
		}
	}
	return false
}

package retrieval

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

// DefaultMMRLambda is relevance-dominant with mild diversity pressure.
// Regulatory passages are precision-sensitive; excess diversity risks
// dropping the single dispositive clause.
const DefaultMMRLambda = 0.75

// rerankMMR selects up to topK fragments by greedy Maximal Marginal
// Relevance: each step picks the candidate maximizing
//
//	lambda*relevance - (1-lambda)*max(similarity to already selected)
//
// Similarity is cosine over embeddings when both sides carry one, else
// Jaccard over lowercase alphanumeric token sets, so diversification never
// silently turns off when the store provides no document embeddings.
func rerankMMR(rows []domain.Fragment, topK int, lambda float64) ([]domain.Fragment, error) {
	if topK < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerank",
			fmt.Errorf("top_k %d is negative", topK))
	}
	if lambda < 0 || lambda > 1 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerank",
			fmt.Errorf("lambda %v outside [0,1]", lambda))
	}
	if topK == 0 || len(rows) == 0 {
		return nil, nil
	}
	if topK > len(rows) {
		topK = len(rows)
	}

	pool := make([]domain.Fragment, len(rows))
	copy(pool, rows)
	tokens := make([]map[string]struct{}, len(pool))
	for i := range pool {
		tokens[i] = tokenSet(pool[i].Text)
	}

	selected := make([]domain.Fragment, 0, topK)
	selectedTokens := make([]map[string]struct{}, 0, topK)

	for len(pool) > 0 && len(selected) < topK {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, candidate := range pool {
			penalty := 0.0
			for j, picked := range selected {
				sim := fragmentSimilarity(candidate, picked, tokens[i], selectedTokens[j])
				if sim > penalty {
					penalty = sim
				}
			}
			score := lambda*candidate.Score - (1-lambda)*penalty
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		selected = append(selected, pool[bestIdx])
		selectedTokens = append(selectedTokens, tokens[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
		tokens = append(tokens[:bestIdx], tokens[bestIdx+1:]...)
	}
	return selected, nil
}

func fragmentSimilarity(a, b domain.Fragment, aTokens, bTokens map[string]struct{}) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	return jaccardSimilarity(aTokens, bTokens)
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	intersection := 0
	for token := range smaller {
		if _, ok := larger[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

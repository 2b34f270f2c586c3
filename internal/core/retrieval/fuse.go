package retrieval

import (
	"fmt"
	"sort"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

// fuseCandidates combines vector-similarity and keyword results into one
// deduplicated candidate list with fused relevance scores.
//
// Each list is min-max normalized independently: a cosine range and a text
// rank range are not comparable and must never be normalized jointly. When
// only one backend produced results its normalized score is used directly,
// without the fusion weight. When both produced results, vector rows get
// alpha*norm, keyword rows (1-alpha)*norm, and a row found by both keeps
// the larger of its two weighted contributions rather than their sum.
func fuseCandidates(vectorRows, keywordRows []domain.Fragment, alpha float64) ([]domain.Fragment, error) {
	if alpha < 0 || alpha > 1 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fuse candidates",
			fmt.Errorf("fusion weight %v outside [0,1]", alpha))
	}

	vectorNorm := minMaxNormalize(scoresOf(vectorRows))
	keywordNorm := minMaxNormalize(scoresOf(keywordRows))

	vectorWeight, keywordWeight := 1.0, 1.0
	if len(vectorRows) > 0 && len(keywordRows) > 0 {
		vectorWeight = alpha
		keywordWeight = 1 - alpha
	}

	acc := make(map[string]domain.Fragment, len(vectorRows)+len(keywordRows))
	orderKeys := make([]string, 0, len(vectorRows)+len(keywordRows))

	for i, row := range vectorRows {
		row.Score = vectorWeight * vectorNorm[i]
		if _, seen := acc[row.ID]; !seen {
			orderKeys = append(orderKeys, row.ID)
		}
		acc[row.ID] = row
	}
	for i, row := range keywordRows {
		score := keywordWeight * keywordNorm[i]
		if existing, seen := acc[row.ID]; seen {
			merged := preferRicherFragment(existing, row)
			if score > existing.Score {
				merged.Score = score
			} else {
				merged.Score = existing.Score
			}
			acc[row.ID] = merged
			continue
		}
		row.Score = score
		acc[row.ID] = row
		orderKeys = append(orderKeys, row.ID)
	}

	out := make([]domain.Fragment, 0, len(acc))
	for _, key := range orderKeys {
		out = append(out, acc[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func scoresOf(rows []domain.Fragment) []float64 {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = row.Score
	}
	return scores
}

// minMaxNormalize scales scores into [0,1] within one list. A constant
// list, including the single-row case, normalizes to all zeros: no
// discriminative signal means no preference among these rows.
func minMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}
	span := maxScore - minScore
	if span <= 0 {
		return out
	}
	for i, s := range scores {
		out[i] = (s - minScore) / span
	}
	return out
}

// preferRicherFragment keeps the more complete metadata when the same
// fragment arrives from both backends.
func preferRicherFragment(current, candidate domain.Fragment) domain.Fragment {
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Source == "" && candidate.Source != "" {
		current.Source = candidate.Source
	}
	if current.Article == "" && candidate.Article != "" {
		current.Article = candidate.Article
	}
	if current.Paragraph == "" && candidate.Paragraph != "" {
		current.Paragraph = candidate.Paragraph
	}
	if current.Page == "" && candidate.Page != "" {
		current.Page = candidate.Page
	}
	if current.ZoneUnit == "" && candidate.ZoneUnit != "" {
		current.ZoneUnit = candidate.ZoneUnit
	}
	if current.LandUse == "" && candidate.LandUse != "" {
		current.LandUse = candidate.LandUse
	}
	if current.Year == "" && candidate.Year != "" {
		current.Year = candidate.Year
	}
	if len(current.Embedding) == 0 && len(candidate.Embedding) > 0 {
		current.Embedding = candidate.Embedding
	}
	return current
}

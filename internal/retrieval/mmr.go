package retrieval

import (
	"math"

	"github.com/Kocoro-lab/Shannon/go/research/internal/vectordb"
)

func cosineSim(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		da, db := float64(a[i]), float64(b[i])
		dot += da * db
		na += da * da
		nb += db * db
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// mmrReorder greedily orders hits by maximal marginal relevance. lambda 1 is
// pure relevance, 0 pure diversity.
func mmrReorder(query []float32, hits []vectordb.DocumentHit, lambda float64) []vectordb.DocumentHit {
	lambda = math.Max(0, math.Min(1, lambda))
	n := len(hits)
	if n <= 1 {
		return hits
	}
	rel := make([]float64, n)
	for i := range hits {
		rel[i] = cosineSim(query, hits[i].Vector)
	}

	selected := make([]int, 0, n)
	taken := make([]bool, n)
	for len(selected) < n {
		best, bestScore := -1, math.Inf(-1)
		for i := 0; i < n; i++ {
			if taken[i] {
				continue
			}
			redundancy := 0.0
			for _, s := range selected {
				redundancy = math.Max(redundancy, cosineSim(hits[i].Vector, hits[s].Vector))
			}
			if score := lambda*rel[i] - (1-lambda)*redundancy; score > bestScore {
				best, bestScore = i, score
			}
		}
		selected = append(selected, best)
		taken[best] = true
	}

	out := make([]vectordb.DocumentHit, 0, n)
	for _, idx := range selected {
		out = append(out, hits[idx])
	}
	return out
}

package vectorcache

import (
	"math"
)

// QualityMetrics holds retrieval quality measurements for one evaluated
// query, used offline to track ranking effectiveness and catch regressions.
type QualityMetrics struct {
	// NDCG is normalized discounted cumulative gain at K, in [0, 1];
	// 1 means the ranking matches the ideal ordering.
	NDCG float64

	// MRR is the reciprocal rank of the first relevant result, in [0, 1].
	MRR float64

	// PrecisionAtK is the fraction of relevant results in the top K.
	PrecisionAtK float64

	// K is the cutoff the metrics were computed at.
	K int
}

// CalculateNDCG compares the result ordering against an ideal ranking of
// entry ids (most relevant first). Relevance decays linearly down the ideal
// list; positions are discounted by log2. Returns 0 for empty inputs or
// k <= 0.
func CalculateNDCG(results []SearchResult, idealRanking []string, k int) float64 {
	if len(results) == 0 || k <= 0 || len(idealRanking) == 0 {
		return 0
	}
	if k > len(results) {
		k = len(results)
	}

	n := len(idealRanking)
	relevance := make(map[string]float64, n)
	for i, id := range idealRanking {
		relevance[id] = float64(n - i)
	}

	dcg := 0.0
	for i := 0; i < k; i++ {
		// log2(i+2) so the first position divides by 1.
		dcg += relevance[results[i].Entry.ID] / math.Log2(float64(i+2))
	}

	idealK := k
	if idealK > n {
		idealK = n
	}
	idcg := 0.0
	for i := 0; i < idealK; i++ {
		idcg += float64(n-i) / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// CalculateMRR returns 1/position of the first relevant result (1-indexed),
// or 0 when none of the relevant ids appear.
func CalculateMRR(results []SearchResult, relevantIDs []string) float64 {
	if len(results) == 0 || len(relevantIDs) == 0 {
		return 0
	}
	relevant := make(map[string]bool, len(relevantIDs))
	for _, id := range relevantIDs {
		relevant[id] = true
	}
	for i, r := range results {
		if relevant[r.Entry.ID] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// CalculatePrecisionAtK returns the fraction of the top K results whose ids
// are in the relevant set. Returns 0 for empty inputs or k <= 0.
func CalculatePrecisionAtK(results []SearchResult, relevantIDs []string, k int) float64 {
	if len(results) == 0 || k <= 0 || len(relevantIDs) == 0 {
		return 0
	}
	if k > len(results) {
		k = len(results)
	}
	relevant := make(map[string]bool, len(relevantIDs))
	for _, id := range relevantIDs {
		relevant[id] = true
	}
	count := 0
	for i := 0; i < k; i++ {
		if relevant[results[i].Entry.ID] {
			count++
		}
	}
	return float64(count) / float64(k)
}

// CalculateAllMetrics computes all three metrics for one evaluated query.
func CalculateAllMetrics(results []SearchResult, idealRanking, relevantIDs []string, k int) QualityMetrics {
	return QualityMetrics{
		NDCG:         CalculateNDCG(results, idealRanking, k),
		MRR:          CalculateMRR(results, relevantIDs),
		PrecisionAtK: CalculatePrecisionAtK(results, relevantIDs, k),
		K:            k,
	}
}

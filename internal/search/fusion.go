package search

import (
	"math"
	"time"
)

// recencyHalfLife controls how fast the recency signal decays. A document
// modified now scores 1.0; one modified a half-life ago scores 0.5.
const recencyHalfLife = 90 * 24 * time.Hour

// Fuse combines similarity, a normalized lexical score, and a recency
// signal into a final score. The combination is a weighted sum, monotonic
// in each signal, clamped to [0,1]. NaN or infinite inputs are treated as
// the neutral value 0, so fusion can never emit NaN.
func Fuse(w Weights, similarity, lexical, recency float64) float64 {
	sim := sanitize(similarity)
	lex := sanitize(lexical)
	rec := sanitize(recency)

	return clamp01(w.Similarity*sim + w.Lexical*lex + w.Recency*rec)
}

// sanitize maps undefined or out-of-range signals to their neutral value.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// recencyScore maps a document modification time to [0,1] with exponential
// decay. A zero time means the signal is unavailable and scores 0.
func recencyScore(modTime time.Time, now time.Time) float64 {
	if modTime.IsZero() {
		return 0
	}
	age := now.Sub(modTime)
	if age <= 0 {
		return 1
	}
	return clamp01(math.Exp2(-float64(age) / float64(recencyHalfLife)))
}

// normalizeLexical rescales raw BM25 scores into [0,1] by dividing by the
// maximum score in the result set. An empty set or a non-positive maximum
// yields all zeros.
func normalizeLexical(scores map[string]float64) map[string]float64 {
	var maxScore float64
	for _, s := range scores {
		if !math.IsNaN(s) && s > maxScore {
			maxScore = s
		}
	}
	if maxScore <= 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(scores))
	for id, s := range scores {
		out[id] = sanitize(s / maxScore)
	}
	return out
}

package patterns

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// posteriorMean computes the Beta-Binomial posterior mean for a pattern
// value observed in k of N notes, given its type's (alpha, beta) prior
// (§4.7):
//
//	posterior_mean = (alpha + k) / (alpha + beta + N + log2(max(N, 2)))
//
// distuv.Beta{Alpha, Beta}.Mean() is Alpha/(Alpha+Beta); folding the
// log2 dampening term and the (N-k) "failures" count into Beta reproduces
// the formula above exactly while still routing the math through gonum's
// distribution type rather than hand-rolled arithmetic.
func posteriorMean(alpha, beta float64, k, n int) float64 {
	if n < 0 {
		n = 0
	}
	penalty := math.Log2(math.Max(float64(n), 2))
	b := distuv.Beta{
		Alpha: alpha + float64(k),
		Beta:  beta + float64(n-k) + penalty,
	}
	return b.Mean()
}

// recencyBonus returns the multiplier (capped at maxBonus) applied when
// more than half of the supporting notes were created within the recency
// window (§4.7).
func recencyBonus(recentCount, totalCount int, maxBonus float64) float64 {
	if totalCount == 0 {
		return 1.0
	}
	if float64(recentCount)/float64(totalCount) > 0.5 {
		return maxBonus
	}
	return 1.0
}

// logNormalize rescales raw posteriors within one pattern type so a single
// overwhelming value doesn't push all others to near-zero confidence
// (§4.7: "log-normalized... within a pattern type"). Each score is mapped
// through log1p then rescaled so the rank order is preserved and the
// group's top value keeps its original (un-normalized) score.
func logNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	logged := make([]float64, len(scores))
	maxLogged := 0.0
	for i, s := range scores {
		logged[i] = math.Log1p(s * 10) // scale so small posteriors still separate after log1p
		if logged[i] > maxLogged {
			maxLogged = logged[i]
		}
	}
	out := make([]float64, len(scores))
	if maxLogged == 0 {
		return out
	}
	for i, l := range logged {
		out[i] = (l / maxLogged) * scores[argmax(scores)]
	}
	return out
}

func argmax(scores []float64) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

// capConfidence enforces the §4.7 ceiling on freshly-computed confidence.
func capConfidence(c, max float64) float64 {
	if c > max {
		return max
	}
	if c < 0 {
		return 0
	}
	return c
}

package metric

import (
	"math"
	"strings"
)

const (
	maxOrder = 4
	// smoothingK is the constant of the length-aware smoothing below.
	smoothingK = 5.0
)

// Tokenize splits on runs of whitespace.
func Tokenize(s string) []string { return strings.Fields(s) }

// SentenceBLEU scores candidate against a single reference with uniform
// weights over 1..4-grams. Zero n-gram counts are smoothed in proportion to
// the candidate length, so partial overlap never collapses to zero. A
// candidate sharing no unigram with the reference scores 0. A single-token
// candidate has no higher-order n-grams to smooth, so only its nonzero
// precisions are combined.
func SentenceBLEU(reference, candidate []string) float64 {
	var num, den [maxOrder]float64
	for n := 1; n <= maxOrder; n++ {
		num[n-1], den[n-1] = modifiedPrecision(reference, candidate, n)
	}
	if num[0] == 0 {
		return 0
	}

	c := len(candidate)
	var sum float64
	inc := 1
	for i := range num {
		var p float64
		switch {
		case num[i] > 0:
			p = num[i] / den[i]
		case c > 1:
			p = 1 / (math.Pow(2, float64(inc)) * smoothingK / math.Log(float64(c))) / den[i]
			inc++
		default:
			continue
		}
		sum += math.Log(p) / maxOrder
	}
	return brevityPenalty(len(reference), c) * math.Exp(sum)
}

// modifiedPrecision returns the clipped n-gram matches and the candidate
// n-gram count, floored at 1.
func modifiedPrecision(reference, candidate []string, n int) (float64, float64) {
	cand := ngrams(candidate, n)
	ref := ngrams(reference, n)
	var matched, total int
	for g, count := range cand {
		total += count
		matched += min(count, ref[g])
	}
	return float64(matched), float64(max(1, total))
}

func ngrams(tokens []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return out
}

func brevityPenalty(refLen, candLen int) float64 {
	switch {
	case candLen > refLen:
		return 1
	case candLen == 0:
		return 0
	}
	return math.Exp(1 - float64(refLen)/float64(candLen))
}

// Package similarity scores how alike two model fingerprints are.
// All functions are pure; scores are in [0, 1].
package similarity

import (
	"math"
	"strings"
)

// Composite weights. These are part of the external contract; changing
// them changes which fingerprints count as matches across the ledger.
const (
	jaccardWeight     = 0.30
	cosineWeight      = 0.40
	levenshteinWeight = 0.30
)

// Composite blends three independent similarity measures over the two
// fingerprints: character-set overlap, character-frequency cosine, and
// normalized edit distance. Identical inputs short-circuit to 1.0
// before normalization.
func Composite(a, b string) float64 {
	if a == b {
		return 1.0
	}

	na := normalize(a)
	nb := normalize(b)

	score := jaccardWeight*Jaccard(na, nb) +
		cosineWeight*Cosine(na, nb) +
		levenshteinWeight*LevenshteinSim(na, nb)

	// Guard against float drift at the top of the range.
	if score > 1.0 {
		return 1.0
	}
	if score < 0 || math.IsNaN(score) {
		return 0
	}
	return score
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Jaccard computes set-overlap similarity over the two strings'
// character sets: |intersection| / |union|. Returns 0 when both are
// empty.
func Jaccard(a, b string) float64 {
	setA := charSet(a)
	setB := charSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for r := range setA {
		if setB[r] {
			intersection++
		}
	}

	union := len(setA)
	for r := range setB {
		if !setA[r] {
			union++
		}
	}

	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool, len(s))
	for _, r := range s {
		set[r] = true
	}
	return set
}

// Cosine computes cosine similarity of the two strings'
// character-frequency vectors over the union of characters present in
// either. Returns 0 when either vector has zero magnitude.
func Cosine(a, b string) float64 {
	freqA := charFreq(a)
	freqB := charFreq(b)

	var dot, magA, magB float64

	for r, ca := range freqA {
		fa := float64(ca)
		magA += fa * fa
		if cb, ok := freqB[r]; ok {
			dot += fa * float64(cb)
		}
	}
	for _, cb := range freqB {
		fb := float64(cb)
		magB += fb * fb
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func charFreq(s string) map[rune]int {
	freq := make(map[rune]int, len(s))
	for _, r := range s {
		freq[r]++
	}
	return freq
}

// LevenshteinSim converts classic edit distance into a similarity:
// 1 - d/max(len(a), len(b)). Returns 0 when both strings are empty.
func LevenshteinSim(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)

	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}

	d := levenshtein(ra, rb)
	return 1.0 - float64(d)/float64(longest)
}

// levenshtein computes edit distance with a two-row DP table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

package dedup

import (
	"hash/fnv"
	"strings"
)

// shingle tokenizes text into lowercase words and returns the set of
// k-token shingles, each reduced to a 64-bit FNV hash. Hashing the
// shingles keeps the sets cheap to store and compare; collisions only
// nudge the similarity estimate, they cannot flip a non-match into an
// exact one.
func shingle(text string, k int) map[uint64]struct{} {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil
	}
	// Short texts get a single shingle of everything; dropping them
	// entirely would exempt tiny pages from fuzzy dedup.
	if len(tokens) < k {
		k = len(tokens)
	}

	set := make(map[uint64]struct{}, len(tokens)-k+1)
	for i := 0; i+k <= len(tokens); i++ {
		h := fnv.New64a()
		for j := i; j < i+k; j++ {
			_, _ = h.Write([]byte(tokens[j]))
			_, _ = h.Write([]byte{0})
		}
		set[h.Sum64()] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b| for two shingle sets.
// Returns 0 when either set is empty.
func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	intersection := 0
	for h := range small {
		if _, ok := large[h]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

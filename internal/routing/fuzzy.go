package routing

import "strings"

// FuzzyRatio computes a Ratcliff/Obershelp-style similarity ratio between a
// and b: twice the total length of matching, non-overlapping substrings
// (found recursively around the longest common substring), divided by the
// combined length of both strings. Returns a value in [0,1]; identical
// strings score 1, disjoint strings score 0.
//
// No example repo in this codebase's dependency set implements this exact
// algorithm (the teacher's phonetic package uses Double Metaphone and
// Jaro-Winkler, a different family entirely), so it is hand-rolled here —
// the closed-form recursive definition is short enough that a dependency
// would add more than it saves.
func FuzzyRatio(a, b string) float64 {
	if a == b {
		if a == "" {
			return 1
		}
		return 1
	}
	ar, br := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	if len(ar) == 0 && len(br) == 0 {
		return 1
	}
	matches := matchingLength(ar, br)
	return 2 * float64(matches) / float64(len(ar)+len(br))
}

// matchingLength returns the total length of matching blocks between a and b
// per the Ratcliff/Obershelp recursive algorithm: find the longest common
// substring, then recurse on the prefix and suffix split around it.
func matchingLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	aStart, bStart, length := longestCommonSubstring(a, b)
	if length == 0 {
		return 0
	}
	total := length
	total += matchingLength(a[:aStart], b[:bStart])
	total += matchingLength(a[aStart+length:], b[bStart+length:])
	return total
}

// longestCommonSubstring returns the start index in a, start index in b, and
// length of the longest common contiguous run between a and b. Ties prefer
// the earliest match in a, then in b, matching the reference algorithm's
// left-to-right scan order.
func longestCommonSubstring(a, b []rune) (aStart, bStart, length int) {
	bIndex := make(map[rune][]int, len(b))
	for j, r := range b {
		bIndex[r] = append(bIndex[r], j)
	}

	// prevLen[j] = length of the match ending at b[j-1] for the previous row.
	prevLen := make([]int, len(b)+1)
	bestLen := 0
	bestA, bestB := 0, 0

	for i, ra := range a {
		curLen := make([]int, len(b)+1)
		for _, j := range bIndex[ra] {
			l := prevLen[j] + 1
			curLen[j+1] = l
			if l > bestLen {
				bestLen = l
				bestA = i - l + 1
				bestB = j - l + 1
			}
		}
		prevLen = curLen
	}

	return bestA, bestB, bestLen
}

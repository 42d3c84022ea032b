package normalize

import (
	"sort"
	"strings"
)

// Similarity scores two strings in 0..100 using a token-sort edit-distance
// ratio: both inputs are folded, split into whitespace tokens, sorted and
// rejoined before the normalized Levenshtein ratio is computed. The result
// is deterministic and symmetric.
func Similarity(a, b string) int {
	sa := tokenSort(Fold(a))
	sb := tokenSort(Fold(b))
	if sa == "" && sb == "" {
		return 0
	}
	if sa == sb {
		return 100
	}
	longest := len(sa)
	if len(sb) > longest {
		longest = len(sb)
	}
	dist := levenshtein(sa, sb)
	ratio := float64(longest-dist) / float64(longest)
	return int(ratio*100 + 0.5)
}

func tokenSort(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// levenshtein computes edit distance over runes with a two-row buffer.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

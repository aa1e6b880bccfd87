// Package similarity provides the normalized string similarity primitive
// shared by section level and field level matching.
package similarity

import "strings"

// Score returns 1 - levenshtein(a, b)/max(len(a), len(b)) computed over
// lower-cased runes. Two empty strings score 1.0, the result is symmetric
// and always falls in [0, 1].
func Score(a, b string) float64 {
	left := []rune(strings.ToLower(a))
	right := []rune(strings.ToLower(b))
	maxLen := len(left)
	if len(right) > maxLen {
		maxLen = len(right)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(distance(left, right))/float64(maxLen)
}

func distance(left, right []rune) int {
	prev := make([]int, len(right)+1)
	curr := make([]int, len(right)+1)
	for j := 0; j <= len(right); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(left); i++ {
		curr[0] = i
		for j := 1; j <= len(right); j++ {
			cost := 1
			if left[i-1] == right[j-1] {
				cost = 0
			}
			curr[j] = min(min(prev[j]+1, curr[j-1]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(right)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

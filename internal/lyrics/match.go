package lyrics

import (
	"math"
	"sort"
	"strings"
)

// Similarity returns a normalized 0..1 similarity between two strings.
// Comparison is case-insensitive and trimmed. Containment scores above pure
// edit distance so that "Song (Remix)" vs "Song" ranks higher than unrelated
// titles of similar length.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	shorter, longer := ra, rb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(string(longer), string(shorter)) {
		return 0.7 + 0.3*float64(len(shorter))/float64(len(longer))
	}

	maxLen := len(longer)
	s := 1 - float64(levenshtein(ra, rb))/float64(maxLen)
	if s < 0 {
		return 0
	}
	return s
}

// levenshtein computes the edit distance over code points with a two-row
// table.
func levenshtein(a, b []rune) int {
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
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
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

// durationBonusWindow is the |diff| in seconds under which two durations
// corroborate a match.
const durationBonusWindow = 10.0

// Relevance scores a search result against the query: title similarity
// weighted 0.6, artist 0.4, plus a duration bonus tapering linearly from
// 0.10 at an exact match to zero at a 10s difference. The bonus
// disambiguates same-titled alternate versions (live, radio edit). Capped
// at 1.
func Relevance(queryTitle, queryArtist, resultTitle, resultArtist string, queryDuration, resultDuration float64) float64 {
	score := Similarity(queryTitle, resultTitle)*0.6 + Similarity(queryArtist, resultArtist)*0.4

	if queryDuration > 0 && resultDuration > 0 {
		diff := math.Abs(queryDuration - resultDuration)
		if diff < durationBonusWindow {
			score += 0.10 * (1 - diff/durationBonusWindow)
		}
	}

	if score > 1 {
		return 1
	}
	return score
}

// Rank orders candidates by descending score. The sort is stable: ties keep
// first-seen order.
func Rank(candidates []Candidate) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

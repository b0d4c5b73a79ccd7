package registry

import (
	"sort"
	"strings"
)

const (
	maxSuggestions        = 3
	maxSuggestionDistance = 5
)

// Suggest returns up to three registered rule ids closest to id.
func (r *Registry) Suggest(id string) []string {
	return ClosestMatches(id, r.ruleIDs)
}

// SuggestObjective returns up to three declared objectives closest to id.
func (r *Registry) SuggestObjective(id string) []string {
	return ClosestMatches(id, r.ObjectiveIDs())
}

// ClosestMatches ranks candidates by case-insensitive edit distance to input.
func ClosestMatches(input string, candidates []string) []string {
	type scored struct {
		id   string
		dist int
	}
	needle := strings.ToLower(input)
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		d := levenshtein(needle, strings.ToLower(c))
		if d <= maxSuggestionDistance {
			ranked = append(ranked, scored{id: c, dist: d})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].dist != ranked[j].dist {
			return ranked[i].dist < ranked[j].dist
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > maxSuggestions {
		ranked = ranked[:maxSuggestions]
	}
	out := make([]string, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.id)
	}
	return out
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

package game

import "sort"

// Score is a per-category point breakdown.
type Score map[string]int

// Add returns the category-wise sum of s and o.
func (s Score) Add(o Score) Score {
	out := make(Score, len(s)+len(o))
	for k, v := range s {
		out[k] += v
	}
	for k, v := range o {
		out[k] += v
	}
	return out
}

func (s Score) Total() int {
	total := 0
	for _, v := range s {
		total += v
	}
	return total
}

func (s Score) Categories() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Breakdown is implemented by states that can itemize a player's score.
type Breakdown interface {
	ScoreBreakdown(player Player) Score
}

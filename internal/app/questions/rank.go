package questions

import "sort"

// Rank keeps the questions whose effective state equals tab and orders
// them for display. Asked: likes descending, then createdAt seconds
// ascending. Answered and private: createdAt seconds descending.
// The input slice is not modified.
func Rank(list []Question, tab Tab) []Question {
	out := make([]Question, 0, len(list))
	for _, q := range list {
		if q.EffectiveState() == tab {
			out = append(out, q)
		}
	}
	if tab == StateAsked {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Likes != out[j].Likes {
				return out[i].Likes > out[j].Likes
			}
			return out[i].CreatedAt.Seconds < out[j].CreatedAt.Seconds
		})
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Seconds > out[j].CreatedAt.Seconds
	})
	return out
}

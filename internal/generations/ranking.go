package generations

// RankedCandidate is one entry of a generation's ranked output.
type RankedCandidate struct {
	Index int     `json:"index"`          // position in the generation's image list
	Rank  int     `json:"rank"`           // 1 is best
	Score float64 `json:"score"`          // higher is better, breaks rank ties
	Notes string  `json:"notes,omitempty"`
}

// Ranking is the provider's (or fallback ranker's) ordering of a
// generation's candidate images.
type Ranking struct {
	Winners []int             `json:"winners,omitempty"` // explicit winner indices, possibly 1-based
	Ranked  []RankedCandidate `json:"ranked,omitempty"`
	Summary string            `json:"summary,omitempty"`
}

// PickWinner selects the winning candidate index among n images.
//
// Preference order: the first entry of the explicit winners list,
// normalized to handle both 0-based and 1-based indices; then the
// lowest-rank ranked entry, breaking rank ties by highest score; then
// index 0.
func PickWinner(n int, r *Ranking) int {
	if n <= 0 {
		return 0
	}
	if r != nil && len(r.Winners) > 0 {
		w := r.Winners[0]
		if w >= 0 && w < n {
			return w
		}
		if w-1 >= 0 && w-1 < n {
			return w - 1
		}
	}
	if r != nil {
		var best *RankedCandidate
		for i := range r.Ranked {
			c := &r.Ranked[i]
			if c.Index < 0 || c.Index >= n {
				continue
			}
			if best == nil || c.Rank < best.Rank || (c.Rank == best.Rank && c.Score > best.Score) {
				best = c
			}
		}
		if best != nil {
			return best.Index
		}
	}
	return 0
}

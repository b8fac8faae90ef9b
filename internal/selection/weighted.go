package selection

import "math/rand/v2"

// Weighted picks a candidate with probability proportional to its weight.
// Zero-weight candidates are only returned when nothing else is left.
type Weighted struct{}

func NewWeighted() *Weighted {
	return &Weighted{}
}

func (*Weighted) Name() string {
	return NameWeighted
}

func (*Weighted) Choose(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	total := 0
	for _, candidate := range candidates {
		total += max(candidate.Weight(), 0)
	}
	if total == 0 {
		return candidates[0], true
	}

	target := rand.IntN(total)
	cumulative := 0
	for _, candidate := range candidates {
		weight := max(candidate.Weight(), 0)
		if weight == 0 {
			continue
		}
		cumulative += weight
		if target < cumulative {
			return candidate, true
		}
	}

	return candidates[len(candidates)-1], true
}

package selection

import "math/rand/v2"

// Utilization picks uniformly among the candidates with the lowest
// queued/capacity ratio. A candidate without a stated capacity counts as
// fully busy.
type Utilization struct{}

func NewUtilization() *Utilization {
	return &Utilization{}
}

func (*Utilization) Name() string {
	return NameUtilization
}

func (*Utilization) Choose(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	lowest := make([]Candidate, 0, len(candidates))
	best := 0.0
	for _, candidate := range candidates {
		value := utilization(candidate)
		switch {
		case len(lowest) == 0 || value < best:
			best = value
			lowest = append(lowest[:0], candidate)
		case value == best:
			lowest = append(lowest, candidate)
		}
	}

	return lowest[rand.IntN(len(lowest))], true
}

func utilization(candidate Candidate) float64 {
	queued, capacity := candidate.Load()
	if capacity <= 0 {
		return 1.0
	}
	return float64(queued) / float64(capacity)
}

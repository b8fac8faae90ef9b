package selection

import "sync/atomic"

// RoundRobin returns candidates[n mod len] for a shared, monotonically
// increasing n.
type RoundRobin struct {
	next atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (*RoundRobin) Name() string {
	return NameRoundRobin
}

func (r *RoundRobin) Choose(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	n := r.next.Add(1) - 1
	return candidates[n%uint64(len(candidates))], true
}

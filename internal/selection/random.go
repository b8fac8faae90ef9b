package selection

import "math/rand/v2"

type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (*Random) Name() string {
	return NameRandom
}

func (*Random) Choose(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[rand.IntN(len(candidates))], true
}

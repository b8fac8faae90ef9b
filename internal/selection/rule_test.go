package selection

import (
	"sync"
	"testing"

	"github.com/bnema/drawq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCandidate struct {
	name     string
	queued   int
	capacity int
	weight   int
}

func (c *fakeCandidate) Load() (int, int) { return c.queued, c.capacity }
func (c *fakeCandidate) Weight() int      { return c.weight }

func chosen(t *testing.T, rule Rule, candidates []Candidate) string {
	t.Helper()
	picked, ok := rule.Choose(candidates)
	require.True(t, ok)
	return picked.(*fakeCandidate).name
}

func TestNewResolvesRulesByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{name: "", want: NameUtilization},
		{name: "utilization", want: NameUtilization},
		{name: "ROUND_ROBIN", want: NameRoundRobin},
		{name: "random", want: NameRandom},
		{name: " weighted ", want: NameWeighted},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			rule, err := New(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.Name())
		})
	}

	_, err := New("fastest")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRulesReturnNoneForEmptyInput(t *testing.T) {
	for _, rule := range []Rule{NewUtilization(), NewRoundRobin(), NewRandom(), NewWeighted()} {
		picked, ok := rule.Choose(nil)
		assert.False(t, ok, rule.Name())
		assert.Nil(t, picked, rule.Name())
	}
}

func TestUtilizationPicksLeastLoaded(t *testing.T) {
	a := &fakeCandidate{name: "A", queued: 3, capacity: 5}
	b := &fakeCandidate{name: "B", queued: 0, capacity: 5}

	rule := NewUtilization()
	for range 100 {
		assert.Equal(t, "B", chosen(t, rule, []Candidate{a, b}))
	}
}

func TestUtilizationTreatsMissingCapacityAsBusy(t *testing.T) {
	unbounded := &fakeCandidate{name: "unbounded", queued: 0, capacity: 0}
	nearlyFull := &fakeCandidate{name: "nearly-full", queued: 9, capacity: 10}

	assert.Equal(t, "nearly-full", chosen(t, NewUtilization(), []Candidate{unbounded, nearlyFull}))
}

func TestUtilizationTieIsUniform(t *testing.T) {
	candidates := []Candidate{
		&fakeCandidate{name: "A", queued: 1, capacity: 4},
		&fakeCandidate{name: "B", queued: 2, capacity: 8},
		&fakeCandidate{name: "C", queued: 3, capacity: 12},
		&fakeCandidate{name: "D", queued: 3, capacity: 4},
	}

	const trials = 10_000
	counts := map[string]int{}
	rule := NewUtilization()
	for range trials {
		counts[chosen(t, rule, candidates)]++
	}

	expected := float64(trials) / 3
	chiSquare := 0.0
	for _, name := range []string{"A", "B", "C"} {
		diff := float64(counts[name]) - expected
		chiSquare += diff * diff / expected
	}
	// Critical value for 2 degrees of freedom at p = 0.001.
	assert.Less(t, chiSquare, 13.816, "counts: %v", counts)
	assert.Zero(t, counts["D"])
}

func TestRoundRobinLaw(t *testing.T) {
	candidates := []Candidate{
		&fakeCandidate{name: "0"},
		&fakeCandidate{name: "1"},
		&fakeCandidate{name: "2"},
	}
	rule := NewRoundRobin()

	first := chosen(t, rule, candidates)
	start := int(first[0] - '0')
	for i := 1; i < 10; i++ {
		want := (start + i) % len(candidates)
		assert.Equal(t, string(rune('0'+want)), chosen(t, rule, candidates))
	}
}

func TestRoundRobinIsSafeUnderConcurrentCallers(t *testing.T) {
	candidates := []Candidate{&fakeCandidate{name: "a"}, &fakeCandidate{name: "b"}}
	rule := NewRoundRobin()

	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				picked, _ := rule.Choose(candidates)
				mu.Lock()
				counts[picked.(*fakeCandidate).name]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, counts["a"])
	assert.Equal(t, 400, counts["b"])
}

func TestRandomOnlyReturnsMembers(t *testing.T) {
	candidates := []Candidate{&fakeCandidate{name: "a"}, &fakeCandidate{name: "b"}}
	seen := map[string]bool{}
	for range 200 {
		seen[chosen(t, NewRandom(), candidates)] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}

func TestWeightedSkipsZeroWeight(t *testing.T) {
	candidates := []Candidate{
		&fakeCandidate{name: "zero", weight: 0},
		&fakeCandidate{name: "heavy", weight: 3},
		&fakeCandidate{name: "light", weight: 1},
	}

	counts := map[string]int{}
	rule := NewWeighted()
	for range 4_000 {
		counts[chosen(t, rule, candidates)]++
	}

	assert.Zero(t, counts["zero"])
	assert.InDelta(t, 3.0, float64(counts["heavy"])/float64(counts["light"]), 0.6)
}

func TestWeightedFallsBackToSoleZeroWeightCandidate(t *testing.T) {
	sole := &fakeCandidate{name: "sole", weight: 0}

	assert.Equal(t, "sole", chosen(t, NewWeighted(), []Candidate{sole}))
}

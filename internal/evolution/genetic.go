package evolution

import (
	"math/rand"
	"sort"
)

// Params is a plain bag of numeric agent parameters. The operators below are
// pure: they copy their inputs, consume randomness only from the rng they are
// handed, and never touch registry state.
type Params map[string]float64

// mutationSpan is the relative width of a single mutation: values move by up
// to ±10% of themselves, floored at zero.
const mutationSpan = 0.1

// Rank returns members sorted by fitness descending, ties broken by id
// ascending so equal-fitness orderings are reproducible. The input is not
// modified.
func Rank(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Fitness != out[j].Fitness {
			return out[i].Fitness > out[j].Fitness
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TournamentSelect picks count parent ids from the members. Each round samples
// min(tournamentSize, len) distinct members and takes the fittest; the same
// member may win multiple rounds.
func TournamentSelect(rng *rand.Rand, members []Member, count, tournamentSize int) []string {
	if len(members) == 0 || count <= 0 {
		return nil
	}
	if tournamentSize < 1 {
		tournamentSize = 1
	}
	k := tournamentSize
	if k > len(members) {
		k = len(members)
	}

	parents := make([]string, 0, count)
	for round := 0; round < count; round++ {
		idx := rng.Perm(len(members))[:k]

		best := members[idx[0]]
		for _, i := range idx[1:] {
			m := members[i]
			if m.Fitness > best.Fitness || (m.Fitness == best.Fitness && m.ID < best.ID) {
				best = m
			}
		}
		parents = append(parents, best.ID)
	}
	return parents
}

// MutateParams perturbs each parameter with probability rate by up to ±10% of
// its value, floored at zero. Keys are visited in sorted order so a seeded rng
// yields reproducible mutations.
func MutateParams(rng *rand.Rand, params Params, rate float64) Params {
	out := make(Params, len(params))

	for _, k := range sortedKeys(params) {
		v := params[k]
		if rng.Float64() < rate {
			v += v * mutationSpan * (rng.Float64()*2 - 1)
			if v < 0 {
				v = 0
			}
		}
		out[k] = v
	}
	return out
}

// CrossoverParams builds a child from two parents. The child has exactly the
// first parent's keys; where the second parent shares a key the value is
// chosen from either parent with equal probability.
func CrossoverParams(rng *rand.Rand, a, b Params) Params {
	out := make(Params, len(a))

	for _, k := range sortedKeys(a) {
		v := a[k]
		if bv, ok := b[k]; ok && rng.Intn(2) == 1 {
			v = bv
		}
		out[k] = v
	}
	return out
}

// Offspring composes the operators: crossover applied with probability
// crossoverRate (otherwise the child starts as a copy of the first parent),
// then mutation at mutationRate.
func Offspring(rng *rand.Rand, crossoverRate, mutationRate float64, a, b Params) Params {
	var child Params
	if rng.Float64() < crossoverRate {
		child = CrossoverParams(rng, a, b)
	} else {
		child = make(Params, len(a))
		for k, v := range a {
			child[k] = v
		}
	}
	return MutateParams(rng, child, mutationRate)
}

func sortedKeys(p Params) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

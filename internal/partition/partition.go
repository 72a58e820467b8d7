// Package partition splits a labelled corpus into train, validation and test
// sets, preserving per-class proportions.
package partition

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/crimson-sun/threadclass/internal/model"
)

// Ratios are the requested split fractions. They must sum to 1.
type Ratios struct {
	Train float64
	Val   float64
	Test  float64
}

// DefaultRatios matches a 20% test holdout followed by a 10% validation
// holdout from the remainder.
var DefaultRatios = Ratios{Train: 0.72, Val: 0.08, Test: 0.20}

// Validate checks the ratios are usable.
func (r Ratios) Validate() error {
	if r.Train <= 0 || r.Val < 0 || r.Test < 0 {
		return fmt.Errorf("partition: ratios must be train > 0, val >= 0, test >= 0, got %v/%v/%v", r.Train, r.Val, r.Test)
	}
	if sum := r.Train + r.Val + r.Test; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("partition: ratios must sum to 1, got %v", sum)
	}
	return nil
}

// Policy decides what happens when a class is too small to appear in every
// split.
type Policy int

const (
	// KeepInTrain lets a small class be absent from val and/or test. Its
	// examples stay in train.
	KeepInTrain Policy = iota
	// Strict fails with a DegenerateSplitError when a class is absent from a
	// split whose ratio is non-zero.
	Strict
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "keep-in-train":
		return KeepInTrain, nil
	case "strict":
		return Strict, nil
	}
	return 0, fmt.Errorf("partition: unknown split policy %q", s)
}

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "keep-in-train"
}

// Split partitions examples. The result depends only on (examples, ratios,
// seed, policy): groups are visited in ascending label id order and every
// shuffle draws from one PCG generator seeded with seed.
//
// The input slice is not modified.
func Split(examples []model.Example, ratios Ratios, seed int64, policy Policy) (model.Partition, error) {
	if err := ratios.Validate(); err != nil {
		return model.Partition{}, err
	}

	groups := make(map[int][]int)
	for i, ex := range examples {
		groups[ex.LabelID] = append(groups[ex.LabelID], i)
	}
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	rng := newRand(seed)
	var p model.Partition
	for _, id := range ids {
		idx := groups[id]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nVal, nTest := cut(len(idx), ratios)
		if policy == Strict {
			if ratios.Val > 0 && nVal == 0 {
				return model.Partition{}, &model.DegenerateSplitError{Split: model.SplitVal, ClassID: id}
			}
			if ratios.Test > 0 && nTest == 0 {
				return model.Partition{}, &model.DegenerateSplitError{Split: model.SplitTest, ClassID: id}
			}
		}

		for _, i := range idx[:nVal] {
			p.Val = append(p.Val, examples[i])
		}
		for _, i := range idx[nVal : nVal+nTest] {
			p.Test = append(p.Test, examples[i])
		}
		for _, i := range idx[nVal+nTest:] {
			p.Train = append(p.Train, examples[i])
		}
	}

	// Break up label-grouped ordering.
	for _, s := range [][]model.Example{p.Train, p.Val, p.Test} {
		rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
	}
	return p, nil
}

// cut returns the val and test counts for a class of n examples. Train always
// keeps at least one.
func cut(n int, r Ratios) (nVal, nTest int) {
	nVal = int(math.Round(float64(n) * r.Val))
	nTest = int(math.Round(float64(n) * r.Test))
	for nVal+nTest > n-1 && nVal+nTest > 0 {
		if nTest >= nVal {
			nTest--
		} else {
			nVal--
		}
	}
	return nVal, nTest
}

// Perm returns a seeded permutation of [0, n). The trainer uses it to order
// mini-batches.
func Perm(n int, seed int64) []int {
	return newRand(seed).Perm(n)
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

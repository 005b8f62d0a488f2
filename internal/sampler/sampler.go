// Package sampler provides adaptive discrete random variables whose
// weights drift toward values that previously led to new coverage.
package sampler

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a sample is requested over an invalid
// or empty range.
var ErrOutOfBounds = errors.New("sampler: invalid bounds")

// Adaptive is satisfied by every sampler in this package; a mutation
// operator reinforces or demotes the samplers in its Params bag through
// this interface without knowing their concrete type.
type Adaptive interface {
	Update(success bool)
}

// secureIntn returns a uniform random integer in [0, n). n must be > 0.
func secureIntn(n int) int {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(b[:]) % uint64(n))
}

// weightedIndex picks an index into weights with probability proportional
// to its weight. Weights must be positive and non-empty.
func weightedIndex(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	target := secureIntn(total)
	cum := 0
	for i, w := range weights {
		cum += w
		if target < cum {
			return i
		}
	}
	return len(weights) - 1
}

// AdaptiveRange samples an integer in [lo, hi]. Internally it keeps a
// sentinel slot (index 0, "fall through to uniform") plus slots for
// concrete values that previously succeeded. A non-adaptive instance
// ignores Update and always samples uniformly.
type AdaptiveRange struct {
	NonAdaptive bool

	population []int // population[0] is unused (sentinel marker)
	weights    []int
	hasValue   []bool // hasValue[0] is always false; tracks populated slots

	lastIndex int // index into population/weights of the last sample; 0 means "was uniform"
	lastValue int
}

// NewAdaptiveRange creates a range sampler. It does not fix [lo,hi]: every
// Sample call takes its own bounds, matching the mutate loop's need to
// resample against a shrinking buffer length.
func NewAdaptiveRange() *AdaptiveRange {
	return &AdaptiveRange{
		population: []int{0},
		weights:    []int{1},
		hasValue:   []bool{false},
	}
}

// Sample draws a value in [lo, hi]. lo must be <= hi.
func (a *AdaptiveRange) Sample(lo, hi int) (int, error) {
	if lo > hi {
		return 0, fmt.Errorf("%w: lo %d > hi %d", ErrOutOfBounds, lo, hi)
	}

	if a.NonAdaptive {
		a.lastIndex = 0
		a.lastValue = lo + secureIntn(hi-lo+1)
		return a.lastValue, nil
	}

	idx := weightedIndex(a.weights)
	if idx == 0 || a.population[idx] < lo || a.population[idx] > hi {
		a.lastIndex = 0
		a.lastValue = lo + secureIntn(hi-lo+1)
		return a.lastValue, nil
	}

	a.lastIndex = idx
	a.lastValue = a.population[idx]
	return a.lastValue, nil
}

// SampleMax draws a value in [0, max]. A convenience used by operators
// that only ever need a zero lower bound (matching the reference
// mutator's sample_max helper).
func (a *AdaptiveRange) SampleMax(max int) (int, error) {
	return a.Sample(0, max)
}

// Update reinforces (success) or demotes (!success) the last-sampled
// value. A no-op when NonAdaptive is set.
func (a *AdaptiveRange) Update(success bool) {
	if a.NonAdaptive {
		return
	}

	if success {
		if a.lastIndex == 0 {
			a.population = append(a.population, a.lastValue)
			a.weights = append(a.weights, 1)
			a.hasValue = append(a.hasValue, true)
		} else {
			a.weights[a.lastIndex]++
		}
		a.weights[0]++
		// Demotion always targets slot 1 regardless of where the value
		// landed, pairing each success with a demote of the
		// longest-standing promoted value rather than the one just
		// reinforced.
		a.lastIndex = 1
		return
	}

	if a.lastIndex == 0 {
		return
	}

	a.weights[a.lastIndex]--
	if a.weights[a.lastIndex] <= 0 {
		a.population = append(a.population[:a.lastIndex], a.population[a.lastIndex+1:]...)
		a.weights = append(a.weights[:a.lastIndex], a.weights[a.lastIndex+1:]...)
		a.hasValue = append(a.hasValue[:a.lastIndex], a.hasValue[a.lastIndex+1:]...)
	}
	if a.weights[0] > 1 {
		a.weights[0]--
	}
}

// AdaptiveChoice is a categorical sampler over a fixed population with
// adaptive weights; unlike AdaptiveRange it has no uniform-fallback
// sentinel and the population never grows or shrinks.
type AdaptiveChoice[T any] struct {
	NonAdaptive bool

	population []T
	weights    []int
	lastIndex  int
}

// NewAdaptiveChoice creates a categorical sampler over population, all
// starting at equal weight.
func NewAdaptiveChoice[T any](population []T) *AdaptiveChoice[T] {
	weights := make([]int, len(population))
	for i := range weights {
		weights[i] = 1
	}
	return &AdaptiveChoice[T]{population: population, weights: weights}
}

// Sample draws one value from the population.
func (a *AdaptiveChoice[T]) Sample() T {
	if a.NonAdaptive {
		a.lastIndex = secureIntn(len(a.population))
		return a.population[a.lastIndex]
	}
	a.lastIndex = weightedIndex(a.weights)
	return a.population[a.lastIndex]
}

// Len reports the population size.
func (a *AdaptiveChoice[T]) Len() int {
	return len(a.population)
}

// Update reinforces (success) or demotes (!success, floored at 1) the
// last-sampled item's weight.
func (a *AdaptiveChoice[T]) Update(success bool) {
	if a.NonAdaptive {
		return
	}
	if success {
		a.weights[a.lastIndex]++
		return
	}
	if a.weights[a.lastIndex] > 1 {
		a.weights[a.lastIndex]--
	}
}

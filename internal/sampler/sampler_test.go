package sampler

import (
	"errors"
	"testing"
)

func TestAdaptiveRangeBounds(t *testing.T) {
	a := NewAdaptiveRange()
	for i := 0; i < 200; i++ {
		v, err := a.Sample(3, 9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v < 3 || v > 9 {
			t.Fatalf("sample %d out of range [3,9]", v)
		}
		a.Update(i%2 == 0)
	}
}

func TestAdaptiveRangeInvalidBounds(t *testing.T) {
	a := NewAdaptiveRange()
	if _, err := a.Sample(9, 3); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestAdaptiveRangeSampleMax(t *testing.T) {
	a := NewAdaptiveRange()
	for i := 0; i < 50; i++ {
		v, err := a.SampleMax(4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v < 0 || v > 4 {
			t.Fatalf("sample %d out of range [0,4]", v)
		}
	}
}

// TestAdaptiveRangeConvergesOnRepeatedSuccess reinforces the same value
// repeatedly and checks that it is sampled far more often than a fresh
// range sampler would produce by chance.
func TestAdaptiveRangeConvergesOnRepeatedSuccess(t *testing.T) {
	a := NewAdaptiveRange()

	v, err := a.Sample(0, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.Update(true)
	for i := 0; i < 30; i++ {
		a.lastIndex = 1
		a.lastValue = v
		a.Update(true)
	}

	hits := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		got, err := a.Sample(0, 99)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == v {
			hits++
		}
		a.Update(false)
	}

	// Uniform sampling over [0,99] would hit v about trials/100 times;
	// a converged sampler should clear that by a wide margin.
	if hits < trials/10 {
		t.Fatalf("expected reinforced value %d to dominate sampling, got %d/%d hits", v, hits, trials)
	}
}

func TestAdaptiveRangeNonAdaptiveIgnoresUpdate(t *testing.T) {
	a := NewAdaptiveRange()
	a.NonAdaptive = true
	v, err := a.Sample(0, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.Update(true)
	if len(a.population) != 1 {
		t.Fatalf("expected non-adaptive sampler to leave population untouched, got %d entries", len(a.population))
	}
	_ = v
}

func TestAdaptiveChoiceBounds(t *testing.T) {
	pop := []string{"a", "b", "c"}
	a := NewAdaptiveChoice(pop)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		v := a.Sample()
		seen[v] = true
		a.Update(i%3 == 0)
	}
	for v := range seen {
		found := false
		for _, p := range pop {
			if p == v {
				found = true
			}
		}
		if !found {
			t.Fatalf("sampled value %q not in population", v)
		}
	}
}

func TestAdaptiveChoiceLen(t *testing.T) {
	a := NewAdaptiveChoice([]int{1, 2, 3, 4})
	if a.Len() != 4 {
		t.Fatalf("got Len %d, want 4", a.Len())
	}
}

func TestAdaptiveChoiceConverges(t *testing.T) {
	pop := []int{0, 1, 2, 3, 4}
	a := NewAdaptiveChoice(pop)

	for i := 0; i < 40; i++ {
		v := a.Sample()
		a.Update(v == 2)
	}

	hits := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		if a.Sample() == 2 {
			hits++
		}
		a.Update(false)
	}

	if hits < trials/len(pop) {
		t.Fatalf("expected reinforced choice 2 to beat uniform share, got %d/%d", hits, trials)
	}
}

func TestAdaptiveChoiceWeightFloor(t *testing.T) {
	a := NewAdaptiveChoice([]int{1, 2})
	a.Sample()
	for i := 0; i < 10; i++ {
		a.Update(false)
	}
	for _, w := range a.weights {
		if w < 1 {
			t.Fatalf("weight dropped below floor of 1: %v", a.weights)
		}
	}
}

func TestAdaptiveChoiceNonAdaptive(t *testing.T) {
	a := NewAdaptiveChoice([]int{1, 2, 3})
	a.NonAdaptive = true
	a.Sample()
	a.Update(true)
	for _, w := range a.weights {
		if w != 1 {
			t.Fatalf("expected non-adaptive weights to stay at 1, got %v", a.weights)
		}
	}
}

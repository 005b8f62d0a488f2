// Package mutator turns one corpus input into a nearby variant using a
// population of byte-buffer operators whose selection adapts toward
// whichever operators have led to new coverage.
package mutator

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/fluxfuzzer/edgefuzz/internal/sampler"
)

// ErrOutOfData is returned by an operator whose precondition the current
// buffer does not satisfy. The mutate loop treats it as a no-op and
// retries with a freshly drawn operator.
var ErrOutOfData = errors.New("mutator: buffer too small for operator")

// CorpusView is the slice of Corpus the mutator needs: a population to
// splice against, addressed through an adaptive choice over indices so
// splice reinforcement can land on the input that was actually used.
type CorpusView interface {
	Len() int
	At(i int) []byte
}

// secureRandomInt returns a uniform random integer in [0, max). Ground
// truth for the sign and bound matches the package's other
// crypto/rand-backed helpers.
func secureRandomInt(max int) int {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// secureRandomBytes returns n cryptographically random bytes.
func secureRandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = 0
		}
	}
	return b
}

// Operator is one of the buffer transformations (the 16 standard ones,
// plus dictionary-insert when a dictionary is configured). Apply receives the
// buffer to mutate (already copied by the caller) and the corpus to
// splice against; it returns the mutated buffer or ErrOutOfData if its
// precondition isn't met. Update reinforces or demotes whatever adaptive
// samplers the operator owns in its params bag.
type Operator interface {
	Name() string
	Apply(buf []byte, corpus CorpusView) ([]byte, error)
	Update(success bool)
}

// entry wraps one registered operator; its position in Mutator.operators
// is the index that operatorChoice samples.
type entry struct {
	op Operator
}

// Mutator owns the operator population, the per-input modification-count
// sampler, and remembers the last (operator) applied so Update can
// reinforce or demote it together with any input that was spliced in.
type Mutator struct {
	maxInputSize int
	maxMods      int

	operatorChoice *sampler.AdaptiveChoice[int]
	operators      []entry
	modCount       *sampler.AdaptiveRange

	lastOperator Operator
}

// Config bundles the construction-time limits every operator needs.
type Config struct {
	MaxInputSize     int
	MaxModifications int
	MaxInsertLength  int
	NonAdaptive      bool
	Dictionary       [][]byte // optional words for the dictionary-insert operator
}

// New builds a Mutator with the 16 (or 17, with a non-empty Dictionary)
// standard operators registered.
func New(cfg Config) *Mutator {
	modCount := sampler.NewAdaptiveRange()
	modCount.NonAdaptive = cfg.NonAdaptive

	ops := []Operator{
		newRemoveRange(cfg.NonAdaptive),
		newInsertRange(cfg.MaxInsertLength, cfg.NonAdaptive),
		newDuplicateRange(cfg.NonAdaptive),
		newCopyRange(cfg.NonAdaptive),
		newBitFlip(cfg.NonAdaptive),
		newByteXor(cfg.NonAdaptive),
		newSwapTwoBytes(cfg.NonAdaptive),
		newAddByte(cfg.NonAdaptive),
		newAddU16(cfg.NonAdaptive),
		newAddU32(cfg.NonAdaptive),
		newAddU64(cfg.NonAdaptive),
		newReplaceByteInteresting(cfg.NonAdaptive),
		newReplaceU16Interesting(cfg.NonAdaptive),
		newReplaceU32Interesting(cfg.NonAdaptive),
		newReplaceASCIIDigit(cfg.NonAdaptive),
		newSplice(cfg.NonAdaptive),
	}
	if len(cfg.Dictionary) > 0 {
		ops = append(ops, newDictionaryInsert(cfg.Dictionary, cfg.NonAdaptive))
	}

	indices := make([]int, len(ops))
	entries := make([]entry, len(ops))
	for i, op := range ops {
		indices[i] = i
		entries[i] = entry{op: op}
	}

	choice := sampler.NewAdaptiveChoice(indices)
	choice.NonAdaptive = cfg.NonAdaptive

	maxMods := cfg.MaxModifications
	if maxMods < 1 {
		maxMods = 1
	}

	return &Mutator{
		maxInputSize:   cfg.MaxInputSize,
		maxMods:        maxMods,
		operatorChoice: choice,
		operators:      entries,
		modCount:       modCount,
	}
}

// Mutate returns a mutated copy of input. It applies between 1 and
// max_modifications successful operator applications, retrying on
// ErrOutOfData, then truncates the result to MaxInputSize.
func (m *Mutator) Mutate(input []byte, corpus CorpusView) ([]byte, error) {
	res := make([]byte, len(input))
	copy(res, input)

	n, err := m.modCount.SampleMax(m.maxMods - 1)
	if err != nil {
		return nil, err
	}
	n++ // SampleMax returns [0, maxMods-1]; mutate always applies at least once

	const maxAttempts = 1000
	applied := 0
	attempts := 0
	for applied < n {
		attempts++
		if attempts > maxAttempts {
			break
		}

		idx := m.operatorChoice.Sample()
		op := m.operators[idx].op

		mutated, err := op.Apply(res, corpus)
		if errors.Is(err, ErrOutOfData) {
			continue
		}
		if err != nil {
			return nil, err
		}

		res = mutated
		m.lastOperator = op
		applied++
	}

	if m.maxInputSize > 0 && len(res) > m.maxInputSize {
		res = res[:m.maxInputSize]
	}
	return res, nil
}

// Update reinforces or demotes the last-applied operator and the
// modification-count sampler. Called by State after the caller decides
// whether the mutated input led to new coverage.
func (m *Mutator) Update(success bool) {
	m.operatorChoice.Update(success)
	m.modCount.Update(success)
	if m.lastOperator != nil {
		m.lastOperator.Update(success)
	}
}

package mutator

import (
	"bytes"
	"testing"
)

type fakeCorpus struct {
	inputs [][]byte
}

func (c *fakeCorpus) Len() int        { return len(c.inputs) }
func (c *fakeCorpus) At(i int) []byte { return c.inputs[i] }

func newTestMutator() *Mutator {
	return New(Config{
		MaxInputSize:     4096,
		MaxModifications: 4,
		MaxInsertLength:  16,
	})
}

func TestMutateProducesBoundedOutput(t *testing.T) {
	m := newTestMutator()
	corpus := &fakeCorpus{inputs: [][]byte{{}, []byte("hello world")}}

	for i := 0; i < 200; i++ {
		out, err := m.Mutate([]byte("hello world"), corpus)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) > 4096 {
			t.Fatalf("output exceeds MaxInputSize: %d", len(out))
		}
	}
}

func TestMutateHandlesEmptyInput(t *testing.T) {
	m := newTestMutator()
	corpus := &fakeCorpus{inputs: [][]byte{{}, []byte("seed")}}

	for i := 0; i < 50; i++ {
		if _, err := m.Mutate([]byte{}, corpus); err != nil {
			t.Fatalf("unexpected error mutating empty input: %v", err)
		}
	}
}

func TestMutateHandlesSingleByteInput(t *testing.T) {
	m := newTestMutator()
	corpus := &fakeCorpus{inputs: [][]byte{{}, {0x41}}}

	for i := 0; i < 50; i++ {
		if _, err := m.Mutate([]byte{0x41}, corpus); err != nil {
			t.Fatalf("unexpected error mutating single byte: %v", err)
		}
	}
}

func TestMutateDoesNotModifyInputSlice(t *testing.T) {
	m := newTestMutator()
	corpus := &fakeCorpus{inputs: [][]byte{{}, []byte("hello world")}}

	input := []byte("hello world")
	original := make([]byte, len(input))
	copy(original, input)

	if _, err := m.Mutate(input, corpus); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(input, original) {
		t.Fatalf("Mutate modified the caller's slice: got %q, want %q", input, original)
	}
}

func TestUpdateReinforcesWithoutPanicking(t *testing.T) {
	m := newTestMutator()
	corpus := &fakeCorpus{inputs: [][]byte{{}, []byte("hello world")}}

	for i := 0; i < 20; i++ {
		if _, err := m.Mutate([]byte("hello world"), corpus); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m.Update(i%2 == 0)
	}
}

func TestRemoveRangeOutOfDataOnShortBuffer(t *testing.T) {
	op := newRemoveRange(true)
	if _, err := op.Apply([]byte{0x01}, nil); err != ErrOutOfData {
		t.Fatalf("expected ErrOutOfData, got %v", err)
	}
}

func TestSpliceRequiresSecondCorpusEntry(t *testing.T) {
	op := newSplice(true)
	corpus := &fakeCorpus{inputs: [][]byte{[]byte("only")}}
	if _, err := op.Apply([]byte("a"), corpus); err != ErrOutOfData {
		t.Fatalf("expected ErrOutOfData with a single-entry corpus, got %v", err)
	}
}

func TestReplaceASCIIDigitRequiresDigit(t *testing.T) {
	op := newReplaceASCIIDigit(true)
	if _, err := op.Apply([]byte("no digits here"), nil); err != ErrOutOfData {
		t.Fatalf("expected ErrOutOfData on digit-free input, got %v", err)
	}
}

func TestReplaceASCIIDigitChangesTheDigit(t *testing.T) {
	op := newReplaceASCIIDigit(true)
	for i := 0; i < 50; i++ {
		buf := []byte("a5b")
		out, err := op.Apply(buf, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out[1] == '5' {
			t.Fatalf("expected digit to change, stayed %q", out[1])
		}
		if out[1] < '0' || out[1] > '9' {
			t.Fatalf("replacement is not a digit: %q", out[1])
		}
	}
}

func TestBitFlipOnSingleByte(t *testing.T) {
	op := newBitFlip(true)
	buf := []byte{0x00}
	out, err := op.Apply(buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] == 0 {
		t.Fatalf("expected a bit to flip, got unchanged byte")
	}
}

func TestDictionaryInsertOptionalOperator(t *testing.T) {
	m := New(Config{
		MaxInputSize:     4096,
		MaxModifications: 1,
		MaxInsertLength:  8,
		Dictionary:       [][]byte{[]byte("KEYWORD")},
	})
	if len(m.operators) != 17 {
		t.Fatalf("expected 17 operators with a dictionary configured, got %d", len(m.operators))
	}
}

func TestNoDictionaryMeans16Operators(t *testing.T) {
	m := newTestMutator()
	if len(m.operators) != 16 {
		t.Fatalf("expected 16 operators without a dictionary, got %d", len(m.operators))
	}
}

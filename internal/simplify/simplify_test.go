package simplify

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fluxfuzzer/edgefuzz/internal/tracer"
)

func crashesOnSubstring(substr string) Target {
	return func(data []byte, tr *tracer.LineTracer) {
		tr.Hit("target.go", 1)
		if bytes.Contains(data, []byte(substr)) {
			panic("crash: " + substr)
		}
	}
}

func TestSimplifyDropsUnrelatedLine(t *testing.T) {
	s, err := New(crashesOnSubstring("CRASH"), 2*time.Second, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	input := []byte("START\nUNRELATED\nCRASH\nEND")
	best, err := s.Simplify(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(string(best), "UNRELATED") {
		t.Fatalf("expected UNRELATED line to be dropped, got %q", best)
	}
	if !strings.Contains(string(best), "CRASH") {
		t.Fatalf("expected CRASH line to survive, got %q", best)
	}

	_, crashed := s.run(best)
	if !crashed {
		t.Fatalf("expected simplified candidate to still crash")
	}

	bestMetrics := metricsOf(best)
	originalMetrics := metricsOf(input)
	if !bestMetrics.Dominates(originalMetrics) && bestMetrics != originalMetrics {
		t.Fatalf("expected simplified metrics %v to be no worse than original %v", bestMetrics, originalMetrics)
	}
}

func TestSimplifyReturnsInvalidSampleWhenInputNoLongerCrashes(t *testing.T) {
	s, err := New(crashesOnSubstring("CRASH"), time.Second, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	_, err = s.Simplify([]byte("nothing interesting here"))
	if err != ErrInvalidSample {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
}

func TestRemoveCharactersRefusesToCrossNewline(t *testing.T) {
	data := []byte("line1\nline2")
	if bytes.IndexByte(data[5:6], '\n') == -1 {
		t.Fatalf("test setup assumption broken: position 5 is not the newline")
	}

	out, err := removeCharactersAt(data, 5, 1)
	if err != ErrOutOfData {
		t.Fatalf("expected refusal crossing a newline, got err=%v out=%q", err, out)
	}
}

func TestRemoveCharactersRefusesLeadingWhitespaceStrip(t *testing.T) {
	data := []byte("line1\nline2")
	// start==lineStart (position 6, start of "line2") would strip the
	// line's leading character.
	out, err := removeCharactersAt(data, 6, 1)
	if err != ErrOutOfData {
		t.Fatalf("expected refusal stripping leading characters, got err=%v out=%q", err, out)
	}

	// Position 7 is the second of the two spaces indenting "line2".
	indented := []byte("line1\n  line2")
	out, err = removeCharactersAt(indented, 7, 1)
	if err != ErrOutOfData {
		t.Fatalf("expected refusal stripping leading whitespace, got err=%v out=%q", err, out)
	}
}

func TestMetricsDominance(t *testing.T) {
	shorter := metricsOf([]byte("ab"))
	longer := metricsOf([]byte("abc"))
	if !shorter.Dominates(longer) {
		t.Fatalf("expected shorter input to dominate longer one")
	}
	if longer.Dominates(shorter) {
		t.Fatalf("did not expect longer input to dominate shorter one")
	}
	if shorter.Dominates(shorter) {
		t.Fatalf("a value should not dominate itself")
	}
}


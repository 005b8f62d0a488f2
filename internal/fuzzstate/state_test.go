package fuzzstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxfuzzer/edgefuzz/pkg/types"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := New(Config{
		MaxInputSize:     4096,
		MaxModifications: 4,
		MaxInsertLength:  16,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestNewInsertsEmptyInputWhenNoSeeds(t *testing.T) {
	s := newTestState(t)
	if s.Len() != 1 {
		t.Fatalf("expected a single reserved empty input, got %d entries", s.Len())
	}
	if len(s.At(0)) != 0 {
		t.Fatalf("expected the reserved input to be empty, got %q", s.At(0))
	}
}

func TestNewLoadsSeedFilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("AAA"), 0o644); err != nil {
		t.Fatal(err)
	}
	subdir := filepath.Join(dir, "sub")
	if err := os.Mkdir(subdir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(subdir, "b"), []byte("BBB"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{Seeds: []string{filepath.Join(dir, "a"), subdir}, MaxInputSize: 4096, MaxModifications: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 loaded seeds, got %d", s.Len())
	}
}

func TestStoreCoverageReportsGrowth(t *testing.T) {
	s := newTestState(t)

	f := "a.go"
	e1 := types.Edge{CurFile: f, CurLine: 1}
	grew := s.StoreCoverage(types.EdgeSet{e1: struct{}{}})
	if !grew {
		t.Fatalf("expected first edge to grow coverage")
	}

	grewAgain := s.StoreCoverage(types.EdgeSet{e1: struct{}{}})
	if grewAgain {
		t.Fatalf("expected repeat edge not to grow coverage")
	}

	if s.TotalCoverage() != 1 {
		t.Fatalf("expected 1 total edge, got %d", s.TotalCoverage())
	}
}

func TestPutInputGrowsPopulationWithoutDedup(t *testing.T) {
	s := newTestState(t)
	before := s.Len()
	s.PutInput([]byte("x"))
	s.PutInput([]byte("x"))
	if s.Len() != before+2 {
		t.Fatalf("expected population to grow by 2 duplicate puts, got delta %d", s.Len()-before)
	}
}

func TestGetInputReturnsMutatedVariant(t *testing.T) {
	s := newTestState(t)
	s.PutInput([]byte("hello world"))
	out, err := s.GetInput()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil {
		t.Fatalf("expected non-nil mutated input")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "state.json")

	s, err := New(Config{MaxInputSize: 4096, MaxModifications: 2, SnapshotPath: snapPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.PutInput([]byte("seed-a"))
	f := "target.go"
	e := types.Edge{CurFile: f, CurLine: 42}
	s.StoreCoverage(types.EdgeSet{e: struct{}{}})

	if err := s.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	restored, err := New(Config{MaxInputSize: 4096, MaxModifications: 2, SnapshotPath: snapPath})
	if err != nil {
		t.Fatalf("unexpected error loading snapshot: %v", err)
	}
	if restored.TotalCoverage() != 1 {
		t.Fatalf("expected restored coverage of 1 edge, got %d", restored.TotalCoverage())
	}

	found := false
	for i := 0; i < restored.Len(); i++ {
		if string(restored.At(i)) == "seed-a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected restored population to contain seed-a")
	}
}

func TestLoadMissingFileIsNoOp(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Config{MaxInputSize: 4096, MaxModifications: 2, SnapshotPath: filepath.Join(dir, "missing.json")})
	if err != nil {
		t.Fatalf("expected missing snapshot file to be a no-op, got %v", err)
	}
}

func TestLoadMalformedFileIsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(Config{MaxInputSize: 4096, MaxModifications: 2, SnapshotPath: path}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected malformed snapshot to be deleted")
	}
}

func TestManifestPriorityBiasesSelection(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "low"), []byte("low-priority-seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "high"), []byte("high-priority-seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := `{"priority": {"high": 1000, "low": 0.001}}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{Seeds: []string{dir}, MaxInputSize: 4096, MaxModifications: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected manifest.json to be excluded from the population, got %d entries", s.Len())
	}

	var highIdx int
	for i := 0; i < s.Len(); i++ {
		if string(s.At(i)) == "high-priority-seed" {
			highIdx = i
		}
	}

	highCount := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		idx := weightedPickIndex(s.priority)
		if idx == highIdx {
			highCount++
		}
	}
	if highCount < trials*3/4 {
		t.Fatalf("expected manifest priority to heavily favor the high-priority seed, got %d/%d picks", highCount, trials)
	}
}

func TestWeightedPickIndexFallsBackToUniformOnZeroWeights(t *testing.T) {
	idx := weightedPickIndex([]float64{0, 0, 0})
	if idx < 0 || idx >= 3 {
		t.Fatalf("expected a valid index in range, got %d", idx)
	}
}

func TestLoadUnknownVersionReturnsLoadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"coverage":[],"population":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New(Config{MaxInputSize: 4096, MaxModifications: 2, SnapshotPath: path})
	if err == nil {
		t.Fatalf("expected LoadError for unsupported version")
	}
	if _, ok := err.(*LoadError); !ok {
		t.Fatalf("expected *LoadError, got %T: %v", err, err)
	}
}

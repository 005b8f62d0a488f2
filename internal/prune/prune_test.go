package prune

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/fluxfuzzer/edgefuzz/internal/tracer"
)

func crashesOnSubstring(substr string) Target {
	return func(data []byte, tr *tracer.LineTracer) {
		tr.Hit("target.go", 1)
		if bytes.Contains(data, []byte(substr)) {
			panic("crash")
		}
	}
}

func TestDirDeletesFilesThatNoLongerReproduce(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"f1": "crash 1",
		"f2": "crash 2",
		"f3": "invalid 1",
		"f4": "invalid 2",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := Dir(dir, crashesOnSubstring("crash")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var remaining []string
	for _, e := range entries {
		remaining = append(remaining, e.Name())
	}
	sort.Strings(remaining)

	want := []string{"f1", "f2"}
	if len(remaining) != len(want) {
		t.Fatalf("expected %v remaining, got %v", want, remaining)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Fatalf("expected %v remaining, got %v", want, remaining)
		}
	}
}

func TestDirKeepsReproducingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "still-crashes"), []byte("crash now"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Dir(dir, crashesOnSubstring("crash")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "still-crashes")); err != nil {
		t.Fatalf("expected reproducing file to survive: %v", err)
	}
}

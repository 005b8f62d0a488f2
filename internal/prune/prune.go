// Package prune deletes crash artifacts that no longer reproduce,
// typically after the target has been fixed.
package prune

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fluxfuzzer/edgefuzz/internal/tracer"
)

// Target runs the program under test, recording line hits on tr.
type Target func(data []byte, tr *tracer.LineTracer)

// Dir walks every file in dir and deletes any whose contents no longer
// make target raise, logging each deletion.
func Dir(dir string, target Target) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("prune: reading %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("prune: cannot read %s: %v", path, err)
			continue
		}

		if reproduces(target, data) {
			continue
		}

		if err := os.Remove(path); err != nil {
			log.Printf("prune: failed to delete %s: %v", path, err)
			continue
		}
		log.Printf("prune: deleted %s (no longer reproduces)", path)
	}

	return nil
}

func reproduces(target Target, data []byte) (crashed bool) {
	tr := tracer.NewLineTracer()
	defer func() {
		if r := recover(); r != nil {
			crashed = true
		}
	}()
	target(data, tr)
	return false
}

// Package simplify shrinks crash-inducing inputs while preserving the
// edge set that made them interesting in the first place.
package simplify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/fluxfuzzer/edgefuzz/internal/sampler"
	"github.com/fluxfuzzer/edgefuzz/internal/tracer"
	"github.com/fluxfuzzer/edgefuzz/pkg/types"
)

// ErrInvalidSample means the supposed crash artifact no longer raises,
// so it cannot be simplified against anything.
var ErrInvalidSample = errors.New("simplify: sample no longer reproduces")

// ErrOutOfData mirrors mutator.ErrOutOfData: an operator's precondition
// wasn't met against the current candidate.
var ErrOutOfData = errors.New("simplify: operator precondition unmet")

// Target runs the program under test, recording line hits on tr.
type Target func(data []byte, tr *tracer.LineTracer)

// Operator is one shrinking transformation with its own adaptive
// parameters.
type Operator interface {
	Name() string
	Apply(data []byte) ([]byte, error)
	Update(success bool)
}

func metricsOf(data []byte) types.Metrics {
	return types.Metrics{len(data), bytes.Count(data, []byte{'\n'})}
}

// Simplifier repeatedly tries shrinking operators against the current
// best candidate, keeping any mutation that still crashes with the same
// edge set and dominates on Metrics.
type Simplifier struct {
	target Target

	operators      []Operator
	operatorChoice *sampler.AdaptiveChoice[int]

	timeBudget time.Duration
	pool       *ants.Pool
}

// New builds a Simplifier with the standard three operators and an ants
// worker pool sized to numWorkers for running multiple crash artifacts
// concurrently.
func New(target Target, timeBudget time.Duration, numWorkers int) (*Simplifier, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	pool, err := ants.NewPool(numWorkers)
	if err != nil {
		return nil, fmt.Errorf("simplify: creating worker pool: %w", err)
	}

	ops := []Operator{
		newRemoveLines(),
		newRemoveCharacters(),
		newShortenToken(),
	}
	indices := make([]int, len(ops))
	for i := range ops {
		indices[i] = i
	}
	choice := sampler.NewAdaptiveChoice(indices)

	return &Simplifier{
		target:         target,
		operators:      ops,
		operatorChoice: choice,
		timeBudget:     timeBudget,
		pool:           pool,
	}, nil
}

// Close releases the worker pool.
func (s *Simplifier) Close() {
	s.pool.Release()
}

// Dir simplifies every crash artifact in crashDir not already present in
// outputDir, writing shrunk candidates as simp-<hash> files.
func (s *Simplifier) Dir(crashDir, outputDir string) error {
	entries, err := os.ReadDir(crashDir)
	if err != nil {
		return fmt.Errorf("simplify: reading crash dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("simplify: creating output dir: %w", err)
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(crashDir, name)

		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			s.simplifyFile(path, outputDir)
		})
		if err != nil {
			wg.Done()
			log.Printf("simplify: failed to submit %s: %v", name, err)
		}
	}
	wg.Wait()
	return nil
}

func (s *Simplifier) simplifyFile(path, outputDir string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("simplify: cannot read %s: %v", path, err)
		return
	}

	sum := sha256.Sum256(data)
	outPath := filepath.Join(outputDir, "simp-"+hex.EncodeToString(sum[:]))
	if _, err := os.Stat(outPath); err == nil {
		return
	}

	best, err := s.Simplify(data)
	if errors.Is(err, ErrInvalidSample) {
		log.Printf("simplify: %s no longer reproduces, skipping", path)
		return
	}
	if err != nil {
		log.Printf("simplify: %s: %v", path, err)
		return
	}

	if err := os.WriteFile(outPath, best, 0o644); err != nil {
		log.Printf("simplify: failed to write %s: %v", outPath, err)
	}
}

// Simplify shrinks data, returning the best candidate found within the
// time budget. Returns ErrInvalidSample if data no longer crashes.
func (s *Simplifier) Simplify(data []byte) ([]byte, error) {
	baseline, crashed := s.run(data)
	if !crashed {
		return nil, ErrInvalidSample
	}

	budget := s.timeBudget
	if budget <= 0 {
		budget = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	best := data
	previous := metricsOf(data)

	// A crash already at its minimal shape makes every operator fail
	// its precondition forever; this caps how long that costs once the
	// buffer can no longer shrink, independent of the time budget.
	const maxConsecutiveOutOfData = 2000
	outOfData := 0

	for {
		select {
		case <-ctx.Done():
			return best, nil
		default:
		}

		idx := s.operatorChoice.Sample()
		op := s.operators[idx]

		candidate, err := op.Apply(best)
		if errors.Is(err, ErrOutOfData) {
			outOfData++
			if outOfData >= maxConsecutiveOutOfData {
				return best, nil
			}
			continue
		}
		if err != nil {
			return best, err
		}
		outOfData = 0

		covered, crashed := s.run(candidate)
		same := crashed && covered.Equal(baseline)
		metrics := metricsOf(candidate)
		dominates := same && metrics.Dominates(previous)

		op.Update(dominates)
		s.operatorChoice.Update(dominates)

		if dominates {
			best = candidate
			previous = metrics
		}
	}
}

func (s *Simplifier) run(data []byte) (covered types.EdgeSet, crashed bool) {
	tr := tracer.NewLineTracer()
	func() {
		defer func() {
			if r := recover(); r != nil {
				crashed = true
				covered = tracer.CoveredFromPanic(0)
			}
		}()
		s.target(data, tr)
	}()
	return covered, crashed
}

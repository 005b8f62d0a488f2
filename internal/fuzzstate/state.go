// Package fuzzstate owns the coverage-guided fuzzing loop's mutable
// state: the edges seen so far, the input population, and the mutator
// that samples over both. It is the only package that persists a
// snapshot to disk.
package fuzzstate

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fluxfuzzer/edgefuzz/internal/mutator"
	"github.com/fluxfuzzer/edgefuzz/pkg/types"
	"github.com/tidwall/gjson"
)

// pickIndex returns a uniform random index in [0, n).
func pickIndex(n int) int {
	if n <= 1 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(b[:]) % uint64(n))
}

// snapshotVersion is the only version this package can load. A snapshot
// written by a future, incompatible version fails closed.
const snapshotVersion = 1

// LoadError reports a snapshot whose version this build cannot read.
type LoadError struct {
	Found int
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("fuzzstate: snapshot version %d is not supported (want %d)", e.Found, snapshotVersion)
}

// State is owned by exactly one worker or the controller at a time; it
// is not safe to share a single instance across goroutines without
// external synchronization (each worker gets its own instance, built
// from the same Config as the controller's, not copied from it).
type State struct {
	mu sync.Mutex

	covered    types.EdgeSet
	population [][]byte
	priority   []float64 // parallel to population; defaults to 1.0
	numSeeds   int

	mutator *mutator.Mutator

	snapshotPath     string
	snapshotDisabled bool
}

// Config bundles the construction parameters that come from CLI flags.
type Config struct {
	Seeds            []string
	MaxInputSize     int
	MaxModifications int
	MaxInsertLength  int
	NonAdaptive      bool
	Dictionary       [][]byte
	SnapshotPath     string
}

// New loads seed files (and one level of directory contents) into the
// input population, falling back to a single empty input when no seeds
// resolve to anything, then loads any existing snapshot at
// cfg.SnapshotPath.
func New(cfg Config) (*State, error) {
	s := &State{
		covered:      make(types.EdgeSet),
		snapshotPath: cfg.SnapshotPath,
		mutator: mutator.New(mutator.Config{
			MaxInputSize:     cfg.MaxInputSize,
			MaxModifications: cfg.MaxModifications,
			MaxInsertLength:  cfg.MaxInsertLength,
			NonAdaptive:      cfg.NonAdaptive,
			Dictionary:       cfg.Dictionary,
		}),
	}

	for _, path := range cfg.Seeds {
		if err := s.loadSeedPath(path); err != nil {
			log.Printf("fuzzstate: skipping seed %s: %v", path, err)
		}
	}

	if len(s.population) == 0 {
		s.population = append(s.population, []byte{})
		s.priority = append(s.priority, 1.0)
		s.numSeeds = 1
	}

	if err := s.Load(); err != nil {
		return nil, err
	}

	return s, nil
}

// manifestFile is an optional gjson-read sidecar next to a seeds
// directory, tagging per-file sampling priority without requiring a
// schema-bound struct: {"priority": {"<filename>": 2.5, ...}}.
const manifestFile = "manifest.json"

func loadManifestPriority(dir string) map[string]float64 {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil
	}

	priorities := map[string]float64{}
	gjson.GetBytes(data, "priority").ForEach(func(key, value gjson.Result) bool {
		priorities[key.String()] = value.Float()
		return true
	})
	return priorities
}

func (s *State) loadSeedPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		priorities := loadManifestPriority(path)

		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || e.Name() == manifestFile {
				continue
			}
			data, err := os.ReadFile(filepath.Join(path, e.Name()))
			if err != nil {
				log.Printf("fuzzstate: skipping seed file %s: %v", e.Name(), err)
				continue
			}
			weight := 1.0
			if p, ok := priorities[e.Name()]; ok && p > 0 {
				weight = p
			}
			s.population = append(s.population, data)
			s.priority = append(s.priority, weight)
			s.numSeeds++
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.population = append(s.population, data)
	s.priority = append(s.priority, 1.0)
	s.numSeeds++
	return nil
}

// StoreCoverage unions edges into the covered set and reports whether
// the set strictly grew.
func (s *State) StoreCoverage(edges types.EdgeSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.covered.Union(edges)
}

// TotalCoverage returns the number of distinct edges seen so far.
func (s *State) TotalCoverage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.covered)
}

// PutInput appends buf to the population without deduplication; repeat
// submissions simply grow the pool and thin the distribution over a
// particular variant, which is acceptable because the mutator samples by
// index, not by content.
func (s *State) PutInput(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.population = append(s.population, buf)
	s.priority = append(s.priority, 1.0)
}

// Len and At implement mutator.CorpusView so the mutator's splice
// operator can read the population directly.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.population)
}

func (s *State) At(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.population[i]
}

// GetInput returns a freshly mutated variant of a corpus input, chosen by
// weighted sampling over per-seed priority (manifest.json entries bias
// selection; unweighted entries default to 1.0, recovering uniform
// sampling when no manifest was present).
func (s *State) GetInput() ([]byte, error) {
	s.mu.Lock()
	n := len(s.population)
	weights := make([]float64, n)
	copy(weights, s.priority)
	s.mu.Unlock()
	if n == 0 {
		return nil, fmt.Errorf("fuzzstate: empty population")
	}

	idx := weightedPickIndex(weights)
	s.mu.Lock()
	base := s.population[idx]
	s.mu.Unlock()

	return s.mutator.Mutate(base, s)
}

// weightedPickIndex samples an index with probability proportional to
// weights[i]. Falls back to uniform sampling if the weights are missing
// or sum to zero.
func weightedPickIndex(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return pickIndex(len(weights))
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return pickIndex(len(weights))
	}
	frac := float64(binary.BigEndian.Uint64(b[:])) / float64(^uint64(0))
	threshold := frac * total

	acc := 0.0
	for i, w := range weights {
		acc += w
		if threshold <= acc {
			return i
		}
	}
	return len(weights) - 1
}

// Update forwards success/failure to the mutator so its samplers adapt.
func (s *State) Update(success bool) {
	s.mutator.Update(success)
}

// snapshot is the on-disk representation. Population entries are
// base64-encoded so the format round-trips arbitrary bytes, the Go
// analogue of the reference format's byte-literal population encoding.
type snapshot struct {
	Version    int        `json:"version"`
	Coverage   [][4]any   `json:"coverage"`
	Population []string   `json:"population"`
}

// Save writes the snapshot atomically: a temp file in the same
// directory, then a rename, so a reader never observes a partial write.
// A no-op when snapshots are disabled or no path was configured.
func (s *State) Save() error {
	if s.snapshotPath == "" || s.snapshotDisabled {
		return nil
	}

	s.mu.Lock()
	snap := snapshot{
		Version:    snapshotVersion,
		Coverage:   make([][4]any, 0, len(s.covered)),
		Population: make([]string, len(s.population)),
	}
	for e := range s.covered {
		var pf, pl any
		if e.HasPrev {
			pf = e.PrevFile
			pl = e.PrevLine
		}
		snap.Coverage = append(snap.Coverage, [4]any{pf, pl, e.CurFile, e.CurLine})
	}
	for i, buf := range s.population {
		snap.Population[i] = base64.StdEncoding.EncodeToString(buf)
	}
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".fuzzstate-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.snapshotPath)
}

// Load reads the snapshot at s.snapshotPath, if any, merging its
// coverage and population into the receiver. A missing file is a silent
// no-op. A malformed file is deleted with a warning. An unsupported
// version returns *LoadError and disables further snapshots for this
// process, matching the "abort load, start fresh" contract.
func (s *State) Load() error {
	if s.snapshotPath == "" {
		return nil
	}

	info, err := os.Stat(s.snapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		log.Printf("fuzzstate: disabling snapshots, cannot stat %s: %v", s.snapshotPath, err)
		s.snapshotDisabled = true
		return nil
	}
	if info.IsDir() {
		log.Printf("fuzzstate: snapshot path %s is a directory, disabling snapshots", s.snapshotPath)
		s.snapshotDisabled = true
		return nil
	}

	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		log.Printf("fuzzstate: disabling snapshots, cannot read %s: %v", s.snapshotPath, err)
		s.snapshotDisabled = true
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("fuzzstate: deleting malformed snapshot %s: %v", s.snapshotPath, err)
		os.Remove(s.snapshotPath)
		return nil
	}

	if snap.Version != snapshotVersion {
		s.snapshotDisabled = true
		return &LoadError{Found: snap.Version}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, edge := range snap.Coverage {
		e := types.Edge{}
		if edge[0] != nil {
			e.HasPrev = true
			e.PrevFile, _ = edge[0].(string)
		}
		if edge[1] != nil {
			pl, _ := edge[1].(float64)
			e.PrevLine = int(pl)
		}
		if cf, ok := edge[2].(string); ok {
			e.CurFile = cf
		}
		if cl, ok := edge[3].(float64); ok {
			e.CurLine = int(cl)
		}
		s.covered[e] = struct{}{}
	}

	for _, enc := range snap.Population {
		buf, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			log.Printf("fuzzstate: skipping corrupt population entry in %s", s.snapshotPath)
			continue
		}
		s.population = append(s.population, buf)
		s.priority = append(s.priority, 1.0)
	}

	return nil
}

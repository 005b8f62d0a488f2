// Package controller bootstraps the worker pool, drains their results,
// persists crash artifacts and the state snapshot, and enforces the
// run's stopping conditions.
package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fluxfuzzer/edgefuzz/internal/fuzzstate"
	"github.com/fluxfuzzer/edgefuzz/internal/fuzzworker"
	"github.com/fluxfuzzer/edgefuzz/internal/protocol"
	"github.com/fluxfuzzer/edgefuzz/internal/tracer"
	"github.com/fluxfuzzer/edgefuzz/internal/triage"
	"github.com/fluxfuzzer/edgefuzz/pkg/types"
	"github.com/google/uuid"
)

// Exit codes match the CLI's documented contract: 0 clean stop, 1
// crashes found, 2 internal error (a Bug reached the controller).
const (
	ExitClean       = 0
	ExitCrashes     = 1
	ExitInternalBug = 2
)

// Config bundles everything the controller needs to bootstrap a run.
type Config struct {
	NumWorkers    int
	MaxRuns       int64
	MaxTime       time.Duration
	MaxCrashes    int
	CrashDir      string
	StatFrequency time.Duration
	UpdateBuffer  int
	LoadCrashes   bool
	MaxExecRate   float64

	State fuzzstate.Config

	// Simplify, if set, is invoked once after a run that produced
	// crashes, matching the "invoke the Simplifier" step of the main
	// loop's exit path.
	Simplify func(crashDir string) error

	// Reporter, if set, receives the same pulse/coverage/crash events
	// that land in the log, for a TUI or a remote dashboard to render
	// live. Both internal/ui's program adapter and internal/web.Server
	// satisfy it with the same method set.
	Reporter Reporter
}

// Reporter receives live run events. Any nil methods are skipped by the
// caller's nil check on the whole interface value, not per-method, so an
// implementation must provide all four even if some are no-ops.
type Reporter interface {
	UpdatePulse(executions int64, execPerSec float64)
	UpdateCoverage(edges, corpusSize int)
	RecordCrash(digest, message string, size int)
	RecordBug()
}

// Controller drives one fuzzing run to completion.
type Controller struct {
	cfg    Config
	target fuzzworker.Target

	master    *fuzzstate.State
	sessionID string

	runs       int64
	workerRuns map[int]int64
	crashCount int
	startTime  time.Time
	lastPulse  time.Time
}

// New constructs a controller and its master state. If cfg.LoadCrashes
// is set, every file already in cfg.CrashDir is replayed through target
// first so their edges suppress the same crash being reported as new
// again this run. Run builds each worker's state fresh from cfg.State
// rather than copying the master, so inputs added to the master with
// PutInput and the coverage of replayed crashes are held by the master
// only; workers do not start with them.
func New(cfg Config, target fuzzworker.Target) (*Controller, error) {
	master, err := fuzzstate.New(cfg.State)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        cfg,
		target:     target,
		master:     master,
		sessionID:  uuid.NewString(),
		workerRuns: make(map[int]int64),
	}

	if cfg.LoadCrashes {
		c.replayCrashDir()
		if err := c.master.Save(); err != nil {
			log.Printf("controller: failed to persist replayed coverage: %v", err)
		}
	}

	return c, nil
}

func (c *Controller) replayCrashDir() {
	entries, err := os.ReadDir(c.cfg.CrashDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.cfg.CrashDir, e.Name()))
		if err != nil {
			continue
		}
		covered := c.runOnceForReplay(data)
		if covered != nil {
			c.master.StoreCoverage(covered)
		}
	}
}

func (c *Controller) runOnceForReplay(data []byte) types.EdgeSet {
	tr := tracer.NewLineTracer()
	var covered types.EdgeSet
	func() {
		defer func() {
			if r := recover(); r != nil {
				covered = tracer.CoveredFromPanic(0)
			}
		}()
		c.target(data, tr)
	}()
	return covered
}

// Run spawns cfg.NumWorkers workers and drains their results until a
// stopping condition fires or ctx is cancelled. It returns the process
// exit code the CLI layer should use.
func (c *Controller) Run(ctx context.Context) (int, error) {
	c.startTime = time.Now()
	c.lastPulse = c.startTime

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan protocol.Result, 256)

	numWorkers := c.cfg.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	workers := make([]*fuzzworker.Worker, numWorkers)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		st, err := fuzzstate.New(c.cfg.State)
		if err != nil {
			cancel()
			return ExitInternalBug, err
		}
		w := fuzzworker.New(i, st, c.target, results, c.cfg.UpdateBuffer, c.cfg.StatFrequency, c.cfg.MaxExecRate)
		workers[i] = w
		wg.Add(1)
		go func(w *fuzzworker.Worker) {
			defer wg.Done()
			w.Run(runCtx)
		}(w)
	}

	exitCode := ExitClean
	var runErr error

loop:
	for {
		if c.stoppingConditionMet() {
			break loop
		}

		select {
		case <-runCtx.Done():
			break loop
		case r := <-results:
			switch {
			case r.Bug != nil:
				log.Printf("controller: internal bug from worker %d: %s", r.WorkerID, r.Bug.Message)
				if c.cfg.Reporter != nil {
					c.cfg.Reporter.RecordBug()
				}
				exitCode = ExitInternalBug
				runErr = fmt.Errorf("internal error in worker %d, please open a ticket: %s", r.WorkerID, r.Bug.Message)
				break loop
			case r.Err != nil:
				c.recordRuns(r.WorkerID, r.Err.Runs)
				c.handleCrash(r.Err)
			case r.Report != nil:
				c.recordRuns(r.WorkerID, r.Report.Runs)
				c.handleReport(r.Report, r.WorkerID, workers)
			case r.Status != nil:
				c.recordRuns(r.WorkerID, r.Status.Runs)
			}
		case <-time.After(250 * time.Millisecond):
			c.maybePulse()
		}
	}

	cancel()
	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		log.Printf("controller: workers did not join within the grace period")
	}

	if err := c.master.Save(); err != nil {
		log.Printf("controller: failed to save final snapshot: %v", err)
	}

	if exitCode == ExitClean && c.crashCount > 0 {
		exitCode = ExitCrashes
	}

	if exitCode != ExitInternalBug && c.crashCount > 0 && c.cfg.Simplify != nil {
		if err := c.cfg.Simplify(c.cfg.CrashDir); err != nil {
			log.Printf("controller: simplification failed: %v", err)
		}
	}

	return exitCode, runErr
}

// recordRuns folds a worker's self-reported cumulative execution count
// into the controller's total. Workers report their own running total on
// every message, so the controller sums the latest value per worker
// rather than incrementing once per message, which would undercount the
// quiet runs a Status heartbeat summarizes.
func (c *Controller) recordRuns(workerID int, total int64) {
	if total <= c.workerRuns[workerID] {
		return
	}
	c.workerRuns[workerID] = total

	var sum int64
	for _, n := range c.workerRuns {
		sum += n
	}
	c.runs = sum
}

func (c *Controller) stoppingConditionMet() bool {
	if c.cfg.MaxRuns > 0 && c.runs >= c.cfg.MaxRuns {
		return true
	}
	if c.cfg.MaxTime > 0 && time.Since(c.startTime) >= c.cfg.MaxTime {
		return true
	}
	if c.cfg.MaxCrashes > 0 && c.crashCount >= c.cfg.MaxCrashes {
		return true
	}
	return false
}

func (c *Controller) maybePulse() {
	if c.cfg.StatFrequency <= 0 {
		return
	}
	if time.Since(c.lastPulse) < c.cfg.StatFrequency {
		return
	}
	c.lastPulse = time.Now()
	elapsed := time.Since(c.startTime)
	log.Printf("PULSE session=%s runs=%d crashes=%d coverage=%d elapsed=%s", c.sessionID, c.runs, c.crashCount, c.master.TotalCoverage(), elapsed.Round(time.Second))

	if c.cfg.Reporter != nil {
		execPerSec := 0.0
		if s := elapsed.Seconds(); s > 0 {
			execPerSec = float64(c.runs) / s
		}
		c.cfg.Reporter.UpdatePulse(c.runs, execPerSec)
	}
}

func (c *Controller) handleCrash(e *protocol.Error) {
	isNew := c.master.StoreCoverage(e.Covered)
	if !isNew {
		return
	}
	c.crashCount++
	if err := os.MkdirAll(c.cfg.CrashDir, 0o755); err != nil {
		log.Printf("controller: cannot create crash dir %s: %v", c.cfg.CrashDir, err)
		return
	}
	digest := sha256Hex(e.Data)
	name := fmt.Sprintf("crash-%s", digest)
	path := filepath.Join(c.cfg.CrashDir, name)
	if err := os.WriteFile(path, e.Data, 0o644); err != nil {
		log.Printf("controller: failed to write crash artifact %s: %v", path, err)
	}

	if c.cfg.Reporter != nil {
		c.cfg.Reporter.RecordCrash(digest, e.Message, len(e.Data))
	}
}

func (c *Controller) handleReport(r *protocol.Report, reporter int, workers []*fuzzworker.Worker) {
	isNew := c.master.StoreCoverage(r.Covered)
	if !isNew {
		return
	}
	log.Printf("NEW session=%s coverage=%d size=%d", c.sessionID, c.master.TotalCoverage(), len(r.Data))
	c.master.PutInput(r.Data)
	if err := c.master.Save(); err != nil {
		log.Printf("controller: failed to save snapshot: %v", err)
	}

	if c.cfg.Reporter != nil {
		c.cfg.Reporter.UpdateCoverage(c.master.TotalCoverage(), c.master.Len())
	}

	update := protocol.Update{Data: r.Data, Covered: r.Covered}
	for _, w := range workers {
		if w.ID == reporter {
			continue
		}
		select {
		case w.Updates() <- update:
		default:
			log.Printf("controller: update channel full for worker %d, dropping broadcast", w.ID)
		}
	}
}

// SessionID returns the identifier stamped into this controller's PULSE
// and NEW log lines, letting multiple concurrent runs against the same
// crash directory be told apart in shared logs or dashboards.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// RunRegression replays every artifact in crashDir against a fresh,
// seedless state and logs only those whose edge set was not already
// implied by an earlier artifact in the directory: a crash reproduces a
// genuinely distinct failure only if no prior replay already covers its
// edges. It never writes crash artifacts or a snapshot; it is a
// read-only pass over an existing crash directory; it exits clean once
// every artifact is replayed and returns ExitInternalBug if the state
// cannot be built, the directory cannot be read or ctx is cancelled.
// Artifacts that still reproduce are additionally fuzzy-hash clustered so
// near-duplicate crashes (same failure, slightly different bytes) are
// summarized under one representative rather than listed individually.
func (c *Controller) RunRegression(ctx context.Context, crashDir string) (int, error) {
	regression, err := fuzzstate.New(fuzzstate.Config{MaxInputSize: c.cfg.State.MaxInputSize})
	if err != nil {
		return ExitInternalBug, err
	}

	entries, err := os.ReadDir(crashDir)
	if err != nil {
		return ExitInternalBug, fmt.Errorf("controller: cannot read crash directory %s: %w", crashDir, err)
	}

	var members []triage.Member
	distinct := 0
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ExitInternalBug, ctx.Err()
		default:
		}
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(crashDir, e.Name()))
		if err != nil {
			log.Printf("controller: regression: skipping %s: %v", e.Name(), err)
			continue
		}

		covered := c.runOnceForReplay(data)
		if covered == nil {
			continue
		}
		members = append(members, triage.Member{Path: e.Name(), Data: data})
		if isNew := regression.StoreCoverage(covered); isNew {
			distinct++
			log.Printf("REGRESSION session=%s file=%s edges=%d distinct", c.sessionID, e.Name(), len(covered))
		}
	}

	clusters := triage.Group(members, triage.DefaultDistanceThreshold)
	for _, cl := range clusters {
		log.Printf("REGRESSION session=%s cluster rep=%s members=%d", c.sessionID, cl.Representative.Path, cl.Count())
	}

	log.Printf("REGRESSION session=%s total=%d reproduced=%d distinct=%d clusters=%d", c.sessionID, len(entries), len(members), distinct, len(clusters))
	return ExitClean, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

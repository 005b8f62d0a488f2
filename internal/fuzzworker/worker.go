// Package fuzzworker runs the per-goroutine fuzzing loop: reset the
// tracer, drain pending updates, mutate an input, run the target, and
// report what happened.
package fuzzworker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/fluxfuzzer/edgefuzz/internal/fuzzstate"
	"github.com/fluxfuzzer/edgefuzz/internal/protocol"
	"github.com/fluxfuzzer/edgefuzz/internal/tracer"
	"golang.org/x/time/rate"
)

// Target is the function under test. Returning normally means "no
// crash"; panicking means "crash", and the panic's call stack is the
// crash signature.
type Target func(data []byte, tr *tracer.LineTracer)

// Worker owns one goroutine's private coverage view. It never touches
// the crash directory or the snapshot file; that is the controller's
// job.
type Worker struct {
	ID     int
	state  *fuzzstate.State
	tracer *tracer.LineTracer
	target Target

	updates chan protocol.Update
	results chan<- protocol.Result

	statFrequency time.Duration
	lastStatus    time.Time
	runs          int64

	limiter *rate.Limiter
}

// New builds a worker with its own state and tracer. updateBuffer bounds
// the per-worker update channel; the controller's broadcast does not
// wait on a full channel, it drops that update for this worker and logs
// it, so a slow worker can miss updates. A
// maxExecRate of 0 disables pacing; otherwise the worker blocks before
// each target call so execs stay at or below maxExecRate per second,
// useful for targets that are expensive to invoke.
func New(id int, state *fuzzstate.State, target Target, results chan<- protocol.Result, updateBuffer int, statFrequency time.Duration, maxExecRate float64) *Worker {
	w := &Worker{
		ID:            id,
		state:         state,
		tracer:        tracer.NewLineTracer(),
		target:        target,
		updates:       make(chan protocol.Update, updateBuffer),
		results:       results,
		statFrequency: statFrequency,
	}
	if maxExecRate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(maxExecRate), 1)
	}
	return w
}

// Updates returns the channel the controller broadcasts Update messages
// on; sends here must not block the controller for long, which is why
// the channel is buffered.
func (w *Worker) Updates() chan<- protocol.Update {
	return w.updates
}

// Run drives the loop until ctx is cancelled. Any panic escaping the
// loop itself (not the target, which is recovered separately) is
// reported as a Bug and the worker exits.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.emit(protocol.Result{WorkerID: w.ID, Bug: &protocol.Bug{
				Message: fmt.Sprintf("worker %d panicked: %v\n%s", w.ID, r, debug.Stack()),
			}})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.runOnce(ctx)
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	w.tracer.Reset()
	w.drainUpdates()

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return // context cancelled while waiting for a token
		}
	}

	data, err := w.state.GetInput()
	if err != nil {
		w.emit(protocol.Result{WorkerID: w.ID, Bug: &protocol.Bug{
			Message: fmt.Sprintf("worker %d: %v", w.ID, err),
		}})
		return
	}

	w.runs++
	w.runTarget(ctx, data)
}

// drainUpdates folds every pending Update into this worker's coverage
// view without reinforcing the mutator: another worker's discovery is a
// fact about the target, not evidence that this worker's own sampling
// choices are working.
func (w *Worker) drainUpdates() {
	for {
		select {
		case u := <-w.updates:
			w.state.PutInput(u.Data)
			w.state.StoreCoverage(u.Covered)
		default:
			return
		}
	}
}

func (w *Worker) runTarget(ctx context.Context, data []byte) {
	var crashMessage string
	var crashed bool

	func() {
		defer func() {
			if r := recover(); r != nil {
				crashed = true
				crashMessage = fmt.Sprintf("%v\n%s", r, debug.Stack())
			}
		}()
		w.target(data, w.tracer)
	}()

	if crashed {
		covered := tracer.CoveredFromPanic(0)
		w.emit(protocol.Result{WorkerID: w.ID, Err: &protocol.Error{
			Runs:    w.runs,
			Data:    data,
			Covered: covered,
			Message: crashMessage,
		}})
		return
	}

	covered := w.tracer.Covered()
	isNew := w.state.StoreCoverage(covered)
	w.state.Update(isNew)

	if isNew {
		w.emit(protocol.Result{WorkerID: w.ID, Report: &protocol.Report{
			Runs:    w.runs,
			Data:    data,
			Covered: covered,
		}})
		w.lastStatus = time.Time{}
		return
	}

	if time.Since(w.lastStatus) >= w.statFrequency {
		w.lastStatus = time.Now()
		w.emit(protocol.Result{WorkerID: w.ID, Status: &protocol.Status{Runs: w.runs, At: time.Now()}})
	}
}

func (w *Worker) emit(r protocol.Result) {
	w.results <- r
}

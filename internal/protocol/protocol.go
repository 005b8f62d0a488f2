// Package protocol defines the messages workers and the controller
// exchange over Go channels: Status, Report, Error, and Bug travel
// worker to controller; Update travels controller to worker.
package protocol

import (
	"time"

	"github.com/fluxfuzzer/edgefuzz/pkg/types"
)

// Result is the sum of the four message kinds a worker can emit. Exactly
// one of Status, Report, Err, or Bug is non-nil.
type Result struct {
	WorkerID int
	Status   *Status
	Report   *Report
	Err      *Error
	Bug      *Bug
}

// Status is a periodic heartbeat carrying no new information, emitted at
// most once every stat-frequency interval while a worker makes no
// progress.
type Status struct {
	Runs int64
	At   time.Time
}

// Report announces that an input reached previously uncovered edges.
// Runs is the emitting worker's cumulative execution count as of this
// run, letting the controller track a precise total without waiting for
// the next Status heartbeat.
type Report struct {
	Runs    int64
	Data    []byte
	Covered types.EdgeSet
}

// Error announces that the target raised during this run. Covered holds
// the edges reconstructed from the panic's call stack. Runs is the
// emitting worker's cumulative execution count as of this run.
type Error struct {
	Runs    int64
	Data    []byte
	Covered types.EdgeSet
	Message string
}

// Bug reports a failure inside the worker's own loop, as opposed to the
// target under test. The controller treats this as fatal: it terminates
// every worker and exits with an internal-error message.
type Bug struct {
	Message string
}

// Update is broadcast by the controller to every worker except the one
// whose Report produced it, so they fold the new input and its edges
// into their own coverage view without treating it as their own success.
type Update struct {
	Data    []byte
	Covered types.EdgeSet
}

// Package tracer records the (previous line, current line) edges a run
// passes through so the controller can tell whether an input reached
// somewhere new.
package tracer

import (
	"runtime"

	"github.com/fluxfuzzer/edgefuzz/pkg/types"
)

// Tracer is the host-runtime collaborator a worker drives across one
// execution of the target. Go has no interpreter-level per-line hook, so
// instrumented targets call Hit explicitly at the points they want
// tracked. LineTracer is its only implementation, and the worker and
// Target signatures take *LineTracer directly rather than a Tracer.
type Tracer interface {
	Reset()
	Hit(file string, line int)
	Covered() types.EdgeSet
}

// LineTracer is the concrete Tracer. It is owned by exactly one worker
// goroutine at a time and carries no package-level state, so concurrent
// workers never share a tracer instance.
type LineTracer struct {
	prevFile string
	prevLine int
	hasPrev  bool

	edges types.EdgeSet
}

// NewLineTracer returns a tracer ready for its first run.
func NewLineTracer() *LineTracer {
	return &LineTracer{edges: make(types.EdgeSet)}
}

// Reset clears accumulated edges and predecessor state, readying the
// tracer for the next execution of the target.
func (t *LineTracer) Reset() {
	t.hasPrev = false
	t.prevFile = ""
	t.prevLine = 0
	t.edges = make(types.EdgeSet)
}

// Hit records the edge from the previously hit line to (file, line).
// The first call after Reset, or the first call after crossing into a
// new file, records an edge with nil predecessors.
func (t *LineTracer) Hit(file string, line int) {
	e := types.Edge{CurFile: file, CurLine: line}
	if t.hasPrev && t.prevFile == file {
		e.HasPrev = true
		e.PrevFile = t.prevFile
		e.PrevLine = t.prevLine
	}
	t.edges[e] = struct{}{}
	t.prevFile = file
	t.prevLine = line
	t.hasPrev = true
}

// Covered returns the edge set accumulated since the last Reset. The
// caller owns the returned set; Covered never returns the tracer's
// internal map.
func (t *LineTracer) Covered() types.EdgeSet {
	return t.edges.Clone()
}

// CoveredFromPanic builds an edge set from a recovered panic's call
// stack, the Go analogue of the reference tracer's
// "exception traceback" coverage fallback: a crashing run still counts
// as covering every frame between the panic site and the worker's
// recover point. Frames run outermost-to-innermost, matching the order
// Hit would have recorded them in during a normal execution.
func CoveredFromPanic(skip int) types.EdgeSet {
	pc := make([]uintptr, 64)
	n := runtime.Callers(skip+1, pc)
	frames := runtime.CallersFrames(pc[:n])

	type loc struct {
		file string
		line int
	}
	var locs []loc
	for {
		frame, more := frames.Next()
		locs = append(locs, loc{frame.File, frame.Line})
		if !more {
			break
		}
	}

	edges := make(types.EdgeSet, len(locs))
	for i := len(locs) - 1; i >= 0; i-- {
		cur := locs[i]
		e := types.Edge{CurFile: cur.file, CurLine: cur.line}
		if i != len(locs)-1 {
			prev := locs[i+1]
			if prev.file == cur.file {
				e.HasPrev = true
				e.PrevFile = prev.file
				e.PrevLine = prev.line
			}
		}
		edges[e] = struct{}{}
	}
	return edges
}

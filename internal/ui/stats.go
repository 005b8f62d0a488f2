// Package ui provides statistics display components for the fuzz dashboard.
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stats holds live fuzzing statistics, updated from controller pulses.
type Stats struct {
	mu sync.RWMutex

	StartTime time.Time

	Executions    int64
	CoverageEdges int
	CorpusSize    int
	CrashCount    int
	BugCount      int

	LastNewCoverage time.Time

	execHistory    []int64
	lastExecUpdate time.Time
	execsAtLast    int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		StartTime:   time.Now(),
		execHistory: make([]int64, 0, 60),
	}
}

// RecordPulse folds a controller status pulse into the running totals.
func (s *Stats) RecordPulse(executions int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Executions = executions
}

// RecordNewCoverage records a worker report that grew total edge coverage.
func (s *Stats) RecordNewCoverage(totalEdges, corpusSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CoverageEdges = totalEdges
	s.CorpusSize = corpusSize
	s.LastNewCoverage = time.Now()
}

// RecordCrash records a newly written crash artifact.
func (s *Stats) RecordCrash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CrashCount++
}

// RecordBug records an internal worker bug (distinct from a crash artifact).
func (s *Stats) RecordBug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BugCount++
}

// ExecPerSec returns the average executions-per-second since start.
func (s *Stats) ExecPerSec() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed < 1 {
		return 0
	}
	return float64(s.Executions) / elapsed
}

// GetElapsedTime returns the elapsed time since start.
func (s *Stats) GetElapsedTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.StartTime)
}

// Snapshot returns an immutable copy of the current stats.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elapsed := time.Since(s.StartTime).Seconds()
	eps := 0.0
	if elapsed >= 1 {
		eps = float64(s.Executions) / elapsed
	}

	return StatsSnapshot{
		Executions:      s.Executions,
		ExecPerSec:      eps,
		CoverageEdges:   s.CoverageEdges,
		CorpusSize:      s.CorpusSize,
		CrashCount:      s.CrashCount,
		BugCount:        s.BugCount,
		ElapsedTime:     time.Since(s.StartTime),
		LastNewCoverage: s.LastNewCoverage,
	}
}

// StatsSnapshot is an immutable snapshot of Stats.
type StatsSnapshot struct {
	Executions      int64
	ExecPerSec      float64
	CoverageEdges   int
	CorpusSize      int
	CrashCount      int
	BugCount        int
	ElapsedTime     time.Duration
	LastNewCoverage time.Time
}

// StatsView renders the statistics panel.
type StatsView struct {
	width  int
	height int
}

// NewStatsView creates a new stats view.
func NewStatsView(width, height int) *StatsView {
	return &StatsView{width: width, height: height}
}

// SetSize updates the view size.
func (v *StatsView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// Render renders the stats view.
func (v *StatsView) Render(snap StatsSnapshot) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("Coverage"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Edges", formatNumber(int64(snap.CoverageEdges))))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Corpus", formatNumber(int64(snap.CorpusSize))))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("Throughput"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Executions", formatNumber(snap.Executions)))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Exec/s", fmt.Sprintf("%.1f", snap.ExecPerSec)))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Elapsed", formatDuration(snap.ElapsedTime)))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("Crashes"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Artifacts", formatNumber(int64(snap.CrashCount))))
	b.WriteString("\n")
	if snap.BugCount > 0 {
		b.WriteString(BugSeverityStyle.Render(fmt.Sprintf("Internal bugs: %d", snap.BugCount)))
		b.WriteString("\n")
	}

	return StatsPanelStyle.Width(v.width).Render(b.String())
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// Package ui provides a TUI dashboard for a running fuzz campaign.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Status represents the dashboard's run state.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusStopped
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusRunning:
		return "Running"
	case StatusPaused:
		return "Paused"
	case StatusStopped:
		return "Stopped"
	case StatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// LogEntry represents one line in the dashboard's activity log. Level is
// one of PULSE, NEW, CRASH, BUG, or INFO.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Dashboard is the bubbletea model backing `edgefuzz fuzz`'s TUI.
type Dashboard struct {
	width  int
	height int

	status    Status
	stats     *Stats
	statsView *StatsView
	progress  *ProgressView
	spinner   *SpinnerProgress

	logs    []LogEntry
	maxLogs int

	target  string
	maxRuns int64

	tickCount int
}

// NewDashboard creates a new dashboard instance.
func NewDashboard() *Dashboard {
	return &Dashboard{
		width:     80,
		height:    24,
		status:    StatusIdle,
		stats:     NewStats(),
		statsView: NewStatsView(40, 15),
		progress:  NewProgressView(70),
		spinner:   NewSpinnerProgress(),
		logs:      make([]LogEntry, 0, 100),
		maxLogs:   50,
	}
}

// SetTarget sets the display name of the fuzz target.
func (d *Dashboard) SetTarget(name string) {
	d.target = name
}

// SetRunBudget tells the dashboard how many total runs the campaign is
// budgeted for; 0 means unbounded, and no progress panel is shown.
func (d *Dashboard) SetRunBudget(maxRuns int64) {
	d.maxRuns = maxRuns
}

// AddLog adds a log entry, trimming to maxLogs.
func (d *Dashboard) AddLog(level, message string) {
	d.logs = append(d.logs, LogEntry{Time: time.Now(), Level: level, Message: message})
	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
}

// Stats returns the stats tracker for external updates from the controller.
func (d *Dashboard) Stats() *Stats {
	return d.stats
}

// Start marks the campaign as running.
func (d *Dashboard) Start() {
	d.status = StatusRunning
	d.spinner.Start()
	d.AddLog("INFO", "fuzzing started")
}

// Pause marks the campaign as paused.
func (d *Dashboard) Pause() {
	d.status = StatusPaused
	d.spinner.Stop()
	d.AddLog("INFO", "fuzzing paused")
}

// Resume marks the campaign as running again after a pause.
func (d *Dashboard) Resume() {
	d.status = StatusRunning
	d.spinner.Start()
	d.AddLog("INFO", "fuzzing resumed")
}

// Stop marks the campaign as stopped.
func (d *Dashboard) Stop() {
	d.status = StatusStopped
	d.spinner.Stop()
	d.AddLog("INFO", "fuzzing stopped")
}

// Complete marks the campaign as finished.
func (d *Dashboard) Complete() {
	d.status = StatusCompleted
	d.spinner.Stop()
	d.AddLog("INFO", "fuzzing completed")
}

// PulseMsg updates throughput from a controller status pulse.
type PulseMsg struct{ Executions int64 }

// NewCoverageMsg reports a worker finding new coverage.
type NewCoverageMsg struct {
	TotalEdges int
	CorpusSize int
}

// CrashMsg reports a newly written crash artifact.
type CrashMsg struct{ Digest string }

// BugMsg reports an internal worker bug.
type BugMsg struct{ Message string }

// TickMsg is sent on each animation tick.
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Init satisfies tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

// Update satisfies tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return d, tea.Quit
		case "p":
			if d.status == StatusRunning {
				d.Pause()
			} else if d.status == StatusPaused {
				d.Resume()
			}
		case "s":
			if d.status == StatusRunning || d.status == StatusPaused {
				d.Stop()
			}
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.statsView.SetSize(d.width/3, d.height-10)
		d.progress.SetSize(d.width - 4)

	case PulseMsg:
		d.stats.RecordPulse(msg.Executions)
		d.AddLog("PULSE", fmt.Sprintf("%s executions", formatNumber(msg.Executions)))

	case NewCoverageMsg:
		d.stats.RecordNewCoverage(msg.TotalEdges, msg.CorpusSize)
		d.AddLog("NEW", fmt.Sprintf("coverage grew to %d edges, corpus %d", msg.TotalEdges, msg.CorpusSize))

	case CrashMsg:
		d.stats.RecordCrash()
		d.AddLog("CRASH", "artifact "+msg.Digest)

	case BugMsg:
		d.stats.RecordBug()
		d.AddLog("BUG", msg.Message)

	case TickMsg:
		d.tickCount++
		d.spinner.Tick()

		snap := d.stats.Snapshot()
		if d.maxRuns > 0 {
			d.progress.Update(snap.Executions, d.maxRuns, snap.ExecPerSec)
		}
		return d, tickCmd()
	}

	return d, nil
}

// View satisfies tea.Model.
func (d *Dashboard) View() string {
	if d.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(d.renderHeader())
	b.WriteString("\n")

	main := lipgloss.JoinHorizontal(lipgloss.Top, d.renderStatsPanel(), d.renderLogPanel())
	b.WriteString(main)
	b.WriteString("\n")

	if d.maxRuns > 0 {
		b.WriteString(d.progress.Render())
		b.WriteString("\n")
	}

	b.WriteString(d.renderFooter())
	return b.String()
}

func (d *Dashboard) renderHeader() string {
	title := TitleStyle.Render("edgefuzz")

	var statusText string
	switch d.status {
	case StatusRunning:
		statusText = RunningStyle.Render("● RUNNING")
	case StatusPaused:
		statusText = PausedStyle.Render("⏸ PAUSED")
	case StatusStopped:
		statusText = StoppedStyle.Render("■ STOPPED")
	case StatusCompleted:
		statusText = SuccessStyle.Render("✓ COMPLETED")
	default:
		statusText = HelpStyle.Render("○ IDLE")
	}

	target := ""
	if d.target != "" {
		target = LabelStyle.Render("Target: ") + InfoStyle.Render(d.target)
	}

	leftSide := title + "  " + statusText
	padding := d.width - lipgloss.Width(leftSide) - lipgloss.Width(target) - 2
	if padding < 0 {
		padding = 0
	}

	return BoxStyle.Width(d.width - 2).Render(leftSide + strings.Repeat(" ", padding) + target)
}

func (d *Dashboard) renderStatsPanel() string {
	return d.statsView.Render(d.stats.Snapshot())
}

func (d *Dashboard) renderLogPanel() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Activity"))
	b.WriteString("\n\n")

	start := 0
	if len(d.logs) > 8 {
		start = len(d.logs) - 8
	}

	for i := start; i < len(d.logs); i++ {
		entry := d.logs[i]
		timeStr := entry.Time.Format("15:04:05")

		var levelStyle lipgloss.Style
		switch entry.Level {
		case "CRASH":
			levelStyle = ErrorStyle
		case "BUG":
			levelStyle = BugSeverityStyle
		case "NEW":
			levelStyle = SuccessStyle
		case "PULSE":
			levelStyle = InfoStyle
		default:
			levelStyle = HelpStyle
		}

		line := fmt.Sprintf("%s %s %s",
			HelpStyle.Render(timeStr),
			levelStyle.Render(fmt.Sprintf("%-5s", entry.Level)),
			entry.Message,
		)

		if len(line) > d.width/2-10 {
			line = line[:d.width/2-13] + "..."
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	return LogPanelStyle.Width(d.width/2 - 4).Render(b.String())
}

func (d *Dashboard) renderFooter() string {
	var helps []string
	switch d.status {
	case StatusRunning:
		helps = append(helps, RenderHelp("p", "pause"), RenderHelp("s", "stop"))
	case StatusPaused:
		helps = append(helps, RenderHelp("p", "resume"), RenderHelp("s", "stop"))
	}
	helps = append(helps, RenderHelp("q", "quit"))
	return FooterStyle.Render(strings.Join(helps, "  "))
}

// Run starts the TUI application, blocking until the user quits.
func Run(d *Dashboard) error {
	p := tea.NewProgram(d, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram returns the tea.Program for external control (feeding it
// Pulse/NewCoverage/Crash/Bug messages from the controller goroutine).
func RunWithProgram(d *Dashboard) *tea.Program {
	return tea.NewProgram(d, tea.WithAltScreen())
}

// ProgramReporter adapts a running *tea.Program to a controller's
// event-reporting interface so the controller package need not import
// bubbletea itself; it only needs a value with these four methods.
type ProgramReporter struct {
	Program *tea.Program
}

func (r ProgramReporter) UpdatePulse(executions int64, execPerSec float64) {
	r.Program.Send(PulseMsg{Executions: executions})
}

func (r ProgramReporter) UpdateCoverage(edges, corpusSize int) {
	r.Program.Send(NewCoverageMsg{TotalEdges: edges, CorpusSize: corpusSize})
}

func (r ProgramReporter) RecordCrash(digest, message string, size int) {
	r.Program.Send(CrashMsg{Digest: digest})
}

func (r ProgramReporter) RecordBug() {
	r.Program.Send(BugMsg{Message: "internal bug reported"})
}

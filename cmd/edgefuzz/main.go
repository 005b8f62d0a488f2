// edgefuzz - coverage-guided, in-process byte-string fuzzer
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fluxfuzzer/edgefuzz/internal/config"
	"github.com/fluxfuzzer/edgefuzz/internal/controller"
	"github.com/fluxfuzzer/edgefuzz/internal/fuzzstate"
	"github.com/fluxfuzzer/edgefuzz/internal/harness"
	"github.com/fluxfuzzer/edgefuzz/internal/prune"
	"github.com/fluxfuzzer/edgefuzz/internal/simplify"
	"github.com/fluxfuzzer/edgefuzz/internal/ui"
	"github.com/fluxfuzzer/edgefuzz/internal/web"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// Exit code 3 is reserved by spec.md for "missing subcommand"; it is not
// one of the controller's own exit codes.
const exitMissingSubcommand = 3

var (
	crashDir   string
	configFile string

	targetName       string
	numWorkers       int
	maxInputSize     int
	maxInsertLength  int
	maxModifications int
	closeStdout      bool
	closeStderr      bool
	maxCrashes       int
	maxRuns          int64
	maxTime          time.Duration
	adaptive         bool
	stateFile        string
	dictionaryPath   string
	maxExecRate      float64
	enableTUI        bool
	webListen        string
	loadCrashes      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgefuzz",
		Short: "edgefuzz - coverage-guided, in-process byte-string fuzzer",
		Long: ui.Banner + `
edgefuzz repeatedly mutates byte-string inputs, runs them against a
target function, and keeps any input that reaches previously unseen
edges of the target's control-flow graph. Inputs that make the target
panic are persisted as crash artifacts under --crash-dir.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("missing subcommand; run with --help to see 'fuzz', 'show', 'simp', 'prune', 'web', or 'version'")
		},
	}
	rootCmd.PersistentFlags().StringVar(&crashDir, "crash-dir", "crashes", "directory holding crash artifacts")

	rootCmd.AddCommand(
		newFuzzCmd(),
		newShowCmd(),
		newSimpCmd(),
		newPruneCmd(),
		newWebCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[!] %v\n", err)
		if strings.Contains(err.Error(), "missing subcommand") {
			os.Exit(exitMissingSubcommand)
		}
		os.Exit(controller.ExitInternalBug)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("edgefuzz version %s\n", version)
			return nil
		},
	}
}

func newFuzzCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuzz [seed paths...]",
		Short: "run the coverage-guided fuzz loop against a target",
		RunE:  runFuzz,
	}

	cmd.Flags().StringVar(&targetName, "target", "noop", "built-in target to fuzz: "+strings.Join(harness.Names(), ", "))
	cmd.Flags().IntVar(&numWorkers, "num-workers", 0, "worker goroutines; 0 means CPU count minus one")
	cmd.Flags().IntVar(&maxInputSize, "max-input-size", 4096, "cap on mutated input length in bytes")
	cmd.Flags().IntVar(&maxInsertLength, "max-insert-length", 16, "cap on bytes an insert-range mutation adds")
	cmd.Flags().IntVar(&maxModifications, "max-modifications", 8, "cap on mutation operators applied per input")
	cmd.Flags().BoolVar(&closeStdout, "close-stdout", false, "redirect the process's stdout to /dev/null while fuzzing")
	cmd.Flags().BoolVar(&closeStderr, "close-stderr", false, "redirect the process's stderr to /dev/null while fuzzing")
	cmd.Flags().IntVar(&maxCrashes, "max-crashes", 0, "stop after this many distinct crashes; 0 means unbounded")
	cmd.Flags().Int64Var(&maxRuns, "max-runs", 0, "stop after this many total runs; 0 means unbounded")
	cmd.Flags().DurationVar(&maxTime, "max-time", 0, "stop after this much wall-clock time; 0 means unbounded")
	cmd.Flags().BoolVar(&adaptive, "adaptive", true, "let mutation/operator samplers adapt to success feedback (--adaptive=false disables; there is no separate --non-adaptive flag)")
	cmd.Flags().StringVar(&stateFile, "state-file", "", "path to a persistent coverage/corpus snapshot")
	cmd.Flags().StringVar(&dictionaryPath, "dictionary", "", "path to a newline-delimited dictionary file for the dictionary-insert operator")
	cmd.Flags().Float64Var(&maxExecRate, "max-exec-rate", 0, "cap target invocations per second per worker; 0 disables pacing")
	cmd.Flags().BoolVar(&enableTUI, "tui", false, "show a live TUI dashboard instead of plain log lines")
	cmd.Flags().StringVar(&webListen, "web-listen", "", "if set, also serve a read-only dashboard at this address (e.g. :8791)")
	cmd.Flags().BoolVar(&loadCrashes, "load-crashes", false, "replay crash-dir before fuzzing so its edges suppress duplicate crash reports")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file; CLI flags override its values")

	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "regression mode: replay crash-dir and report distinct reproducers",
		RunE:  runShow,
	}
}

func newSimpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simp",
		Short: "shrink every crash artifact in crash-dir to a minimal reproducer",
		RunE:  runSimp,
	}
	cmd.Flags().StringVar(&targetName, "target", "noop", "built-in target the artifacts crash against")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file")
	return cmd
}

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "delete crash artifacts that no longer reproduce",
		RunE:  runPrune,
	}
	cmd.Flags().StringVar(&targetName, "target", "noop", "built-in target the artifacts crash against")
	return cmd
}

func newWebCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "web",
		Short: "serve a standalone read-only dashboard (no active fuzz run)",
		RunE:  runWeb,
	}
	cmd.Flags().StringVar(&webListen, "listen", "", "listen address; defaults to the config file's cluster.listen_address")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file")
	return cmd
}

func runFuzz(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	overlayFuzzFlags(cmd, cfg)

	target, ok := harness.Named(targetName)
	if !ok {
		return fmt.Errorf("unknown target %q; known targets: %s", targetName, strings.Join(harness.Names(), ", "))
	}

	if cfg.Fuzz.CloseStdout {
		if f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0); err == nil {
			os.Stdout = f
		}
	}
	if cfg.Fuzz.CloseStderr {
		if f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0); err == nil {
			os.Stderr = f
		}
	}

	workers := cfg.Fuzz.NumWorkers
	if workers < 1 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}

	var dictionary [][]byte
	if cfg.Fuzz.Dictionary != "" {
		dictionary, err = loadDictionary(cfg.Fuzz.Dictionary)
		if err != nil {
			return err
		}
	}

	simplifier, err := simplify.New(simplify.Target(target), cfg.Simplify.TimeBudget, cfg.Simplify.NumWorkers)
	if err != nil {
		return err
	}
	defer simplifier.Close()

	var reporter controller.Reporter
	var program *tea.Program
	if cfg.Output.EnableTUI {
		program = startTUI(targetName, cfg.Fuzz.MaxRuns)
		reporter = ui.ProgramReporter{Program: program}
	}
	var server *web.Server
	if webListen != "" {
		server = web.NewServer(targetName)
		go func() {
			if err := server.Start(webListen); err != nil {
				fmt.Fprintf(os.Stderr, "[!] web dashboard error: %v\n", err)
			}
		}()
		if reporter == nil {
			reporter = server
		} else {
			reporter = multiReporter{reporter, server}
		}
	}

	ctrl, err := controller.New(controller.Config{
		NumWorkers:    workers,
		MaxRuns:       cfg.Fuzz.MaxRuns,
		MaxTime:       cfg.Fuzz.MaxTime,
		MaxCrashes:    cfg.Fuzz.MaxCrashes,
		CrashDir:      crashDir,
		StatFrequency: cfg.Fuzz.StatFrequency,
		UpdateBuffer:  32,
		LoadCrashes:   cfg.Fuzz.LoadCrashes,
		MaxExecRate:   cfg.Fuzz.MaxExecRate,
		Reporter:      reporter,
		State: fuzzstate.Config{
			Seeds:            args,
			MaxInputSize:     cfg.Fuzz.MaxInputSize,
			MaxModifications: cfg.Fuzz.MaxModifications,
			MaxInsertLength:  cfg.Fuzz.MaxInsertLength,
			NonAdaptive:      !cfg.Fuzz.Adaptive,
			Dictionary:       dictionary,
			SnapshotPath:     cfg.Fuzz.StateFile,
		},
		Simplify: func(dir string) error { return simplifier.Dir(dir, dir) },
	}, target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if program != nil {
		go func() { _, _ = program.Run() }()
	}

	exitCode, runErr := ctrl.Run(ctx)
	if program != nil {
		program.Quit()
	}
	if server != nil {
		server.Stop()
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "[!] %v\n", runErr)
	}
	os.Exit(exitCode)
	return nil
}

// overlayFuzzFlags applies only the flags the user actually set on the
// command line on top of cfg, which already carries the YAML file (or
// defaults) loaded by config.Load. This matches the teacher's "CLI flags
// overlay a config file" contract without silently clobbering YAML
// values with a flag's zero default.
func overlayFuzzFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("num-workers") {
		cfg.Fuzz.NumWorkers = numWorkers
	}
	if f.Changed("max-input-size") {
		cfg.Fuzz.MaxInputSize = maxInputSize
	}
	if f.Changed("max-insert-length") {
		cfg.Fuzz.MaxInsertLength = maxInsertLength
	}
	if f.Changed("max-modifications") {
		cfg.Fuzz.MaxModifications = maxModifications
	}
	if f.Changed("close-stdout") {
		cfg.Fuzz.CloseStdout = closeStdout
	}
	if f.Changed("close-stderr") {
		cfg.Fuzz.CloseStderr = closeStderr
	}
	if f.Changed("max-crashes") {
		cfg.Fuzz.MaxCrashes = maxCrashes
	}
	if f.Changed("max-runs") {
		cfg.Fuzz.MaxRuns = maxRuns
	}
	if f.Changed("max-time") {
		cfg.Fuzz.MaxTime = maxTime
	}
	if f.Changed("adaptive") {
		cfg.Fuzz.Adaptive = adaptive
	}
	if f.Changed("state-file") {
		cfg.Fuzz.StateFile = stateFile
	}
	if f.Changed("dictionary") {
		cfg.Fuzz.Dictionary = dictionaryPath
	}
	if f.Changed("max-exec-rate") {
		cfg.Fuzz.MaxExecRate = maxExecRate
	}
	if f.Changed("tui") {
		cfg.Output.EnableTUI = enableTUI
	}
	if f.Changed("load-crashes") {
		cfg.Fuzz.LoadCrashes = loadCrashes
	}
}

func loadDictionary(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dictionary %s: %w", path, err)
	}
	var words [][]byte
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, []byte(line))
	}
	return words, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	target, ok := harness.Named(targetName)
	if !ok {
		target, _ = harness.Named("noop")
	}
	ctrl, err := controller.New(controller.Config{NumWorkers: 1, CrashDir: crashDir}, target)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	exitCode, err := ctrl.RunRegression(ctx, crashDir)
	if err != nil {
		return err
	}
	os.Exit(exitCode)
	return nil
}

func runSimp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	target, ok := harness.Named(targetName)
	if !ok {
		return fmt.Errorf("unknown target %q", targetName)
	}

	s, err := simplify.New(simplify.Target(target), cfg.Simplify.TimeBudget, cfg.Simplify.NumWorkers)
	if err != nil {
		return err
	}
	defer s.Close()

	outputDir := cfg.Simplify.OutputDir
	if outputDir == "" {
		outputDir = crashDir
	}
	return s.Dir(crashDir, outputDir)
}

func runPrune(cmd *cobra.Command, args []string) error {
	target, ok := harness.Named(targetName)
	if !ok {
		return fmt.Errorf("unknown target %q", targetName)
	}
	return prune.Dir(crashDir, prune.Target(target))
}

func runWeb(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	listen := webListen
	if listen == "" {
		listen = cfg.Cluster.ListenAddress
	}

	server := web.NewServer("(standalone)")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		server.Stop()
	}()

	fmt.Printf("[*] serving read-only dashboard at http://localhost%s\n", listen)
	return server.Start(listen)
}

// multiReporter fans every event out to more than one Reporter, used
// when both a TUI and a web dashboard are active in the same run.
type multiReporter []controller.Reporter

func (m multiReporter) UpdatePulse(executions int64, execPerSec float64) {
	for _, r := range m {
		r.UpdatePulse(executions, execPerSec)
	}
}

func (m multiReporter) UpdateCoverage(edges, corpusSize int) {
	for _, r := range m {
		r.UpdateCoverage(edges, corpusSize)
	}
}

func (m multiReporter) RecordCrash(digest, message string, size int) {
	for _, r := range m {
		r.RecordCrash(digest, message, size)
	}
}

func (m multiReporter) RecordBug() {
	for _, r := range m {
		r.RecordBug()
	}
}

func startTUI(target string, maxRuns int64) *tea.Program {
	d := ui.NewDashboard()
	d.SetTarget(target)
	d.SetRunBudget(maxRuns)
	d.Start()
	return ui.RunWithProgram(d)
}

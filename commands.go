package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// exitCodeError carries a pipeline exit code out of a RunE. The failure was
// already reported, so execute prints nothing for it.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string) int {
	if len(args) == 0 || args[0] != "upgrade" {
		startUpdateCheck()
		defer printUpdateNotice()
	}

	root := NewRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			return ec.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCmd builds the runeval command tree.
func NewRootCmd() *cobra.Command {
	var (
		runOnly    bool
		evalOnly   bool
		model      string
		port       int
		strict     bool
		logsDir    string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "runeval [flags] <prompt>",
		Short: "Run a coding agent on a prompt, then evaluate the result",
		Long: `runeval runs an AI coding agent against a prompt, starts the project's
dev server, drives an evaluation harness against it and extracts the
completion result and screenshot from the harness log.

By default both stages run. --run-only skips the evaluation, --eval-only
evaluates whatever is already in the working directory.`,
		Example: `  runeval "add a dark mode toggle"
  runeval -e -p 4000 "add a dark mode toggle"
  runeval extract logs/ollie.log`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return fmt.Errorf("a prompt is required")
			}

			cfg, err := LoadConfig(GetProjectRoot(), configPath)
			if err != nil {
				return err
			}

			opts := RunOptions{
				Prompt:   promptFromArgs(args),
				RunOnly:  runOnly,
				EvalOnly: evalOnly,
			}
			flags := cmd.Flags()
			if flags.Changed("model") {
				opts.Model = &model
			}
			if flags.Changed("port") {
				opts.Port = &port
			}
			if flags.Changed("strict-checklist") {
				opts.StrictChecklist = &strict
			}
			if flags.Changed("logs-dir") {
				opts.LogsDir = &logsDir
			}

			rc, err := NewRunConfiguration(cfg, opts)
			if err != nil {
				return err
			}
			if code := runPipeline(rc); code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&runOnly, "run-only", "r", false, "Only run the agent, skip evaluation")
	f.BoolVarP(&evalOnly, "eval-only", "e", false, "Only run the evaluation, skip the agent")
	f.StringVarP(&model, "model", "m", defaultModel, "Model identifier passed to the agent and harness")
	f.IntVarP(&port, "port", "p", defaultPort, "Dev server port")
	f.BoolVar(&strict, "strict-checklist", true, "Pass the strict checklist flag to the harness")
	f.StringVar(&logsDir, "logs-dir", "logs", "Directory for logs and artifacts")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to runeval.yaml (default: project root)")

	cmd.AddCommand(
		newExtractCmd(&configPath),
		newInitCmd(),
		newLogsCmd(&configPath),
		newUpgradeCmd(),
		newVersionCmd(),
	)
	return cmd
}

// promptFromArgs joins the positional arguments into one prompt, so an
// unquoted `runeval add a login page` means the same as the quoted form.
func promptFromArgs(args []string) string {
	return strings.Join(args, " ")
}

// resolveLogsDir returns the logs directory from the config, or override
// when set, as an absolute path.
func resolveLogsDir(configPath, override string) (string, *ResolvedConfig, error) {
	cfg, err := LoadConfig(GetProjectRoot(), configPath)
	if err != nil {
		return "", nil, err
	}
	dir := cfg.Config.LogsDir
	if override != "" {
		dir = override
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.ProjectRoot, dir)
	}
	return dir, cfg, nil
}

func newExtractCmd(configPath *string) *cobra.Command {
	var logsDir, format string

	cmd := &cobra.Command{
		Use:   "extract [harness-log]",
		Short: "Extract the completion and screenshot from an existing harness log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, err := resolveLogsDir(*configPath, logsDir)
			if err != nil {
				return err
			}
			paths := logPaths(dir, cfg.Config.Output)

			harnessLog := paths.HarnessLog
			if len(args) == 1 {
				harnessLog = args[0]
			}
			if format == "" {
				format = cfg.Config.Output.CompletionFormat
			}
			if format != CompletionRaw && format != CompletionPretty {
				return fmt.Errorf("--format must be %q or %q", CompletionRaw, CompletionPretty)
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create logs directory: %w", err)
			}

			x := &LogExtractor{Format: format, Out: os.Stdout}
			res := x.Run(harnessLog, paths)
			if res.Empty() {
				fmt.Fprintf(os.Stderr, "Nothing extracted from %s\n", harnessLog)
				return nil
			}
			if res.HasCompletion {
				fmt.Fprintf(os.Stderr, "Wrote %s\n", paths.CompletionFile)
			}
			if len(res.Screenshot) > 0 {
				fmt.Fprintf(os.Stderr, "Wrote %s\n", paths.ScreenshotFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logsDir, "logs-dir", "", "Directory the artifacts are written to")
	cmd.Flags().StringVar(&format, "format", "", "Completion format: raw or pretty (default from config)")
	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default runeval.yaml in the project root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectRoot := GetProjectRoot()
			configPath := ConfigPath(projectRoot)
			if fileExists(configPath) && !force {
				return fmt.Errorf("%s already exists at %s\nUse --force to overwrite", configFileName, configPath)
			}
			if err := WriteDefaultConfig(projectRoot); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Printf("Created %s\n", configPath)
			for _, name := range []string{"pochi", "bun"} {
				if !isCommandAvailable(name) {
					fmt.Printf("  %s %s not found in PATH\n", styleWarning.Render("!"), name)
				}
			}
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  1. Adjust agent, devServer and harness commands in runeval.yaml")
			fmt.Println("  2. Run: runeval \"<prompt>\"")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing runeval.yaml")
	return cmd
}

func newLogsCmd(configPath *string) *cobra.Command {
	var (
		logsDir    string
		runNum     int
		list       bool
		jsonOutput bool
		eventType  string
		stage      string
		tail       int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect run logs",
		Example: `  runeval logs               # latest run, last 50 events
  runeval logs --list        # all runs
  runeval logs --run 2       # run #2
  runeval logs --type error  # only errors`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _, err := resolveLogsDir(*configPath, logsDir)
			if err != nil {
				return err
			}
			runs, err := ListRuns(filepath.Join(dir, "runs"))
			if err != nil {
				return fmt.Errorf("failed to read logs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Printf("No run logs in %s\n", dir)
				return nil
			}

			if list {
				printRunList(runs)
				return nil
			}

			target := &runs[0]
			if runNum > 0 {
				target = nil
				for i := range runs {
					if runs[i].RunNumber == runNum {
						target = &runs[i]
						break
					}
				}
				if target == nil {
					return fmt.Errorf("run #%d not found", runNum)
				}
			}

			filter := &EventFilter{EventType: EventType(eventType), Stage: stage}
			events, err := ReadEvents(target.LogPath, filter)
			if err != nil {
				return fmt.Errorf("failed to read log: %w", err)
			}
			if tail > 0 && len(events) > tail {
				events = events[len(events)-tail:]
			}
			for i := range events {
				if jsonOutput {
					data, _ := json.Marshal(events[i])
					fmt.Println(string(data))
				} else {
					printEvent(&events[i])
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&logsDir, "logs-dir", "", "Logs directory (default from config)")
	f.IntVar(&runNum, "run", 0, "Show a specific run number (default: latest)")
	f.BoolVar(&list, "list", false, "List all runs with summary")
	f.BoolVar(&jsonOutput, "json", false, "Output raw JSONL")
	f.StringVar(&eventType, "type", "", "Filter by event type")
	f.StringVar(&stage, "stage", "", "Filter by stage (run, eval)")
	f.IntVar(&tail, "tail", 50, "Show last N events (0 for all)")
	return cmd
}

func printRunList(runs []RunSummary) {
	for _, run := range runs {
		duration := ""
		if run.EndTime != nil {
			duration = fmt.Sprintf(" (%s)", FormatDuration(run.EndTime.Sub(run.StartTime)))
		}
		mode := ""
		if run.Mode != "" {
			mode = " " + styleLabel.Render("["+run.Mode+"]")
		}
		fmt.Printf("  %s Run #%d - %s%s%s\n", statusMark(run.Success), run.RunNumber,
			run.StartTime.Format("2006-01-02 15:04:05"), duration, mode)
		if run.Summary != "" {
			fmt.Printf("    └─ %s\n", run.Summary)
		}
	}
}

func printEvent(e *Event) {
	ts := e.Timestamp.Format("15:04:05")
	str := func(key string) string {
		s, _ := e.Data[key].(string)
		return s
	}
	duration := ""
	if e.Duration != nil {
		duration = fmt.Sprintf(" (%s)", FormatDuration(time.Duration(*e.Duration)))
	}

	switch e.Type {
	case EventRunStart:
		fmt.Printf("[%s] === Run started: %s, model %s ===\n", ts, str("mode"), str("model"))
	case EventRunEnd:
		fmt.Printf("[%s] === Run ended %s ===\n", ts, statusMark(e.Success))
		if e.Message != "" {
			fmt.Printf("         %s\n", e.Message)
		}
	case EventStageStart:
		fmt.Printf("[%s] ─── Stage %s ───\n", ts, e.Stage)
	case EventStageEnd:
		fmt.Printf("[%s] %s Stage %s complete%s\n", ts, statusMark(e.Success), e.Stage, duration)
	case EventProcessStart:
		fmt.Printf("[%s] → %s started\n", ts, str("name"))
	case EventProcessExit:
		fmt.Printf("[%s] %s %s exited%s\n", ts, statusMark(e.Success), str("name"), duration)
	case EventServiceStart:
		fmt.Printf("[%s] → Service starting: %s\n", ts, str("name"))
	case EventServiceReady:
		fmt.Printf("[%s] %s Service ready: %s%s\n", ts, statusMark(e.Success), str("name"), duration)
	case EventServiceStop:
		fmt.Printf("[%s] ■ Service stopped: %s\n", ts, str("name"))
	case EventArtifactWritten:
		fmt.Printf("[%s]   ◆ %s: %s\n", ts, str("kind"), str("path"))
	case EventSignal:
		fmt.Printf("[%s] %s Signal: %s\n", ts, styleWarning.Render("!"), e.Message)
	case EventWarning:
		fmt.Printf("[%s] %s Warning: %s\n", ts, styleWarning.Render("!"), e.Message)
	case EventExtractionError, EventError:
		fmt.Printf("[%s] %s Error: %s\n", ts, styleFailure.Render("✗"), e.Message)
		if errMsg := str("error"); errMsg != "" {
			fmt.Printf("         %s\n", errMsg)
		}
	default:
		fmt.Printf("[%s] %s", ts, e.Type)
		if e.Stage != "" {
			fmt.Printf(" [%s]", e.Stage)
		}
		if e.Message != "" {
			fmt.Printf(": %s", e.Message)
		}
		fmt.Println()
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Show version information",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("  %s %s\n", styleBrand.Render("runeval"), styleVersion.Render("v"+version))
			fmt.Printf("    %s %s\n", styleLabel.Render("OS/Arch"), runtime.GOOS+"/"+runtime.GOARCH)
			fmt.Printf("    %s      %s\n", styleLabel.Render("Go"), runtime.Version())
		},
	}
}

func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade runeval to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdUpgrade(cmd.Context())
		},
	}
}

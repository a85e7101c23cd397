package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode selects which stages run.
type Mode int

const (
	ModeBoth Mode = iota
	ModeRunOnly
	ModeEvalOnly
)

func (m Mode) String() string {
	switch m {
	case ModeRunOnly:
		return "run-only"
	case ModeEvalOnly:
		return "eval-only"
	default:
		return "both"
	}
}

// ResolveMode maps the two selector flags to a mode. Asking for both
// selectors is the same as asking for neither.
func ResolveMode(runOnly, evalOnly bool) Mode {
	switch {
	case runOnly && !evalOnly:
		return ModeRunOnly
	case evalOnly && !runOnly:
		return ModeEvalOnly
	default:
		return ModeBoth
	}
}

// Steps returns which stages are enabled.
func (m Mode) Steps() (runStep, evalStep bool) {
	switch m {
	case ModeRunOnly:
		return true, false
	case ModeEvalOnly:
		return false, true
	default:
		return true, true
	}
}

// RunOptions are the command-line overrides. nil pointers leave the config
// value in place.
type RunOptions struct {
	Prompt          string
	RunOnly         bool
	EvalOnly        bool
	Model           *string
	Port            *int
	StrictChecklist *bool
	LogsDir         *string
}

// RunConfiguration is resolved once at startup and never changes afterwards.
type RunConfiguration struct {
	Prompt          string
	Model           string
	Mode            Mode
	Port            int
	StrictChecklist bool
	LogsDir         string
	WorkDir         string
	Settings        Config
}

// NewRunConfiguration layers opts over cfg and validates the result.
func NewRunConfiguration(cfg *ResolvedConfig, opts RunOptions) (*RunConfiguration, error) {
	rc := &RunConfiguration{
		Prompt:          opts.Prompt,
		Model:           cfg.Config.Model,
		Mode:            ResolveMode(opts.RunOnly, opts.EvalOnly),
		Port:            cfg.Config.Port,
		StrictChecklist: cfg.Config.StrictChecklist,
		LogsDir:         cfg.Config.LogsDir,
		WorkDir:         cfg.ProjectRoot,
		Settings:        cfg.Config,
	}
	if opts.Model != nil {
		rc.Model = *opts.Model
	}
	if opts.Port != nil {
		rc.Port = *opts.Port
	}
	if opts.StrictChecklist != nil {
		rc.StrictChecklist = *opts.StrictChecklist
	}
	if opts.LogsDir != nil {
		rc.LogsDir = *opts.LogsDir
	}
	if !filepath.IsAbs(rc.LogsDir) {
		rc.LogsDir = filepath.Join(rc.WorkDir, rc.LogsDir)
	}

	if strings.TrimSpace(rc.Prompt) == "" {
		return nil, fmt.Errorf("a prompt is required")
	}
	if strings.TrimSpace(rc.Model) == "" {
		return nil, fmt.Errorf("model must not be empty")
	}
	if err := validatePort(rc.Port); err != nil {
		return nil, err
	}
	return rc, nil
}

// EnsureLogsDir creates the logs directory if absent.
func (rc *RunConfiguration) EnsureLogsDir() error {
	if err := os.MkdirAll(rc.LogsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// URL is the address the dev server listens on.
func (rc *RunConfiguration) URL() string {
	return fmt.Sprintf("http://localhost:%d", rc.Port)
}

// Paths are the files an invocation reads and writes.
type Paths struct {
	DevServerLog   string
	HarnessLog     string
	InstructionLog string
	CompletionFile string
	ScreenshotFile string
	RunsDir        string
	LockFile       string
}

// Paths returns the artifact locations under the logs directory.
func (rc *RunConfiguration) Paths() Paths {
	return logPaths(rc.LogsDir, rc.Settings.Output)
}

func logPaths(logsDir string, out OutputConfig) Paths {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(logsDir, p)
	}
	return Paths{
		DevServerLog:   filepath.Join(logsDir, "dev-server.log"),
		HarnessLog:     filepath.Join(logsDir, "ollie.log"),
		InstructionLog: filepath.Join(logsDir, "instructions.log"),
		CompletionFile: resolve(out.CompletionFile),
		ScreenshotFile: resolve(out.ScreenshotFile),
		RunsDir:        filepath.Join(logsDir, "runs"),
		LockFile:       filepath.Join(logsDir, "runeval.lock"),
	}
}

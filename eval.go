package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// EvalOrchestrator runs the eval stage: dev server in the background, the
// harness in the foreground, then extraction from the harness log.
type EvalOrchestrator struct {
	rc      *RunConfiguration
	paths   Paths
	cleanup *CleanupCoordinator
	logger  *RunLogger
	browser *BrowserCapturer

	// Out is the primary output channel for the extracted completion.
	Out io.Writer
}

// NewEvalOrchestrator wires the eval stage for rc.
func NewEvalOrchestrator(rc *RunConfiguration, cleanup *CleanupCoordinator, logger *RunLogger) *EvalOrchestrator {
	return &EvalOrchestrator{
		rc:      rc,
		paths:   rc.Paths(),
		cleanup: cleanup,
		logger:  logger,
		browser: NewBrowserCapturer(rc.Settings.Browser),
		Out:     os.Stdout,
	}
}

// HarnessArgs returns the harness command line after the command itself.
// Flags configured as empty are left out.
func (e *EvalOrchestrator) HarnessArgs() []string {
	h := e.rc.Settings.Harness
	args := append([]string{}, substitutePort(h.Args, e.rc.Port)...)
	add := func(flag string, values ...string) {
		if flag == "" {
			return
		}
		args = append(args, flag)
		args = append(args, values...)
	}

	add(h.URLFlag, e.rc.URL())
	add(h.DirFlag, e.rc.WorkDir)
	add(h.PromptFlag, e.rc.Prompt)
	if e.rc.StrictChecklist {
		add(h.StrictChecklistFlag)
	}
	add(h.InstructionLogFlag, e.paths.InstructionLog)

	args = append(args, "--")
	add(h.AgentModelFlag, e.rc.Model)
	add(h.StreamJSONFlag)
	return args
}

// Run executes the eval stage. A harness failure is returned as an
// *EvalHarnessError; extraction runs after it only when extractOnFailure is
// set.
func (e *EvalOrchestrator) Run(ctx context.Context) error {
	e.logger.LogPrintln("Starting dev server...")
	ds := NewDevServer(e.rc, e.paths.DevServerLog)
	server, err := ds.Start(e.cleanup)
	if err != nil {
		return err
	}
	e.logger.ServiceStart("dev server", strings.Join(ds.Argv(), " "), server.Pid())
	e.logger.LogPrint("Started dev server (PID %d, logs: %s)\n", server.Pid(), e.paths.DevServerLog)

	readyStart := time.Now()
	switch err := ds.WaitReady(ctx, server); {
	case err == nil:
		e.logger.ServiceReady("dev server", e.rc.URL(), true, time.Since(readyStart).Nanoseconds())
	case errors.Is(err, errNotReady):
		e.logger.ServiceReady("dev server", e.rc.URL(), false, time.Since(readyStart).Nanoseconds())
		e.logger.Warning(fmt.Sprintf("dev server not responding at %s, continuing", e.rc.URL()))
		fmt.Fprintf(os.Stderr, "Warning: dev server not responding at %s after %ds, starting evaluation anyway\n",
			e.rc.URL(), e.rc.Settings.DevServer.ReadyTimeout)
	default:
		return err
	}

	e.logger.LogPrintln("Starting evaluation...")
	code, err := e.runHarness(ctx)
	if err != nil {
		return err
	}

	var harnessErr error
	if code != 0 {
		harnessErr = &EvalHarnessError{ExitCode: code}
		if !e.rc.Settings.Output.ExtractOnFailure {
			return harnessErr
		}
	}

	extractor := &LogExtractor{
		Format: e.rc.Settings.Output.CompletionFormat,
		Logger: e.logger,
		Out:    e.Out,
	}
	if harnessErr != nil {
		// primary output is for successful evaluations only
		extractor.Out = nil
	}
	res := extractor.Run(e.paths.HarnessLog, e.paths)

	if len(res.Screenshot) == 0 && e.browser.Enabled() && server.IsAlive() {
		e.captureFallback(ctx)
	}

	return harnessErr
}

// runHarness runs the harness with stdout redirected to the harness log and
// returns its exit code.
func (e *EvalOrchestrator) runHarness(ctx context.Context) (int, error) {
	sink, err := os.OpenFile(e.paths.HarnessLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return -1, fmt.Errorf("failed to open harness log: %w", err)
	}

	follower := NewHarnessFollower(e.paths.HarnessLog, e.logger, os.Stderr)
	if err := follower.Start(ctx); err != nil {
		e.logger.Warning(fmt.Sprintf("live harness output disabled: %v", err))
	}
	defer follower.Stop()

	return RunForeground(ctx, ProcessSpec{
		Name:    "evaluation harness",
		Command: e.rc.Settings.Harness.Command,
		Args:    e.HarnessArgs(),
		Dir:     e.rc.WorkDir,
		Stdout:  sink,
		Sinks:   []io.Closer{sink},
	}, e.cleanup, e.logger)
}

// captureFallback screenshots the running dev server with a browser.
func (e *EvalOrchestrator) captureFallback(ctx context.Context) {
	e.logger.LogPrintln("No screenshot in harness log, capturing one from the dev server...")
	shot, err := e.browser.Capture(ctx, e.rc.URL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: fallback screenshot failed: %v\n", err)
		e.logger.Warning(fmt.Sprintf("fallback screenshot failed: %v", err))
		return
	}
	for _, msg := range shot.ConsoleErrors {
		e.logger.Warning("browser console error: " + msg)
	}
	if err := AtomicWriteFile(e.paths.ScreenshotFile, shot.Image); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing screenshot: %v\n", err)
		e.logger.Error("failed to write fallback screenshot", err)
		return
	}
	e.logger.ArtifactWritten("screenshot", e.paths.ScreenshotFile, len(shot.Image))
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Pipeline is one top-level invocation: it owns the orchestration context
// (logger, lock, cleanup slot, signal guard) that every stage shares.
type Pipeline struct {
	rc      *RunConfiguration
	paths   Paths
	ctx     context.Context
	cancel  context.CancelFunc
	status  *ExitStatus
	cleanup *CleanupCoordinator
	logger  *RunLogger
	guard   *SignalGuard
	runner  *StageRunner
}

// NewPipeline prepares the logs directory, the run log and the lock, and
// selects the stages for rc.Mode.
func NewPipeline(rc *RunConfiguration) (*Pipeline, error) {
	if err := rc.EnsureLogsDir(); err != nil {
		return nil, err
	}
	paths := rc.Paths()

	logger, err := NewRunLogger(paths.RunsDir, &rc.Settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	lock := NewLockFile(paths.LockFile)
	if err := lock.Acquire(rc.Mode, rc.Port); err != nil {
		logger.Close()
		return nil, err
	}

	cleanup := NewCleanupCoordinator()
	cleanup.SetLogger(logger)
	cleanup.SetLock(lock)

	ctx, cancel := context.WithCancel(context.Background())
	status := &ExitStatus{}
	guard := NewSignalGuard(cleanup, status, cancel)
	guard.SetLogger(logger)

	p := &Pipeline{
		rc:      rc,
		paths:   paths,
		ctx:     ctx,
		cancel:  cancel,
		status:  status,
		cleanup: cleanup,
		logger:  logger,
		guard:   guard,
	}

	eval := NewEvalOrchestrator(rc, cleanup, logger)
	stages := SelectStages(rc.Mode,
		func(ctx context.Context) error { return runAgent(ctx, rc, cleanup, logger) },
		eval.Run,
	)
	p.runner = NewStageRunner(stages, status, logger)
	return p, nil
}

// Run executes the stages and always finishes with a single cleanup. It
// returns the process exit code.
func (p *Pipeline) Run() int {
	defer p.cancel()

	p.guard.Start()

	p.printBanner()
	p.logger.RunStart(p.rc.Mode, p.rc.Model, p.rc.Port, p.rc.Prompt)

	err := p.runner.Execute(p.ctx)

	p.cleanup.Cleanup()

	// after Stop no signal can be caught, so the check below is final
	p.guard.Stop()
	if p.guard.Interrupted() {
		// the guard owns the exit from here
		p.guard.Wait()
		return p.guard.ExitCode()
	}

	summary := "completed"
	if err != nil {
		summary = err.Error()
	}
	p.logger.RunEnd(err == nil, summary)
	p.logger.Close()
	return p.status.Code()
}

func (p *Pipeline) printBanner() {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println(" runeval - Run and Evaluate")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf(" Mode: %s\n", p.rc.Mode)
	fmt.Printf(" Model: %s\n", p.rc.Model)
	fmt.Printf(" Port: %d\n", p.rc.Port)
	fmt.Printf(" Logs: %s\n", p.rc.LogsDir)
	if path := p.logger.LogPath(); path != "" {
		fmt.Printf(" Run: #%d (%s)\n", p.logger.RunNumber(), path)
	}
	fmt.Println(strings.Repeat("=", 60))
}

// runPipeline builds and runs a pipeline for rc.
func runPipeline(rc *RunConfiguration) int {
	p, err := NewPipeline(rc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return p.Run()
}

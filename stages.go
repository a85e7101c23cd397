package main

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Stage names as they appear in the run log
const (
	StageRun  = "run"
	StageEval = "eval"
)

// Stage is one step of the pipeline.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// StageRunner executes stages strictly in order. The first failure stops
// the pipeline.
type StageRunner struct {
	stages []Stage
	status *ExitStatus
	logger *RunLogger
}

// NewStageRunner builds a runner over stages.
func NewStageRunner(stages []Stage, status *ExitStatus, logger *RunLogger) *StageRunner {
	return &StageRunner{stages: stages, status: status, logger: logger}
}

// SelectStages returns the stages enabled by mode, run before eval.
func SelectStages(mode Mode, run, eval func(ctx context.Context) error) []Stage {
	runStep, evalStep := mode.Steps()
	var stages []Stage
	if runStep {
		stages = append(stages, Stage{Name: StageRun, Run: run})
	}
	if evalStep {
		stages = append(stages, Stage{Name: StageEval, Run: eval})
	}
	return stages
}

// Execute runs every stage until one fails or ctx is cancelled. A failure is
// reported on stderr and recorded as exit status 1; a cancelled stage is not.
func (r *StageRunner) Execute(ctx context.Context) error {
	for _, st := range r.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.logger.StageStart(st.Name)
		err := st.Run(ctx)
		r.logger.StageEnd(st.Name, err)
		if err != nil && ctx.Err() != nil {
			// cancelled by the signal path, which reports and exits itself
			return err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			r.logger.Error(st.Name+" stage failed", err)
			r.status.Fail(1)
			return err
		}
	}
	return nil
}

// AgentArgs returns the agent command line after the command itself.
func AgentArgs(rc *RunConfiguration) []string {
	a := rc.Settings.Agent
	args := append([]string{}, substitutePort(a.Args, rc.Port)...)
	if a.PromptFlag != "" {
		args = append(args, a.PromptFlag)
	}
	args = append(args, rc.Prompt)
	if a.ModelFlag != "" {
		args = append(args, a.ModelFlag, rc.Model)
	}
	return args
}

// runAgent is the run stage: the coding agent runs to completion attached to
// the terminal.
func runAgent(ctx context.Context, rc *RunConfiguration, cleanup *CleanupCoordinator, logger *RunLogger) error {
	a := rc.Settings.Agent
	args := AgentArgs(rc)
	logger.LogPrint("Running agent: %s %s\n", a.Command, strings.Join(args, " "))

	code, err := RunForeground(ctx, ProcessSpec{
		Name:    "agent",
		Command: a.Command,
		Args:    args,
		Dir:     rc.WorkDir,
		Stdin:   os.Stdin,
	}, cleanup, logger)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("agent exited with code %d", code)
	}
	return nil
}

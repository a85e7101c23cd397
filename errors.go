package main

import (
	"fmt"
)

// SpawnError is returned when the OS refuses to create a process or the
// executable cannot be located.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// EvalHarnessError reports a non-zero exit from the evaluation harness.
type EvalHarnessError struct {
	ExitCode int
}

func (e *EvalHarnessError) Error() string {
	return fmt.Sprintf("evaluation harness exited with code %d", e.ExitCode)
}

// LogParseError describes why the harness log yielded no artifacts.
// It is never fatal.
type LogParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LogParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *LogParseError) Unwrap() error { return e.Err }

// CleanupError wraps a failure to stop a tracked process. Cleanup logs and
// swallows these.
type CleanupError struct {
	Pid int
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to stop process %d: %v", e.Pid, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

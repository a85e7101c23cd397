package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// defaultStopTimeout is how long Terminate waits after SIGTERM before SIGKILL.
const defaultStopTimeout = 5 * time.Second

// ProcessSpec describes a child process to start.
type ProcessSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string

	// nil means inherit the parent's stream
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Group starts the child in its own process group so Terminate reaches
	// everything it forks.
	Group       bool
	StopTimeout time.Duration

	// Sinks are closed once the child has been started (the child holds its
	// own descriptors).
	Sinks []io.Closer
}

// ProcessHandle wraps a started OS process. A single reaper goroutine waits
// on it; every other method reads the cached result.
type ProcessHandle struct {
	name        string
	cmd         *exec.Cmd
	group       bool
	stopTimeout time.Duration

	done     chan struct{}
	exitCode int
	waitErr  error

	termOnce sync.Once
}

// Spawn starts the process described by spec.
func Spawn(spec ProcessSpec) (*ProcessHandle, error) {
	defer closeSinks(spec.Sinks)

	name := spec.Name
	if name == "" {
		name = spec.Command
	}
	// a relative command is resolved against spec.Dir by Start, and a bare
	// name missing from PATH surfaces from Start as well
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if spec.Group {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	stopTimeout := spec.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}

	h := &ProcessHandle{
		name:        name,
		cmd:         cmd,
		group:       spec.Group,
		stopTimeout: stopTimeout,
		done:        make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

func closeSinks(sinks []io.Closer) {
	for _, s := range sinks {
		if s != nil {
			s.Close()
		}
	}
}

func (h *ProcessHandle) reap() {
	err := h.cmd.Wait()
	h.exitCode = exitCodeFromWait(h.cmd, err)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		h.waitErr = err
	}
	close(h.done)
}

// exitCodeFromWait maps a Wait result to a shell-style exit code.
// Signal deaths become 128+signo.
func exitCodeFromWait(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState == nil {
		if err != nil {
			return -1
		}
		return 0
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return cmd.ProcessState.ExitCode()
}

// Name returns the display name of the process.
func (h *ProcessHandle) Name() string { return h.name }

// Pid returns the OS process id.
func (h *ProcessHandle) Pid() int { return h.cmd.Process.Pid }

// IsAlive reports whether the process has not yet exited. Never blocks.
func (h *ProcessHandle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process has exited and been reaped.
func (h *ProcessHandle) Done() <-chan struct{} { return h.done }

// AwaitExit blocks until the process exits and returns its exit code.
// Returns immediately once the process has been reaped.
func (h *ProcessHandle) AwaitExit() int {
	<-h.done
	return h.exitCode
}

// AwaitExitContext is AwaitExit with a cancellation point.
func (h *ProcessHandle) AwaitExitContext(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.exitCode, h.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Terminate asks the process to stop with SIGTERM and escalates to SIGKILL
// after the stop timeout. It is a no-op once the process has exited.
func (h *ProcessHandle) Terminate() error {
	if !h.IsAlive() {
		return nil
	}
	var err error
	h.termOnce.Do(func() {
		err = h.signal(unix.SIGTERM)
		if err != nil {
			return
		}
		go func() {
			select {
			case <-h.done:
			case <-time.After(h.stopTimeout):
				h.signal(unix.SIGKILL)
			}
		}()
	})
	return err
}

// Kill sends SIGKILL immediately.
func (h *ProcessHandle) Kill() error {
	if !h.IsAlive() {
		return nil
	}
	return h.signal(unix.SIGKILL)
}

func (h *ProcessHandle) signal(sig syscall.Signal) error {
	pid := h.cmd.Process.Pid
	if h.group {
		pid = -pid
	}
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// already gone
		return nil
	}
	return err
}

// RunForeground starts spec and waits for it to exit. The handle is
// registered with the coordinator while it runs so a signal can stop it.
// Cancelling ctx terminates the process.
func RunForeground(ctx context.Context, spec ProcessSpec, cleanup *CleanupCoordinator, logger *RunLogger) (int, error) {
	h, err := Spawn(spec)
	if err != nil {
		return -1, err
	}
	if cleanup != nil {
		cleanup.SetForeground(h)
		defer cleanup.ClearForeground()
	}
	logger.ProcessStart(h.Name(), append([]string{spec.Command}, spec.Args...), h.Pid())

	start := time.Now()
	code, err := h.AwaitExitContext(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.Terminate()
		code = h.AwaitExit()
	}
	logger.ProcessExit(h.Name(), code, time.Since(start).Nanoseconds())
	return code, err
}

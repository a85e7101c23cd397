package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ExitStatus holds the process exit code chosen so far. Stages set it on
// failure; the signal path reads it.
type ExitStatus struct {
	mu   sync.Mutex
	code int
}

// Fail records a non-zero exit code. The first failure wins.
func (s *ExitStatus) Fail(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == 0 {
		s.code = code
	}
}

// Code returns the recorded exit code.
func (s *ExitStatus) Code() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// signalExitCode maps a received signal to the exit code used for it:
// 130 for SIGINT, 0 for SIGTERM, unless an earlier failure already set one.
func signalExitCode(sig os.Signal, current int) int {
	if current != 0 {
		return current
	}
	if sig == os.Interrupt || sig == syscall.SIGINT {
		return 130
	}
	return 0
}

// SignalGuard turns SIGINT/SIGTERM into cancellation of the run context,
// a full cleanup and an exit with the mapped code.
type SignalGuard struct {
	cleanup *CleanupCoordinator
	status  *ExitStatus
	cancel  context.CancelFunc
	logger  *RunLogger

	// exit is os.Exit outside of tests
	exit func(int)

	sigCh    chan os.Signal
	stopCh   chan struct{}
	loopDone chan struct{}
	once     sync.Once
	code     int
	caught   chan struct{}
	handled  chan struct{}
}

// NewSignalGuard creates a guard. cancel is called before cleanup so blocked
// awaits return promptly.
func NewSignalGuard(cleanup *CleanupCoordinator, status *ExitStatus, cancel context.CancelFunc) *SignalGuard {
	return &SignalGuard{
		cleanup: cleanup,
		status:  status,
		cancel:  cancel,
		exit:    os.Exit,
		sigCh:   make(chan os.Signal, 1),
		stopCh:  make(chan struct{}),
		caught:  make(chan struct{}),
		handled: make(chan struct{}),
	}
}

// SetLogger attaches the run logger.
func (g *SignalGuard) SetLogger(l *RunLogger) { g.logger = l }

// Start registers for SIGINT and SIGTERM.
func (g *SignalGuard) Start() {
	signal.Notify(g.sigCh, syscall.SIGINT, syscall.SIGTERM)
	g.loopDone = make(chan struct{})
	go func() {
		defer close(g.loopDone)
		select {
		case sig := <-g.sigCh:
			g.handle(sig)
		case <-g.stopCh:
			// a signal delivered before Stop still wins
			select {
			case sig := <-g.sigCh:
				g.handle(sig)
			default:
			}
		}
	}()
}

// Stop unregisters the handlers and waits until a signal caught before it
// has been handled to completion. Afterwards Interrupted is final.
func (g *SignalGuard) Stop() {
	signal.Stop(g.sigCh)
	select {
	case <-g.stopCh:
	default:
		close(g.stopCh)
	}
	if g.loopDone != nil {
		<-g.loopDone
	}
}

// Interrupted reports whether a signal has been caught.
func (g *SignalGuard) Interrupted() bool {
	select {
	case <-g.caught:
		return true
	default:
		return false
	}
}

// Wait blocks until a caught signal has been fully handled. In production
// the handler exits the process, so this never returns.
func (g *SignalGuard) Wait() {
	<-g.handled
}

// ExitCode returns the code a caught signal mapped to. Only meaningful
// after Wait returns.
func (g *SignalGuard) ExitCode() int {
	return g.code
}

func (g *SignalGuard) handle(sig os.Signal) {
	g.once.Do(func() {
		code := signalExitCode(sig, g.status.Code())
		g.code = code
		close(g.caught)

		fmt.Fprintf(os.Stderr, "\n\nReceived %v. Cleaning up and exiting...\n", sig)
		if g.logger != nil {
			g.logger.Signal(sig.String(), code)
		}
		if g.cancel != nil {
			g.cancel()
		}
		g.cleanup.Cleanup()
		if g.logger != nil {
			g.logger.RunEnd(code == 0, "interrupted by "+sig.String())
			g.logger.Close()
		}
		g.exit(code)
		close(g.handled)
	})
}

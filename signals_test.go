package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSignalExitCode(t *testing.T) {
	tests := []struct {
		name    string
		sig     os.Signal
		current int
		want    int
	}{
		{"interrupt", syscall.SIGINT, 0, 130},
		{"os.Interrupt", os.Interrupt, 0, 130},
		{"terminate", syscall.SIGTERM, 0, 0},
		{"interrupt after failure", syscall.SIGINT, 1, 1},
		{"terminate after failure", syscall.SIGTERM, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signalExitCode(tt.sig, tt.current); got != tt.want {
				t.Errorf("signalExitCode(%v, %d) = %d, want %d", tt.sig, tt.current, got, tt.want)
			}
		})
	}
}

func TestExitStatus_FirstFailureWins(t *testing.T) {
	var s ExitStatus
	if s.Code() != 0 {
		t.Fatal("zero value should be 0")
	}
	s.Fail(1)
	s.Fail(2)
	if s.Code() != 1 {
		t.Errorf("Code() = %d, want 1", s.Code())
	}
}

// newTestGuard returns a guard whose exit records the code instead of
// exiting.
func newTestGuard(c *CleanupCoordinator, status *ExitStatus, cancel context.CancelFunc) (*SignalGuard, chan int) {
	g := NewSignalGuard(c, status, cancel)
	exited := make(chan int, 1)
	g.exit = func(code int) { exited <- code }
	return g, exited
}

func TestSignalGuard_InterruptStopsDevServer(t *testing.T) {
	c := NewCleanupCoordinator()
	server := spawnSleeper(t)
	if err := c.Track(server); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, exited := newTestGuard(c, &ExitStatus{}, cancel)

	g.handle(syscall.SIGINT)

	if code := <-exited; code != 130 {
		t.Errorf("exit code = %d, want 130", code)
	}
	if ctx.Err() == nil {
		t.Error("run context should be cancelled")
	}
	if server.IsAlive() {
		t.Error("dev server should be dead after the signal path")
	}
	if !g.Interrupted() {
		t.Error("Interrupted() should report true")
	}
	g.Wait()
	if g.ExitCode() != 130 {
		t.Errorf("ExitCode() = %d, want 130", g.ExitCode())
	}
}

func TestSignalGuard_TerminateExitsZero(t *testing.T) {
	g, exited := newTestGuard(NewCleanupCoordinator(), &ExitStatus{}, func() {})
	g.handle(syscall.SIGTERM)
	if code := <-exited; code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestSignalGuard_KeepsEarlierFailure(t *testing.T) {
	status := &ExitStatus{}
	status.Fail(1)
	g, exited := newTestGuard(NewCleanupCoordinator(), status, func() {})
	g.handle(syscall.SIGTERM)
	if code := <-exited; code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestSignalGuard_HandlesOnce(t *testing.T) {
	g, exited := newTestGuard(NewCleanupCoordinator(), &ExitStatus{}, func() {})
	g.handle(syscall.SIGINT)
	g.handle(syscall.SIGTERM)
	<-exited
	select {
	case code := <-exited:
		t.Errorf("exit called twice, second code %d", code)
	default:
	}
}

func TestSignalGuard_DeliveredSignal(t *testing.T) {
	c := NewCleanupCoordinator()
	server := spawnSleeper(t)
	c.Track(server)

	g, exited := newTestGuard(c, &ExitStatus{}, func() {})
	g.Start()
	defer g.Stop()

	syscall.Kill(os.Getpid(), syscall.SIGTERM)

	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("signal was not handled")
	}
	if server.IsAlive() {
		t.Error("dev server should be dead")
	}
}

func TestSignalGuard_StopWithoutSignal(t *testing.T) {
	g, _ := newTestGuard(NewCleanupCoordinator(), &ExitStatus{}, func() {})
	g.Start()
	g.Stop()
	g.Stop()
	if g.Interrupted() {
		t.Error("no signal was sent")
	}
}

func TestSignalGuard_StopHandlesPendingSignal(t *testing.T) {
	c := NewCleanupCoordinator()
	server := spawnSleeper(t)
	c.Track(server)

	g, exited := newTestGuard(c, &ExitStatus{}, func() {})
	g.Start()
	g.sigCh <- syscall.SIGINT
	g.Stop()

	// Stop returns only after the pending signal was handled
	if !g.Interrupted() {
		t.Fatal("a signal caught before Stop must be reported")
	}
	select {
	case code := <-exited:
		if code != 130 {
			t.Errorf("exit code = %d, want 130", code)
		}
	default:
		t.Fatal("exit should have been called before Stop returned")
	}
	if server.IsAlive() {
		t.Error("dev server should be dead")
	}
}

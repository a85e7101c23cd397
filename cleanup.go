package main

import (
	"fmt"
	"os"
	"sync"
)

// CleanupCoordinator owns the tracked background process slot and tears it
// down. The normal exit path, the error path and the signal path all call the
// same Cleanup; the mutex serializes them so the second caller finds an empty
// slot.
type CleanupCoordinator struct {
	mu         sync.Mutex
	tracked    *ProcessHandle
	foreground *ProcessHandle
	logger     *RunLogger
	lock       *LockFile
}

// NewCleanupCoordinator creates a new cleanup coordinator.
func NewCleanupCoordinator() *CleanupCoordinator {
	return &CleanupCoordinator{}
}

// Track stores the background process. Only one may be tracked at a time.
func (c *CleanupCoordinator) Track(h *ProcessHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracked != nil && c.tracked.IsAlive() {
		return fmt.Errorf("background process %s (PID %d) is already tracked", c.tracked.Name(), c.tracked.Pid())
	}
	c.tracked = h
	return nil
}

// Tracked returns the tracked background process, or nil.
func (c *CleanupCoordinator) Tracked() *ProcessHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked
}

// SetForeground registers the in-flight foreground process so a signal can
// stop it too.
func (c *CleanupCoordinator) SetForeground(h *ProcessHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foreground = h
}

// ClearForeground unregisters the foreground process after it exits.
func (c *CleanupCoordinator) ClearForeground() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foreground = nil
}

// SetLogger registers the run logger.
func (c *CleanupCoordinator) SetLogger(l *RunLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
}

// SetLock registers the lock file for release.
func (c *CleanupCoordinator) SetLock(lf *LockFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lock = lf
}

// Cleanup stops the foreground process if one is registered, then the
// tracked background process, then releases the lock.
// Safe to call multiple times and from multiple goroutines.
func (c *CleanupCoordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.foreground != nil {
		c.stop(c.foreground)
		c.foreground = nil
	}

	c.stopTracked()

	if c.lock != nil {
		if err := c.lock.Release(); err != nil {
			c.warn(fmt.Sprintf("failed to release lock: %v", err))
		}
		c.lock = nil
	}
}

// stopTracked is the teardown of the background slot. Caller holds mu.
func (c *CleanupCoordinator) stopTracked() {
	if c.tracked == nil {
		return
	}
	// slot is cleared no matter what stop runs into
	defer func() { c.tracked = nil }()

	h := c.tracked
	if h.IsAlive() {
		fmt.Printf("Stopping %s (PID %d)\n", h.Name(), h.Pid())
	}
	if c.stop(h) && c.logger != nil {
		c.logger.ServiceStop(h.Name(), h.AwaitExit())
	}
}

// stop terminates h and waits for it. Returns false if the process could not
// be signalled, in which case it is not awaited.
func (c *CleanupCoordinator) stop(h *ProcessHandle) bool {
	if h.IsAlive() {
		if err := h.Terminate(); err != nil {
			c.warn((&CleanupError{Pid: h.Pid(), Err: err}).Error())
			if err := h.Kill(); err != nil {
				c.warn((&CleanupError{Pid: h.Pid(), Err: err}).Error())
				return false
			}
		}
	}
	h.AwaitExit()
	return true
}

func (c *CleanupCoordinator) warn(msg string) {
	fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
	if c.logger != nil {
		c.logger.Warning(msg)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// LockInfo is what the lock file records about its owner
type LockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Mode      string    `json:"mode"`
	Port      int       `json:"port"`
}

// LockFile guards a logs directory against two concurrent runs writing the
// same artifacts.
type LockFile struct {
	path string
	info *LockInfo
}

// NewLockFile creates a lock manager for the file at path
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// Path returns the lock file location
func (lf *LockFile) Path() string { return lf.path }

// Acquire creates the lock, replacing a stale one first
func (lf *LockFile) Acquire(mode Mode, port int) error {
	if err := os.MkdirAll(filepath.Dir(lf.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if existing, err := lf.readLock(); err == nil {
		if !isLockStale(existing) {
			return fmt.Errorf("runeval is already running in this logs directory (PID %d, mode: %s, port: %d)\nStarted at: %s",
				existing.PID, existing.Mode, existing.Port, existing.StartedAt.Format(time.RFC3339))
		}
		fmt.Printf("Removing stale lock (PID %d no longer running or lock too old)\n", existing.PID)
		if err := os.Remove(lf.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	} else if !os.IsNotExist(err) {
		// unreadable or corrupt
		os.Remove(lf.path)
	}

	info := &LockInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Mode:      mode.String(),
		Port:      port,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("runeval is already running (lock acquired by another process)")
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lf.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	lf.info = info
	return nil
}

// Release removes the lock if this process still owns it. Safe to call more
// than once.
func (lf *LockFile) Release() error {
	if lf == nil || lf.info == nil {
		return nil
	}
	defer func() { lf.info = nil }()

	existing, err := lf.readLock()
	if err != nil {
		return nil
	}
	if existing.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(lf.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (lf *LockFile) readLock() (*LockInfo, error) {
	data, err := os.ReadFile(lf.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// isProcessAlive checks pid with signal 0. EPERM means it exists but belongs
// to someone else.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// maxLockAge bounds how long a lock is honoured even with a live PID, since
// PIDs get reused.
const maxLockAge = 24 * time.Hour

func isLockStale(info *LockInfo) bool {
	if !isProcessAlive(info.PID) {
		return true
	}
	return time.Since(info.StartedAt) > maxLockAge
}

// ReadLockStatus reads the lock at path without acquiring it. A missing lock
// returns nil, nil.
func ReadLockStatus(path string) (*LockInfo, error) {
	lf := NewLockFile(path)
	info, err := lf.readLock()
	if os.IsNotExist(err) {
		return nil, nil
	}
	return info, err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// errNotReady is returned by WaitReady when the ready timeout elapses.
var errNotReady = errors.New("dev server did not become ready")

// DevServer starts the background dev server and waits for it to answer.
type DevServer struct {
	name         string
	command      string
	args         []string
	dir          string
	logPath      string
	readyURL     string
	readyTimeout time.Duration
	stopTimeout  time.Duration
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewDevServer builds the dev server for rc, logging to logPath.
func NewDevServer(rc *RunConfiguration, logPath string) *DevServer {
	ds := rc.Settings.DevServer
	return &DevServer{
		name:         "dev server",
		command:      ds.Command,
		args:         substitutePort(ds.Args, rc.Port),
		dir:          rc.WorkDir,
		logPath:      logPath,
		readyURL:     rc.URL(),
		readyTimeout: time.Duration(ds.ReadyTimeout) * time.Second,
		stopTimeout:  time.Duration(ds.StopTimeout) * time.Second,
		pollInterval: 500 * time.Millisecond,
		httpClient:   &http.Client{Timeout: 2 * time.Second},
	}
}

// Argv returns the full command line.
func (d *DevServer) Argv() []string {
	return append([]string{d.command}, d.args...)
}

// Start spawns the dev server in its own process group with stdout and
// stderr both appended to the dev server log, and hands it to cleanup as the
// tracked process before returning.
func (d *DevServer) Start(cleanup *CleanupCoordinator) (*ProcessHandle, error) {
	sink, err := os.OpenFile(d.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dev server log: %w", err)
	}

	h, err := Spawn(ProcessSpec{
		Name:        d.name,
		Command:     d.command,
		Args:        d.args,
		Dir:         d.dir,
		Stdout:      sink,
		Stderr:      sink,
		Group:       true,
		StopTimeout: d.stopTimeout,
		Sinks:       []io.Closer{sink},
	})
	if err != nil {
		return nil, err
	}

	if err := cleanup.Track(h); err != nil {
		h.Terminate()
		h.AwaitExit()
		return nil, err
	}
	return h, nil
}

// WaitReady polls the dev server URL until it answers, the process exits,
// or the ready timeout elapses (errNotReady). A zero timeout skips the wait.
func (d *DevServer) WaitReady(ctx context.Context, h *ProcessHandle) error {
	if d.readyTimeout <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if d.isReady(ctx) {
			return nil
		}
		select {
		case <-h.Done():
			return fmt.Errorf("dev server exited with code %d before becoming ready\n\n--- %s (last 20 lines) ---\n%s",
				h.AwaitExit(), d.logPath, tailFile(d.logPath, 20))
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errNotReady
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// isReady checks if the URL is responding
func (d *DevServer) isReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.readyURL, nil)
	if err != nil {
		return false
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// tailFile returns the last maxLines lines of the file at path.
func tailFile(path string, maxLines int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func shSpec(name, script string) ProcessSpec {
	return ProcessSpec{Name: name, Command: "sh", Args: []string{"-c", script}}
}

func TestSpawn_ExitCodes(t *testing.T) {
	tests := []struct {
		script string
		want   int
	}{
		{"exit 0", 0},
		{"exit 1", 1},
		{"exit 42", 42},
		{"kill -TERM $$", 128 + 15},
		{"kill -KILL $$", 128 + 9},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			h, err := Spawn(shSpec("test", tt.script))
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			if got := h.AwaitExit(); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProcessHandle_AwaitExitTwice(t *testing.T) {
	h, err := Spawn(shSpec("test", "exit 3"))
	if err != nil {
		t.Fatal(err)
	}
	if code := h.AwaitExit(); code != 3 {
		t.Fatalf("first await = %d", code)
	}

	done := make(chan int, 1)
	go func() { done <- h.AwaitExit() }()
	select {
	case code := <-done:
		if code != 3 {
			t.Errorf("second await = %d, want cached 3", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second AwaitExit blocked")
	}
	if h.IsAlive() {
		t.Error("exited process reported alive")
	}
}

func TestSpawn_MissingBinary(t *testing.T) {
	_, err := Spawn(ProcessSpec{Name: "ghost", Command: "runeval-no-such-binary"})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %v", err)
	}
	if spawnErr.Command != "runeval-no-such-binary" {
		t.Errorf("Command = %q", spawnErr.Command)
	}
}

func TestSpawn_RelativeCommandResolvesAgainstDir(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "dev.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 7\n"), 0755); err != nil {
		t.Fatal(err)
	}
	// run from somewhere else, like runeval started in a subdirectory
	t.Chdir(t.TempDir())

	h, err := Spawn(ProcessSpec{Name: "dev", Command: "./dev.sh", Dir: dir})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if code := h.AwaitExit(); code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestSpawn_MissingRelativeCommand(t *testing.T) {
	_, err := Spawn(ProcessSpec{Command: "./missing.sh", Dir: t.TempDir()})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %v", err)
	}
}

func TestSpawn_MissingDirectory(t *testing.T) {
	spec := shSpec("test", "exit 0")
	spec.Dir = filepath.Join(t.TempDir(), "missing")
	_, err := Spawn(spec)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %v", err)
	}
}

func TestProcessHandle_Terminate(t *testing.T) {
	spec := shSpec("sleeper", "sleep 30")
	spec.Group = true
	h, err := Spawn(spec)
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsAlive() {
		t.Fatal("process should be alive")
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Terminate")
	}
	if code := h.AwaitExit(); code != 128+15 {
		t.Errorf("exit code = %d, want %d", code, 128+15)
	}
}

func TestProcessHandle_TerminateEscalates(t *testing.T) {
	spec := shSpec("stubborn", "trap '' TERM; while :; do sleep 0.1; done")
	spec.StopTimeout = 200 * time.Millisecond
	h, err := Spawn(spec)
	if err != nil {
		t.Fatal(err)
	}
	// let the trap install
	time.Sleep(200 * time.Millisecond)
	h.Terminate()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("SIGKILL escalation did not happen")
	}
	if code := h.AwaitExit(); code != 128+9 {
		t.Errorf("exit code = %d, want %d", code, 128+9)
	}
}

func TestProcessHandle_TerminateExited(t *testing.T) {
	h, err := Spawn(shSpec("test", "exit 0"))
	if err != nil {
		t.Fatal(err)
	}
	h.AwaitExit()
	if err := h.Terminate(); err != nil {
		t.Errorf("Terminate on exited process: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Errorf("Kill on exited process: %v", err)
	}
}

func TestSpawn_RedirectsOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	spec := shSpec("echo", "echo out; echo err >&2")
	spec.Stdout = f
	spec.Stderr = f
	spec.Sinks = []io.Closer{f}

	h, err := Spawn(spec)
	if err != nil {
		t.Fatal(err)
	}
	h.AwaitExit()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "out") || !strings.Contains(string(data), "err") {
		t.Errorf("log missing output: %q", data)
	}
}

func TestRunForeground_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCleanupCoordinator()

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code, err := RunForeground(ctx, shSpec("sleeper", "sleep 30"), c, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if code == 0 {
		t.Error("cancelled process should not exit 0")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("RunForeground did not return promptly after cancel")
	}
}

func TestRunForeground_ExitCode(t *testing.T) {
	code, err := RunForeground(context.Background(), shSpec("test", "exit 7"), NewCleanupCoordinator(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Errorf("code = %d, want 7", code)
	}
}

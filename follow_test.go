package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatal(err)
	}
}

func TestHarnessFollower_PartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ollie.log")
	os.WriteFile(path, nil, 0644)

	var out bytes.Buffer
	f := NewHarnessFollower(path, nil, &out)

	appendFile(t, path, `{"parts":[{"type":"text"}]}`+"\n"+`{"parts":[{"type":"te`)
	f.drain()
	if f.Lines() != 1 {
		t.Fatalf("Lines() = %d, want 1", f.Lines())
	}

	appendFile(t, path, `xt"},{"type":"tool-take_screenshot"}]}`+"\n")
	f.drain()
	if f.Lines() != 2 {
		t.Fatalf("Lines() = %d, want 2", f.Lines())
	}
	if !strings.Contains(out.String(), "◆ take_screenshot") {
		t.Errorf("expected the new tool part to be announced, got %q", out.String())
	}
}

func TestHarnessFollower_AnnouncesOnlyNewParts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ollie.log")
	os.WriteFile(path, nil, 0644)

	var out bytes.Buffer
	f := NewHarnessFollower(path, nil, &out)

	appendFile(t, path, `{"parts":[{"type":"tool-navigate"}]}`+"\n")
	appendFile(t, path, `{"parts":[{"type":"tool-navigate"},{"type":"tool-attemptCompletion"}]}`+"\n")
	f.drain()

	if n := strings.Count(out.String(), "◆ navigate"); n != 1 {
		t.Errorf("navigate announced %d times, want 1: %q", n, out.String())
	}
	if !strings.Contains(out.String(), "◆ attemptCompletion") {
		t.Errorf("missing attemptCompletion: %q", out.String())
	}
}

func TestHarnessFollower_IgnoresNoise(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ollie.log")
	os.WriteFile(path, []byte("plain text\n\n{not json}\n"), 0644)

	var out bytes.Buffer
	f := NewHarnessFollower(path, nil, &out)
	f.drain()

	if f.Lines() != 2 {
		t.Errorf("Lines() = %d, want 2 (blank lines skipped)", f.Lines())
	}
	if out.Len() != 0 {
		t.Errorf("nothing should be announced, got %q", out.String())
	}
}

func TestHarnessFollower_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ollie.log")
	os.WriteFile(path, []byte(`{"parts":[]}`+"\n"+`{"parts":[]}`+"\n"), 0644)

	f := NewHarnessFollower(path, nil, nil)
	f.drain()
	if f.Lines() != 2 {
		t.Fatalf("Lines() = %d", f.Lines())
	}

	os.WriteFile(path, []byte(`{"parts":[]}`+"\n"), 0644)
	f.drain()
	if f.Lines() != 3 {
		t.Errorf("Lines() = %d, want 3 after truncate and rewrite", f.Lines())
	}
}

func TestHarnessFollower_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ollie.log")
	os.WriteFile(path, nil, 0644)

	f := NewHarnessFollower(path, nil, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 5; i++ {
		appendFile(t, path, `{"parts":[{"type":"text"}]}`+"\n")
	}
	f.Stop()

	if f.Lines() != 5 {
		t.Errorf("Lines() = %d, want 5 after Stop drains", f.Lines())
	}
}

func TestHarnessFollower_StartMissingFile(t *testing.T) {
	f := NewHarnessFollower(filepath.Join(t.TempDir(), "missing.log"), nil, nil)
	if err := f.Start(context.Background()); err == nil {
		t.Error("expected error for a missing file")
	}
	f.Stop()
}
